package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

type mapLoader map[h5p.LibraryRef]*h5p.Library

func (m mapLoader) LoadLibrary(ctx context.Context, ref h5p.LibraryRef) (*h5p.Library, error) {
	lib, ok := m[ref]
	if !ok {
		return nil, h5p.ErrLibraryNotFound
	}
	return lib, nil
}

func lib(name string, preloaded ...h5p.LibraryRef) *h5p.Library {
	return &h5p.Library{MachineName: name, MajorVersion: 1, MinorVersion: 0, PreloadedDependencies: preloaded}
}

func ref(name string) h5p.LibraryRef {
	return h5p.LibraryRef{MachineName: name, MajorVersion: 1, MinorVersion: 0}
}

func TestFindDependenciesWeights(t *testing.T) {
	c := lib("C")
	b := lib("B", ref("C"))
	a := lib("A", ref("B"))
	loader := mapLoader{ref("A"): a, ref("B"): b, ref("C"): c}

	deps := New(loader).Resolve(context.Background(), a)
	require.Len(t, deps, 3)

	wa := deps["preloaded-A"].Weight
	wb := deps["preloaded-B"].Weight
	wc := deps["preloaded-C"].Weight
	assert.Less(t, wc, wb)
	assert.Less(t, wb, wa)

	ordered := deps.Ordered()
	assert.Equal(t, "C", ordered[0].Library.MachineName)
	assert.Equal(t, "A", ordered[2].Library.MachineName)
}

func TestFindDependenciesSharedAndCycles(t *testing.T) {
	shared := lib("Shared")
	x := lib("X", ref("Shared"))
	y := lib("Y", ref("Shared"), ref("X"))
	// cycle back to the root
	shared.PreloadedDependencies = []h5p.LibraryRef{ref("Y")}
	loader := mapLoader{ref("Shared"): shared, ref("X"): x, ref("Y"): y}

	deps := New(loader).Resolve(context.Background(), y)
	require.Len(t, deps, 3)
	assert.Less(t, deps["preloaded-Shared"].Weight, deps["preloaded-X"].Weight)
	assert.Less(t, deps["preloaded-X"].Weight, deps["preloaded-Y"].Weight)
}

func TestFindDependenciesEditorMode(t *testing.T) {
	widget := lib("Widget")
	editor := lib("H5PEditor.Thing", ref("Widget"))
	root := &h5p.Library{MachineName: "Thing", MajorVersion: 1, EditorDependencies: []h5p.LibraryRef{ref("H5PEditor.Thing")}}
	loader := mapLoader{ref("Widget"): widget, ref("H5PEditor.Thing"): editor}

	deps := h5p.Dependencies{}
	max := New(loader).FindDependencies(context.Background(), deps, root, 0, false)
	assert.Equal(t, 2, max)
	require.Contains(t, deps, "editor-H5PEditor.Thing")
	require.Contains(t, deps, "editor-Widget")
	assert.NotContains(t, deps, "preloaded-Widget")
	assert.Equal(t, h5p.DependencyEditor, deps["editor-Widget"].Type)
}

func TestFindDependenciesMissing(t *testing.T) {
	a := lib("A", ref("Gone"), ref("B"))
	b := lib("B")
	var diags h5p.Diagnostics
	r := New(mapLoader{ref("B"): b}, WithDiagnostics(&diags))

	deps := h5p.Dependencies{}
	max := r.FindDependencies(context.Background(), deps, a, 0, false)
	assert.Equal(t, 1, max)
	assert.Contains(t, deps, "preloaded-B")
	assert.Equal(t, 1, diags.Len())
	assert.False(t, diags.HasErrors())
	assert.Equal(t, h5p.KindDependency, diags.Items()[0].Kind)
}

func TestFindDependenciesDynamicFirst(t *testing.T) {
	d := lib("D")
	p := lib("P")
	root := &h5p.Library{MachineName: "R", PreloadedDependencies: []h5p.LibraryRef{ref("P")}, DynamicDependencies: []h5p.LibraryRef{ref("D")}}
	deps := h5p.Dependencies{}
	New(mapLoader{ref("D"): d, ref("P"): p}).FindDependencies(context.Background(), deps, root, 0, false)
	assert.Equal(t, 1, deps["dynamic-D"].Weight)
	assert.Equal(t, 2, deps["preloaded-P"].Weight)
}
