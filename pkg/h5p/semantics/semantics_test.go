package semantics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
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

func field(t *testing.T, raw string) *Field {
	t.Helper()
	var f Field
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return &f
}

func params(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func newValidator(diags *h5p.Diagnostics) *Validator {
	return NewValidator(mapLoader{}, diags)
}

func TestValidateNumber(t *testing.T) {
	tests := []struct {
		name  string
		field string
		in    any
		want  float64
	}{
		{"step aligned down", `{"type":"number","min":0,"max":10,"step":3}`, 8.0, 6},
		{"clamped to max then stepped", `{"type":"number","min":0,"max":10,"step":3}`, 12.0, 9},
		{"clamped to min", `{"type":"number","min":0,"max":10}`, -5.0, 0},
		{"step relative to min", `{"type":"number","min":1,"step":2}`, 4.0, 3},
		{"negative stepped down", `{"type":"number","step":3}`, -7.0, -9},
		{"negative below max stepped down", `{"type":"number","max":10,"step":3}`, -1.0, -3},
		{"negative aligned", `{"type":"number","step":3}`, -6.0, -6},
		{"decimals rounded", `{"type":"number","decimals":1}`, 1.26, 1.3},
		{"truncated without decimals", `{"type":"number"}`, 3.7, 3},
		{"not a number", `{"type":"number","min":2}`, "abc", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(nil)
			got, keep := v.Validate(context.Background(), tt.in, field(t, tt.field))
			assert.True(t, keep)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestValidateSelect(t *testing.T) {
	ctx := context.Background()
	strict := `{"name":"s","type":"select","options":[{"value":"a","label":"A"},{"value":"b","label":"B"}]}`

	var diags h5p.Diagnostics
	v := newValidator(&diags)
	got, keep := v.Validate(ctx, "c", field(t, strict))
	assert.True(t, keep)
	assert.Equal(t, "a", got)
	assert.Equal(t, 1, diags.Len())

	got, _ = v.Validate(ctx, []any{"b", "a"}, field(t, strict))
	assert.Equal(t, "b", got)

	got, _ = v.Validate(ctx, "c", field(t, `{"type":"select","optional":true,"options":[{"value":"a"}]}`))
	assert.Equal(t, "c", got)

	got, _ = v.Validate(ctx, "<x>", field(t, `{"type":"select"}`))
	assert.Equal(t, "&lt;x&gt;", got)

	got, _ = v.Validate(ctx, []any{"a", "c", "b"}, field(t, `{"type":"select","multiple":true,"options":[{"value":"a"},{"value":"b"}]}`))
	assert.Equal(t, []any{"a", "b"}, got)

	got, _ = v.Validate(ctx, "b", field(t, `{"type":"select","multiple":true,"options":[{"value":"a"},{"value":"b"}]}`))
	assert.Equal(t, []any{"b"}, got)

	got, _ = v.Validate(ctx, 2.0, field(t, `{"type":"select","options":[{"value":1},{"value":2}]}`))
	assert.Equal(t, "2", got)
}

func TestValidateText(t *testing.T) {
	ctx := context.Background()
	v := newValidator(nil)

	got, _ := v.Validate(ctx, "<b>hi</b>", field(t, `{"type":"text"}`))
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", got)

	got, _ = v.Validate(ctx, `<strong>hi</strong><script>alert(1)</script><em>x</em>`, field(t, `{"type":"text","tags":["strong"]}`))
	assert.Equal(t, "<strong>hi</strong>x", got)

	got, _ = v.Validate(ctx, `<p style="text-align: center; color: red">x</p>`, field(t, `{"type":"text","tags":["p"]}`))
	assert.Contains(t, got, "text-align")
	assert.NotContains(t, got, "color")

	got, _ = v.Validate(ctx, "abcdef", field(t, `{"type":"text","maxLength":3}`))
	assert.Equal(t, "abc", got)

	got, _ = v.Validate(ctx, 42.0, field(t, `{"type":"text"}`))
	assert.Equal(t, "", got)
}

func TestValidateTextRegexp(t *testing.T) {
	ctx := context.Background()
	var diags h5p.Diagnostics
	v := newValidator(&diags)
	f := field(t, `{"type":"text","regexp":{"pattern":"^http[s]?://.+","modifiers":"i"}}`)

	got, _ := v.Validate(ctx, "HTTPS://example.com", f)
	assert.Equal(t, "HTTPS://example.com", got)
	assert.Equal(t, 0, diags.Len())

	got, _ = v.Validate(ctx, "ftp://example.com", f)
	assert.Equal(t, "", got)
	assert.Equal(t, 1, diags.Len())
}

func TestAllowedTags(t *testing.T) {
	tags := AllowedTags([]string{"table", "b", "i", "ol", "strike"})
	for _, want := range []string{"div", "span", "p", "br", "tr", "td", "th", "colgroup", "thead", "tbody", "tfoot", "strong", "em", "li", "s"} {
		assert.Contains(t, tags, want)
	}
	assert.NotContains(t, AllowedTags([]string{"u"}), "li")
}

func TestValidateBooleanAndList(t *testing.T) {
	ctx := context.Background()
	var diags h5p.Diagnostics
	v := newValidator(&diags)

	_, keep := v.Validate(ctx, "yes", field(t, `{"type":"boolean"}`))
	assert.False(t, keep)
	got, keep := v.Validate(ctx, true, field(t, `{"type":"boolean"}`))
	assert.True(t, keep)
	assert.Equal(t, true, got)

	list := field(t, `{"type":"list","field":{"type":"number","max":5}}`)
	got, keep = v.Validate(ctx, []any{1.0, 9.0}, list)
	assert.True(t, keep)
	assert.Equal(t, []any{1.0, 5.0}, got)

	_, keep = v.Validate(ctx, []any{}, list)
	assert.False(t, keep)
	_, keep = v.Validate(ctx, "nope", list)
	assert.False(t, keep)
}

func TestValidateGroup(t *testing.T) {
	ctx := context.Background()
	var diags h5p.Diagnostics
	v := newValidator(&diags)

	flat := field(t, `{"type":"group","fields":[{"name":"only","type":"text"}]}`)
	got, _ := v.Validate(ctx, "<i>", flat)
	assert.Equal(t, "&lt;i&gt;", got)

	group := field(t, `{"type":"group","fields":[
		{"name":"title","type":"text"},
		{"name":"count","type":"number"},
		{"name":"note","type":"text","optional":true}
	]}`)
	got, keep := v.Validate(ctx, params(t, `{"title":"x","unknown":"drop me"}`), group)
	require.True(t, keep)
	assert.Equal(t, map[string]any{"title": "x"}, got)
	require.Equal(t, 1, diags.Len())
	assert.Contains(t, diags.Items()[0].Message, "count")

	optional := field(t, `{"type":"group","optional":true,"fields":[{"name":"a","type":"text"},{"name":"b","type":"text"}]}`)
	_, _ = v.Validate(ctx, map[string]any{}, optional)
	assert.Equal(t, 1, diags.Len())
}

func TestValidateFile(t *testing.T) {
	ctx := context.Background()
	var diags h5p.Diagnostics
	v := newValidator(&diags)

	image := field(t, `{"name":"img","type":"image"}`)
	got, keep := v.Validate(ctx, params(t, `{
		"path":"../../12/images/a.png","mime":"image/png","width":"100","height":50,
		"evil":"<script>","copyright":{"license":"CC BY","source":"ftp://x"}}`), image)
	require.True(t, keep)
	out := got.(map[string]any)
	assert.Equal(t, "images/a.png", out["path"])
	assert.Equal(t, 100, out["width"])
	assert.Equal(t, 50, out["height"])
	assert.NotContains(t, out, "evil")
	assert.Equal(t, map[string]any{"license": "CC BY", "source": ""}, out["copyright"])

	_, keep = v.Validate(ctx, params(t, `{"path":"../etc/passwd"}`), image)
	assert.False(t, keep)

	got, keep = v.Validate(ctx, params(t, `{"path":"https://example.com/a.png"}`), image)
	require.True(t, keep)
	assert.Equal(t, "https://example.com/a.png", got.(map[string]any)["path"])

	video := field(t, `{"name":"vid","type":"video"}`)
	got, keep = v.Validate(ctx, params(t, `[
		{"path":"videos/a.mp4","quality":{"level":1,"label":"<HD>"},"codecs":"avc1"},
		{"path":"/abs.mp4"},
		{"path":"videos/b.mp4","quality":{"label":"no level"}}
	]`), video)
	require.True(t, keep)
	variants := got.([]any)
	require.Len(t, variants, 2)
	assert.Equal(t, map[string]any{"level": 1, "label": "&lt;HD&gt;"}, variants[0].(map[string]any)["quality"])
	assert.NotContains(t, variants[1].(map[string]any), "quality")

	_, keep = v.Validate(ctx, params(t, `{"path":"a.mp3"}`), field(t, `{"type":"audio"}`))
	assert.False(t, keep)
}

func TestSandboxPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"images/a.png", "images/a.png", true},
		{"../../5/images/a.png", "images/a.png", true},
		{"../content/editor/images/a.png", "images/a.png", true},
		{"../x.png", "../x.png", false},
		{"/etc/passwd", "/etc/passwd", false},
		{"images/../../x", "images/../../x", false},
		{"https://cdn.example.com/x.png", "https://cdn.example.com/x.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := SandboxPath(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func testLibraries() mapLoader {
	text := &h5p.Library{
		MachineName: "H5P.Text", MajorVersion: 1, MinorVersion: 1,
		Semantics: json.RawMessage(`[{"name":"text","type":"text","tags":["strong"]}]`),
	}
	ui := &h5p.Library{MachineName: "H5P.JoubelUI", MajorVersion: 1, MinorVersion: 3}
	column := &h5p.Library{
		MachineName: "H5P.Column", MajorVersion: 1, MinorVersion: 0,
		PreloadedDependencies: []h5p.LibraryRef{ui.Ref()},
		Semantics: json.RawMessage(`[
			{"name":"content","type":"list","field":{"name":"item","type":"library","options":["H5P.Text 1.1"]}},
			{"name":"title","type":"text"}
		]`),
	}
	return mapLoader{text.Ref(): text, ui.Ref(): ui, column.Ref(): column}
}

func TestValidateContent(t *testing.T) {
	ctx := context.Background()
	var diags h5p.Diagnostics
	v := NewValidator(testLibraries(), &diags)

	in := params(t, `{
		"title":"<Columns>",
		"content":[
			{"library":"H5P.Text 1.1","params":{"text":"<strong>a</strong><img src=x>"},"subContentId":"0b8f3c26-9c59-4c3c-8f6f-2d2b3b0a9b11","evil":1},
			{"library":"H5P.Text 1.0","params":{"text":"old"}},
			{"library":"H5P.Image 1.1","params":{}},
			{"library":"H5P.Text 1.1","params":{"text":"b"},"subContentId":"not-a-uuid"}
		]}`)

	got, ok := v.ValidateContent(ctx, h5p.LibraryRef{MachineName: "H5P.Column", MajorVersion: 1, MinorVersion: 0}, in)
	require.True(t, ok)

	out := got.(map[string]any)
	assert.Equal(t, "&lt;Columns&gt;", out["title"])
	items := out["content"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, map[string]any{"text": "<strong>a</strong>"}, first["params"])
	assert.Equal(t, "0b8f3c26-9c59-4c3c-8f6f-2d2b3b0a9b11", first["subContentId"])
	assert.NotContains(t, first, "evil")
	assert.NotContains(t, items[1].(map[string]any), "subContentId")

	messages := []string{}
	for _, d := range diags.Items() {
		messages = append(messages, d.Message)
	}
	assert.Contains(t, messages, "The version of the H5P library H5P.Text used in the content is not valid. Content contains H5P.Text 1.0, but it should be H5P.Text 1.1.")
	assert.Contains(t, messages, "The H5P library H5P.Image 1.1 used in the content is not valid.")

	deps := v.Dependencies()
	require.Len(t, deps, 3)
	column := deps["preloaded-H5P.Column"].Weight
	assert.Less(t, deps["preloaded-H5P.Text"].Weight, column)
	assert.Less(t, deps["preloaded-H5P.JoubelUI"].Weight, column)
	assert.Equal(t, 3, column)
}

func TestValidateContentUnknownLibrary(t *testing.T) {
	var diags h5p.Diagnostics
	v := NewValidator(mapLoader{}, &diags)
	_, ok := v.ValidateContent(context.Background(), h5p.LibraryRef{MachineName: "H5P.Gone", MajorVersion: 1}, map[string]any{})
	assert.False(t, ok)
	assert.True(t, diags.HasErrors(h5p.KindDependency))
}

func TestParse(t *testing.T) {
	fields, err := Parse([]byte(`[
		{"name":"choice","type":"select","optional":"true","options":[{"value":"a","label":"A"}]},
		{"name":"sub","type":"library","options":["H5P.Text 1.1"]},
		{"name":"items","type":"list","field":{"name":"item","type":"group","isSubContent":true,"fields":[{"name":"x","type":"boolean"}]}}
	]`))
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.True(t, fields[0].Optional)
	assert.Equal(t, []SelectOption{{Value: "a", Label: "A"}}, fields[0].Options)
	assert.Equal(t, []string{"H5P.Text 1.1"}, fields[1].Libraries)
	require.NotNil(t, fields[2].Item)
	assert.True(t, fields[2].Item.IsSubContent)

	fields, err = Parse(nil)
	assert.NoError(t, err)
	assert.Nil(t, fields)

	_, err = Parse([]byte(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestValidateContentFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "image.PNG"), []byte("png"), 0644))

	whitelist := h5p.NewStaticPolicy(false).Whitelist(false)
	var diags h5p.Diagnostics
	assert.True(t, ValidateContentFiles(dir, whitelist, &diags))
	assert.Equal(t, 0, diags.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "payload.exe"), []byte("MZ"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0644))
	assert.False(t, ValidateContentFiles(dir, whitelist, &diags))
	assert.Equal(t, 2, diags.Len())

	diags = h5p.Diagnostics{}
	assert.False(t, ValidateContentFiles(filepath.Join(dir, "missing"), whitelist, &diags))
}
