package h5p

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	ids   map[LibraryRef]int64
	calls int
}

func (l *countingLookup) LibraryID(ctx context.Context, ref LibraryRef) (int64, error) {
	l.calls++
	id, ok := l.ids[ref]
	if !ok {
		return 0, ErrLibraryNotFound
	}
	return id, nil
}

func TestLibraryIDCache(t *testing.T) {
	ctx := context.Background()
	ref := LibraryRef{MachineName: "H5P.Text", MajorVersion: 1, MinorVersion: 0}
	lookup := &countingLookup{ids: map[LibraryRef]int64{}}
	cache := NewLibraryIDCache(lookup)

	_, err := cache.LibraryID(ctx, ref)
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	// misses are not cached
	lookup.ids[ref] = 5
	id, err := cache.LibraryID(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	calls := lookup.calls
	_, _ = cache.LibraryID(ctx, ref)
	assert.Equal(t, calls, lookup.calls)

	lookup.ids[ref] = 9
	cache.Invalidate(ref)
	id, err = cache.LibraryID(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.Equal(t, calls+1, lookup.calls)
}

func TestStaticPolicy(t *testing.T) {
	p := NewStaticPolicy(false)
	ctx := context.Background()
	assert.False(t, p.MayUpdateLibraries(ctx))
	assert.True(t, p.MayUpdateLibraries(WithLibraryUpdates(ctx, true)))

	assert.Contains(t, p.Whitelist(false), "png")
	assert.NotContains(t, p.Whitelist(false), "js")
	assert.Contains(t, p.Whitelist(true), "js")
	assert.Contains(t, p.Whitelist(true), "css")
}

func TestEmbedType(t *testing.T) {
	assert.Equal(t, "div", EmbedType([]string{"div", "iframe"}, []string{"div"}))
	assert.Equal(t, "iframe", EmbedType([]string{"iframe"}, nil))
	assert.Equal(t, "iframe", EmbedType([]string{"div"}, []string{"iframe"}))
	assert.Equal(t, "div", EmbedType([]string{"iframe"}, []string{"div"}))
}
