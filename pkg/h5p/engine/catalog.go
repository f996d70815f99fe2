package engine

import (
	"context"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// catalog answers installed-library questions through the engine's id cache.
type catalog struct {
	ids  *h5p.LibraryIDCache
	repo h5p.Repository
}

func (c catalog) LibraryID(ctx context.Context, ref h5p.LibraryRef) (int64, error) {
	return c.ids.LibraryID(ctx, ref)
}

func (c catalog) LoadLibraries(ctx context.Context) ([]*h5p.Library, error) {
	return c.repo.LoadLibraries(ctx)
}
