// Package resolver orders library dependencies by load weight.
package resolver

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Resolver walks declared library dependencies. A dependency always gets a
// lower weight than the library that pulls it in.
type Resolver struct {
	loader h5p.LibraryLoader
	diags  *h5p.Diagnostics
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for missing dependency reports.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithDiagnostics records missing dependencies as warnings in diags.
func WithDiagnostics(diags *h5p.Diagnostics) Option {
	return func(r *Resolver) {
		r.diags = diags
	}
}

func New(loader h5p.LibraryLoader, opts ...Option) *Resolver {
	r := &Resolver{loader: loader, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindDependencies adds every transitive dependency of lib to deps and returns
// the highest weight assigned, starting from next. Entries already present
// under the same "<type>-<machineName>" key are kept as first seen. In editor
// mode preloaded dependencies are recorded as editor dependencies.
func (r *Resolver) FindDependencies(ctx context.Context, deps h5p.Dependencies, lib *h5p.Library, next int, editor bool) int {
	for _, declared := range h5p.DependencyTypes {
		depType := declared
		if depType == h5p.DependencyPreloaded && editor {
			depType = h5p.DependencyEditor
		}

		for _, ref := range lib.Dependencies(declared) {
			key := h5p.DependencyKey(depType, ref.MachineName)
			if _, ok := deps[key]; ok {
				continue
			}

			dep, err := r.loader.LoadLibrary(ctx, ref)
			if err != nil {
				r.logger.WarnContext(ctx, "Missing dependency", "dependency", ref.String(), "required_by", lib.String(), "error", err)
				r.diags.Warnf(h5p.KindDependency, "Missing dependency %s required by %s.", ref, lib)
				continue
			}

			entry := &h5p.Dependency{Library: dep, Type: depType}
			deps[key] = entry
			next = r.FindDependencies(ctx, deps, dep, next, depType == h5p.DependencyEditor)
			next++
			entry.Weight = next
		}
	}
	return next
}

// Resolve returns the dependencies of lib itself registered as a preloaded
// entry on top of its own dependency tree.
func (r *Resolver) Resolve(ctx context.Context, lib *h5p.Library) h5p.Dependencies {
	deps := h5p.Dependencies{}
	key := h5p.DependencyKey(h5p.DependencyPreloaded, lib.MachineName)
	entry := &h5p.Dependency{Library: lib, Type: h5p.DependencyPreloaded}
	deps[key] = entry
	entry.Weight = r.FindDependencies(ctx, deps, lib, 0, false) + 1
	return deps
}
