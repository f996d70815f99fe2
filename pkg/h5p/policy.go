package h5p

import (
	"context"
	"strings"
)

// DefaultContentWhitelist is the space separated list of file extensions
// allowed inside a package's content folder.
const DefaultContentWhitelist = "json png jpg jpeg gif bmp tif tiff svg eot ttf woff woff2 otf webm mp4 ogg mp3 txt pdf rtf doc docx xls xlsx ppt pptx odt ods odp xml csv diff patch swf md textile"

// DefaultLibraryWhitelistExtras are the extensions additionally allowed in
// library folders.
const DefaultLibraryWhitelistExtras = "js css"

// Policy answers the permission and whitelist questions asked during package
// validation.
type Policy interface {
	MayUpdateLibraries(ctx context.Context) bool
	// Whitelist returns the allowed file extensions, lowercase and without dots.
	Whitelist(isLibrary bool) []string
}

type libraryUpdatesKey struct{}

// WithLibraryUpdates overrides the library update permission for requests
// carrying ctx.
func WithLibraryUpdates(ctx context.Context, allowed bool) context.Context {
	return context.WithValue(ctx, libraryUpdatesKey{}, allowed)
}

// LibraryUpdatesFromContext returns the override set by WithLibraryUpdates.
func LibraryUpdatesFromContext(ctx context.Context) (allowed, ok bool) {
	allowed, ok = ctx.Value(libraryUpdatesKey{}).(bool)
	return allowed, ok
}

// StaticPolicy is a Policy with fixed settings.
type StaticPolicy struct {
	UpdateLibraries        bool
	ContentWhitelist       string
	LibraryWhitelistExtras string
}

// NewStaticPolicy returns a policy with the default whitelists.
func NewStaticPolicy(updateLibraries bool) *StaticPolicy {
	return &StaticPolicy{
		UpdateLibraries:        updateLibraries,
		ContentWhitelist:       DefaultContentWhitelist,
		LibraryWhitelistExtras: DefaultLibraryWhitelistExtras,
	}
}

func (p *StaticPolicy) MayUpdateLibraries(ctx context.Context) bool {
	if allowed, ok := LibraryUpdatesFromContext(ctx); ok {
		return allowed
	}
	return p.UpdateLibraries
}

func (p *StaticPolicy) Whitelist(isLibrary bool) []string {
	list := p.ContentWhitelist
	if list == "" {
		list = DefaultContentWhitelist
	}
	if isLibrary {
		extras := p.LibraryWhitelistExtras
		if extras == "" {
			extras = DefaultLibraryWhitelistExtras
		}
		list += " " + extras
	}
	return strings.Fields(strings.ToLower(list))
}
