package engine

import (
	"github.com/tendant/simple-h5p/pkg/h5p"
)

// ValidateRequest contains parameters for checking an archive without
// installing it
type ValidateRequest struct {
	Path        string
	SkipContent bool
	UpgradeOnly bool
}

// InstallRequest contains parameters for validating and saving an archive
type InstallRequest struct {
	Path string
	// ContentID replaces an existing content when set.
	ContentID   int64
	SkipContent bool
	UpgradeOnly bool
	Disable     h5p.DisableFlags
}

// SaveRequest contains parameters for saving an already validated archive
type SaveRequest struct {
	ContentID   int64
	SkipContent bool
	Disable     h5p.DisableFlags
}

// InstallResult reports what a package install changed
type InstallResult struct {
	Content     *h5p.Content     `json:"content,omitempty"`
	Added       []h5p.LibraryRef `json:"added"`
	Updated     []h5p.LibraryRef `json:"updated"`
	Skipped     []h5p.LibraryRef `json:"skipped"`
	Diagnostics []h5p.Diagnostic `json:"diagnostics,omitempty"`
}

// LibrarySummary is an installed library with its usage count
type LibrarySummary struct {
	Library      *h5p.Library `json:"library"`
	ContentCount int          `json:"contentCount"`
}
