// Package columns converts library.json list fields to and from the
// comma separated text columns used by the SQL repositories.
package columns

import (
	"fmt"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

const separator = ", "

func JoinList(items []string) string {
	return strings.Join(items, separator)
}

func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func JoinFiles(files []h5p.FileRef) string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return JoinList(paths)
}

func SplitFiles(s string) []h5p.FileRef {
	var files []h5p.FileRef
	for _, path := range SplitList(s) {
		files = append(files, h5p.FileRef{Path: path})
	}
	return files
}

func JoinDropCSS(drop []h5p.DropCSS) string {
	names := make([]string, 0, len(drop))
	for _, d := range drop {
		names = append(names, d.MachineName)
	}
	return JoinList(names)
}

func SplitDropCSS(s string) []h5p.DropCSS {
	var drop []h5p.DropCSS
	for _, name := range SplitList(s) {
		drop = append(drop, h5p.DropCSS{MachineName: name})
	}
	return drop
}

// CoreAPI encodes the required core version as "<major>.<minor>".
func CoreAPI(api *h5p.CoreAPI) string {
	if api == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d", api.MajorVersion, api.MinorVersion)
}

func ParseCoreAPI(s string) *h5p.CoreAPI {
	var major, minor int
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return nil
	}
	return &h5p.CoreAPI{MajorVersion: h5p.Version(major), MinorVersion: h5p.Version(minor)}
}

// Dependencies distributes library dependency rows over the typed lists.
func Dependencies(lib *h5p.Library, ref h5p.LibraryRef, depType string) {
	switch h5p.DependencyType(depType) {
	case h5p.DependencyPreloaded:
		lib.PreloadedDependencies = append(lib.PreloadedDependencies, ref)
	case h5p.DependencyDynamic:
		lib.DynamicDependencies = append(lib.DynamicDependencies, ref)
	case h5p.DependencyEditor:
		lib.EditorDependencies = append(lib.EditorDependencies, ref)
	}
}
