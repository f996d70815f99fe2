package h5p

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Version is a library version component. Manifests carry versions either as
// JSON numbers or as digit strings; both decode into a Version.
type Version int

func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", data, err)
	}
	*v = Version(n)
	return nil
}

// FlexBool decodes true/false, 0/1 and "0"/"1".
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "1", "true":
		*b = true
	case "0", "false", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean flag %s", data)
	}
	return nil
}

// LibraryRef identifies a library by machine name and major/minor version.
type LibraryRef struct {
	MachineName  string  `json:"machineName"`
	MajorVersion Version `json:"majorVersion"`
	MinorVersion Version `json:"minorVersion"`
}

// String returns the "<machineName> <major>.<minor>" form.
func (r LibraryRef) String() string {
	return LibraryToString(r, false)
}

// DirName returns the "<machineName>-<major>.<minor>" folder name.
func (r LibraryRef) DirName() string {
	return LibraryToString(r, true)
}

type FileRef struct {
	Path string `json:"path"`
}

type CoreAPI struct {
	MajorVersion Version `json:"majorVersion"`
	MinorVersion Version `json:"minorVersion"`
}

type DropCSS struct {
	MachineName string `json:"machineName"`
}

// Library is a versioned content type as described by its library.json.
type Library struct {
	ID           int64    `json:"id,omitempty"`
	MachineName  string   `json:"machineName"`
	Title        string   `json:"title"`
	MajorVersion Version  `json:"majorVersion"`
	MinorVersion Version  `json:"minorVersion"`
	PatchVersion Version  `json:"patchVersion"`
	Runnable     FlexBool `json:"runnable"`
	Fullscreen   FlexBool `json:"fullscreen,omitempty"`
	Author       string   `json:"author,omitempty"`
	License      string   `json:"license,omitempty"`
	Description  string   `json:"description,omitempty"`
	EmbedTypes   []string `json:"embedTypes,omitempty"`

	PreloadedDependencies []LibraryRef `json:"preloadedDependencies,omitempty"`
	DynamicDependencies   []LibraryRef `json:"dynamicDependencies,omitempty"`
	EditorDependencies    []LibraryRef `json:"editorDependencies,omitempty"`

	PreloadedJS    []FileRef `json:"preloadedJs,omitempty"`
	PreloadedCSS   []FileRef `json:"preloadedCss,omitempty"`
	DropLibraryCSS []DropCSS `json:"dropLibraryCss,omitempty"`
	CoreAPI        *CoreAPI  `json:"coreApi,omitempty"`

	// Semantics is the raw semantics.json tree, empty when the library has none.
	Semantics json.RawMessage `json:"semantics,omitempty"`
	// Language maps a language code to the raw language/<code>.json document.
	Language map[string]json.RawMessage `json:"language,omitempty"`

	TutorialURL string `json:"tutorialUrl,omitempty"`

	// UploadDirectory is set during package validation only.
	UploadDirectory string `json:"-"`
}

// Ref returns the library's identifying triple.
func (l *Library) Ref() LibraryRef {
	return LibraryRef{MachineName: l.MachineName, MajorVersion: l.MajorVersion, MinorVersion: l.MinorVersion}
}

// String returns the "<machineName> <major>.<minor>" form.
func (l *Library) String() string {
	return l.Ref().String()
}

// Dependencies returns the library's declared dependencies of the given type.
func (l *Library) Dependencies(t DependencyType) []LibraryRef {
	switch t {
	case DependencyPreloaded:
		return l.PreloadedDependencies
	case DependencyDynamic:
		return l.DynamicDependencies
	case DependencyEditor:
		return l.EditorDependencies
	}
	return nil
}

// DisableFlags is the bitmask of content display options that are turned off.
type DisableFlags int

const (
	DisableNone      DisableFlags = 0
	DisableFrame     DisableFlags = 1
	DisableDownload  DisableFlags = 2
	DisableEmbed     DisableFlags = 4
	DisableCopyright DisableFlags = 8
	DisableAbout     DisableFlags = 16
)

// Has reports whether flag is set.
func (d DisableFlags) Has(flag DisableFlags) bool {
	return d&flag != 0
}

// Content is one stored interactive content item.
type Content struct {
	ID        int64        `json:"id"`
	Title     string       `json:"title"`
	Language  string       `json:"language,omitempty"`
	Params    string       `json:"params"`
	Filtered  string       `json:"filtered,omitempty"`
	Slug      string       `json:"slug,omitempty"`
	EmbedType string       `json:"embedType,omitempty"`
	Disable   DisableFlags `json:"disable"`
	Author    string       `json:"author,omitempty"`
	License   string       `json:"license,omitempty"`

	LibraryID int64      `json:"libraryId"`
	Library   LibraryRef `json:"library"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DependencyType classifies when a dependency must be loaded.
type DependencyType string

const (
	DependencyPreloaded DependencyType = "preloaded"
	DependencyDynamic   DependencyType = "dynamic"
	DependencyEditor    DependencyType = "editor"
)

// DependencyTypes lists the dependency classes in resolution order.
var DependencyTypes = []DependencyType{DependencyDynamic, DependencyPreloaded, DependencyEditor}

// Dependency is one resolved entry. Lower weights load first.
type Dependency struct {
	Library *Library
	Type    DependencyType
	Weight  int
}

// Dependencies is the flat dependency map keyed "<type>-<machineName>".
type Dependencies map[string]*Dependency

// DependencyKey builds the map key for a dependency.
func DependencyKey(t DependencyType, machineName string) string {
	return string(t) + "-" + machineName
}

// MaxWeight returns the highest weight in the map, 0 when empty.
func (d Dependencies) MaxWeight() int {
	max := 0
	for _, dep := range d {
		if dep.Weight > max {
			max = dep.Weight
		}
	}
	return max
}

// Ordered returns the entries sorted by weight, then key.
func (d Dependencies) Ordered() []*Dependency {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		wi, wj := d[keys[i]].Weight, d[keys[j]].Weight
		if wi != wj {
			return wi < wj
		}
		return keys[i] < keys[j]
	})
	out := make([]*Dependency, 0, len(keys))
	for _, k := range keys {
		out = append(out, d[k])
	}
	return out
}

// UsageRows flattens resolved dependencies into library usage rows ordered by
// weight. A library named in any dependency's dropLibraryCss gets DropCSS.
func (d Dependencies) UsageRows() []*ContentDependency {
	drop := map[string]bool{}
	for _, dep := range d {
		for _, css := range dep.Library.DropLibraryCSS {
			drop[css.MachineName] = true
		}
	}
	ordered := d.Ordered()
	rows := make([]*ContentDependency, 0, len(ordered))
	for _, dep := range ordered {
		rows = append(rows, &ContentDependency{
			LibraryID: dep.Library.ID,
			Library:   dep.Library.Ref(),
			Type:      dep.Type,
			Weight:    dep.Weight,
			DropCSS:   drop[dep.Library.MachineName],
		})
	}
	return rows
}

// MainManifest is the decoded h5p.json of a package.
type MainManifest struct {
	Title                 string       `json:"title"`
	Language              string       `json:"language"`
	MainLibrary           string       `json:"mainLibrary"`
	EmbedTypes            []string     `json:"embedTypes"`
	ContentType           string       `json:"contentType,omitempty"`
	Author                string       `json:"author,omitempty"`
	License               string       `json:"license,omitempty"`
	MetaKeywords          string       `json:"metaKeywords,omitempty"`
	MetaDescription       string       `json:"metaDescription,omitempty"`
	PreloadedDependencies []LibraryRef `json:"preloadedDependencies"`
	DynamicDependencies   []LibraryRef `json:"dynamicDependencies,omitempty"`
}

// MainLibraryRef finds the preloaded dependency naming the main library.
func (m *MainManifest) MainLibraryRef() (LibraryRef, bool) {
	for _, dep := range m.PreloadedDependencies {
		if dep.MachineName == m.MainLibrary {
			return dep, true
		}
	}
	return LibraryRef{}, false
}

// AsLibrary returns the manifest as a pseudo-library so its dependencies can
// be checked alongside the bundled libraries.
func (m *MainManifest) AsLibrary() *Library {
	return &Library{
		MachineName:           m.MainLibrary,
		Title:                 m.Title,
		PreloadedDependencies: m.PreloadedDependencies,
		DynamicDependencies:   m.DynamicDependencies,
	}
}

// EmbedType picks "div" when both the content and the library allow it,
// otherwise "iframe".
func EmbedType(contentTypes, libraryTypes []string) string {
	embed := "iframe"
	for _, t := range contentTypes {
		if strings.EqualFold(t, "div") {
			embed = "div"
		}
	}
	if len(libraryTypes) == 0 {
		return embed
	}
	for _, t := range libraryTypes {
		if strings.EqualFold(t, embed) {
			return embed
		}
	}
	for _, t := range libraryTypes {
		if strings.EqualFold(t, "div") {
			return "div"
		}
	}
	return "iframe"
}
