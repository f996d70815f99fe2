package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

type libraryDependency struct {
	ref     h5p.LibraryRef
	depType h5p.DependencyType
}

// Repository implements h5p.Repository using in-memory storage
type Repository struct {
	mu          sync.RWMutex
	libraries   map[int64]*h5p.Library
	libraryDeps map[int64][]libraryDependency // library_id -> declared dependencies
	contents    map[int64]*h5p.Content
	usage       map[int64][]*h5p.ContentDependency // content_id -> usage rows
	userData    map[int64][]*h5p.UserData
	options     map[string]string
	nextLibrary int64
	nextContent int64
}

var _ h5p.Repository = (*Repository)(nil)

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		libraries:   make(map[int64]*h5p.Library),
		libraryDeps: make(map[int64][]libraryDependency),
		contents:    make(map[int64]*h5p.Content),
		usage:       make(map[int64][]*h5p.ContentDependency),
		userData:    make(map[int64][]*h5p.UserData),
		options:     make(map[string]string),
	}
}

// Library operations

func (r *Repository) findLibrary(ref h5p.LibraryRef) (*h5p.Library, bool) {
	for _, lib := range r.libraries {
		if lib.Ref() == ref {
			return lib, true
		}
	}
	return nil, false
}

// withDependencies returns a copy of lib carrying its stored dependency rows.
func (r *Repository) withDependencies(lib *h5p.Library) *h5p.Library {
	libCopy := *lib
	libCopy.PreloadedDependencies = nil
	libCopy.DynamicDependencies = nil
	libCopy.EditorDependencies = nil
	for _, dep := range r.libraryDeps[lib.ID] {
		switch dep.depType {
		case h5p.DependencyPreloaded:
			libCopy.PreloadedDependencies = append(libCopy.PreloadedDependencies, dep.ref)
		case h5p.DependencyDynamic:
			libCopy.DynamicDependencies = append(libCopy.DynamicDependencies, dep.ref)
		case h5p.DependencyEditor:
			libCopy.EditorDependencies = append(libCopy.EditorDependencies, dep.ref)
		}
	}
	return &libCopy
}

func (r *Repository) LoadLibrary(ctx context.Context, ref h5p.LibraryRef) (*h5p.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, ok := r.findLibrary(ref)
	if !ok {
		return nil, h5p.ErrLibraryNotFound
	}
	return r.withDependencies(lib), nil
}

func (r *Repository) LoadLibraries(ctx context.Context) ([]*h5p.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*h5p.Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		result = append(result, r.withDependencies(lib))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MachineName != result[j].MachineName {
			return result[i].MachineName < result[j].MachineName
		}
		if result[i].MajorVersion != result[j].MajorVersion {
			return result[i].MajorVersion < result[j].MajorVersion
		}
		return result[i].MinorVersion < result[j].MinorVersion
	})
	return result, nil
}

func (r *Repository) LibraryID(ctx context.Context, ref h5p.LibraryRef) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, ok := r.findLibrary(ref)
	if !ok {
		return 0, h5p.ErrLibraryNotFound
	}
	return lib.ID, nil
}

func (r *Repository) IsPatchedLibrary(ctx context.Context, lib *h5p.Library) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	installed, ok := r.findLibrary(lib.Ref())
	if !ok {
		return false, nil
	}
	return installed.PatchVersion < lib.PatchVersion, nil
}

func (r *Repository) SaveLibraryData(ctx context.Context, lib *h5p.Library, isNew bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	libCopy := *lib
	libCopy.UploadDirectory = ""
	libCopy.PreloadedDependencies = nil
	libCopy.DynamicDependencies = nil
	libCopy.EditorDependencies = nil

	if isNew {
		r.nextLibrary++
		libCopy.ID = r.nextLibrary
		lib.ID = libCopy.ID
		r.libraries[libCopy.ID] = &libCopy
		return nil
	}

	existing, ok := r.libraries[lib.ID]
	if !ok {
		return h5p.ErrLibraryNotFound
	}
	if libCopy.TutorialURL == "" {
		libCopy.TutorialURL = existing.TutorialURL
	}
	r.libraries[lib.ID] = &libCopy
	return nil
}

func (r *Repository) DeleteLibrary(ctx context.Context, libraryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.libraries[libraryID]; !ok {
		return h5p.ErrLibraryNotFound
	}
	delete(r.libraries, libraryID)
	delete(r.libraryDeps, libraryID)
	return nil
}

func (r *Repository) SaveLibraryDependencies(ctx context.Context, libraryID int64, deps []h5p.LibraryRef, depType h5p.DependencyType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.libraries[libraryID]; !ok {
		return h5p.ErrLibraryNotFound
	}
	for _, ref := range deps {
		r.libraryDeps[libraryID] = append(r.libraryDeps[libraryID], libraryDependency{ref: ref, depType: depType})
	}
	return nil
}

func (r *Repository) DeleteLibraryDependencies(ctx context.Context, libraryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.libraryDeps, libraryID)
	return nil
}

func (r *Repository) ClearFilteredParameters(ctx context.Context, libraryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, content := range r.contents {
		if content.LibraryID == libraryID || r.usesLibrary(id, libraryID) {
			content.Filtered = ""
		}
	}
	return nil
}

func (r *Repository) usesLibrary(contentID, libraryID int64) bool {
	for _, row := range r.usage[contentID] {
		if row.LibraryID == libraryID {
			return true
		}
	}
	return false
}

func (r *Repository) SetLibraryTutorialURL(ctx context.Context, machineName, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, lib := range r.libraries {
		if lib.MachineName == machineName {
			lib.TutorialURL = url
		}
	}
	return nil
}

func (r *Repository) LibraryContentCounts(ctx context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, content := range r.contents {
		if lib, ok := r.libraries[content.LibraryID]; ok {
			counts[lib.String()]++
		}
	}
	return counts, nil
}

func (r *Repository) LibraryUsage(ctx context.Context, libraryID int64) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, ok := r.libraries[libraryID]
	if !ok {
		return 0, 0, h5p.ErrLibraryNotFound
	}

	contents := 0
	for id, content := range r.contents {
		if content.LibraryID == libraryID || r.usesLibrary(id, libraryID) {
			contents++
		}
	}

	ref := lib.Ref()
	libraries := 0
	for id, deps := range r.libraryDeps {
		if id == libraryID {
			continue
		}
		for _, dep := range deps {
			if dep.ref == ref {
				libraries++
				break
			}
		}
	}
	return contents, libraries, nil
}

// Content operations

func (r *Repository) resolveContentLibrary(content *h5p.Content) error {
	if content.LibraryID == 0 {
		lib, ok := r.findLibrary(content.Library)
		if !ok {
			return h5p.ErrLibraryNotFound
		}
		content.LibraryID = lib.ID
		return nil
	}
	lib, ok := r.libraries[content.LibraryID]
	if !ok {
		return h5p.ErrLibraryNotFound
	}
	content.Library = lib.Ref()
	return nil
}

func (r *Repository) InsertContent(ctx context.Context, content *h5p.Content) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contentCopy := *content
	if err := r.resolveContentLibrary(&contentCopy); err != nil {
		return 0, err
	}
	r.nextContent++
	contentCopy.ID = r.nextContent
	now := time.Now().UTC()
	contentCopy.CreatedAt = now
	contentCopy.UpdatedAt = now
	r.contents[contentCopy.ID] = &contentCopy
	return contentCopy.ID, nil
}

// UpdateContent replaces the content row and drops its filtered parameters.
func (r *Repository) UpdateContent(ctx context.Context, content *h5p.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.contents[content.ID]
	if !ok {
		return h5p.ErrContentNotFound
	}
	contentCopy := *content
	if err := r.resolveContentLibrary(&contentCopy); err != nil {
		return err
	}
	contentCopy.Filtered = ""
	contentCopy.Slug = existing.Slug
	contentCopy.CreatedAt = existing.CreatedAt
	contentCopy.UpdatedAt = time.Now().UTC()
	r.contents[content.ID] = &contentCopy
	return nil
}

func (r *Repository) LoadContent(ctx context.Context, contentID int64) (*h5p.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, ok := r.contents[contentID]
	if !ok {
		return nil, h5p.ErrContentNotFound
	}
	contentCopy := *content
	if lib, ok := r.libraries[content.LibraryID]; ok {
		contentCopy.Library = lib.Ref()
	}
	return &contentCopy, nil
}

func (r *Repository) UpdateContentFields(ctx context.Context, contentID int64, filtered, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, ok := r.contents[contentID]
	if !ok {
		return h5p.ErrContentNotFound
	}
	content.Filtered = filtered
	content.Slug = slug
	content.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteContentData(ctx context.Context, contentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contents[contentID]; !ok {
		return h5p.ErrContentNotFound
	}
	delete(r.contents, contentID)
	delete(r.usage, contentID)
	delete(r.userData, contentID)
	return nil
}

// ResetContentUserData marks user data flagged for invalidation as reset.
func (r *Repository) ResetContentUserData(ctx context.Context, contentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, data := range r.userData[contentID] {
		if data.Invalidate {
			data.Data = h5p.UserDataReset
			data.UpdatedAt = now
		}
	}
	return nil
}

func (r *Repository) SaveContentUserData(ctx context.Context, data *h5p.UserData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contents[data.ContentID]; !ok {
		return h5p.ErrContentNotFound
	}
	dataCopy := *data
	dataCopy.UpdatedAt = time.Now().UTC()
	rows := r.userData[data.ContentID]
	for i, row := range rows {
		if row.UserID == data.UserID && row.SubContent == data.SubContent && row.DataID == data.DataID {
			rows[i] = &dataCopy
			return nil
		}
	}
	r.userData[data.ContentID] = append(rows, &dataCopy)
	return nil
}

func (r *Repository) LoadContentUserData(ctx context.Context, contentID int64) ([]*h5p.UserData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*h5p.UserData, 0, len(r.userData[contentID]))
	for _, row := range r.userData[contentID] {
		rowCopy := *row
		result = append(result, &rowCopy)
	}
	return result, nil
}

func (r *Repository) IsContentSlugAvailable(ctx context.Context, slug string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, content := range r.contents {
		if content.Slug == slug {
			return false, nil
		}
	}
	return true, nil
}

// Library usage operations

func (r *Repository) SaveLibraryUsage(ctx context.Context, contentID int64, deps h5p.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contents[contentID]; !ok {
		return h5p.ErrContentNotFound
	}
	rows := deps.UsageRows()
	for _, row := range rows {
		if row.LibraryID == 0 {
			if lib, ok := r.findLibrary(row.Library); ok {
				row.LibraryID = lib.ID
			}
		}
	}
	r.usage[contentID] = append(r.usage[contentID], rows...)
	return nil
}

func (r *Repository) DeleteLibraryUsage(ctx context.Context, contentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.usage, contentID)
	return nil
}

func (r *Repository) CopyLibraryUsage(ctx context.Context, contentID, fromContentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]*h5p.ContentDependency, 0, len(r.usage[fromContentID]))
	for _, row := range r.usage[fromContentID] {
		rowCopy := *row
		rows = append(rows, &rowCopy)
	}
	r.usage[contentID] = rows
	return nil
}

func (r *Repository) LoadContentDependencies(ctx context.Context, contentID int64, depType h5p.DependencyType) ([]*h5p.ContentDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*h5p.ContentDependency
	for _, row := range r.usage[contentID] {
		if depType != "" && row.Type != depType {
			continue
		}
		rowCopy := *row
		if lib, ok := r.libraries[row.LibraryID]; ok {
			rowCopy.Library = lib.Ref()
		}
		result = append(result, &rowCopy)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Weight < result[j].Weight
	})
	return result, nil
}

// Site options

func (r *Repository) GetOption(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.options[name], nil
}

func (r *Repository) SetOption(ctx context.Context, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[name] = value
	return nil
}
