// Package sqlite is a single-file h5p.Repository for local installs and the
// command line tool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/internal/columns"
)

// Repository implements h5p.Repository using SQLite.
type Repository struct {
	db *sql.DB
}

var _ h5p.Repository = (*Repository)(nil)

// New opens or creates a SQLite database at the given path.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS h5p_libraries (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		machine_name     TEXT NOT NULL,
		title            TEXT NOT NULL,
		major_version    INTEGER NOT NULL,
		minor_version    INTEGER NOT NULL,
		patch_version    INTEGER NOT NULL,
		runnable         INTEGER NOT NULL DEFAULT 0,
		fullscreen       INTEGER NOT NULL DEFAULT 0,
		author           TEXT NOT NULL DEFAULT '',
		license          TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		embed_types      TEXT NOT NULL DEFAULT '',
		preloaded_js     TEXT NOT NULL DEFAULT '',
		preloaded_css    TEXT NOT NULL DEFAULT '',
		drop_library_css TEXT NOT NULL DEFAULT '',
		core_api         TEXT NOT NULL DEFAULT '',
		semantics        TEXT NOT NULL DEFAULT '',
		tutorial_url     TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		UNIQUE (machine_name, major_version, minor_version)
	);

	CREATE TABLE IF NOT EXISTS h5p_library_dependencies (
		library_id          INTEGER NOT NULL REFERENCES h5p_libraries(id) ON DELETE CASCADE,
		required_library_id INTEGER NOT NULL REFERENCES h5p_libraries(id) ON DELETE CASCADE,
		dependency_type     TEXT NOT NULL,
		PRIMARY KEY (library_id, required_library_id, dependency_type)
	);

	CREATE TABLE IF NOT EXISTS h5p_contents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		title      TEXT NOT NULL,
		language   TEXT NOT NULL DEFAULT '',
		parameters TEXT NOT NULL,
		filtered   TEXT NOT NULL DEFAULT '',
		slug       TEXT UNIQUE,
		embed_type TEXT NOT NULL DEFAULT '',
		disable    INTEGER NOT NULL DEFAULT 0,
		author     TEXT NOT NULL DEFAULT '',
		license    TEXT NOT NULL DEFAULT '',
		library_id INTEGER NOT NULL REFERENCES h5p_libraries(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS h5p_contents_libraries (
		content_id      INTEGER NOT NULL REFERENCES h5p_contents(id) ON DELETE CASCADE,
		library_id      INTEGER NOT NULL REFERENCES h5p_libraries(id),
		dependency_type TEXT NOT NULL,
		weight          INTEGER NOT NULL DEFAULT 999999,
		drop_css        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (content_id, library_id, dependency_type)
	);
	CREATE INDEX IF NOT EXISTS idx_contents_libraries_library ON h5p_contents_libraries(library_id);

	CREATE TABLE IF NOT EXISTS h5p_content_user_data (
		content_id     INTEGER NOT NULL REFERENCES h5p_contents(id) ON DELETE CASCADE,
		user_id        TEXT NOT NULL,
		sub_content_id INTEGER NOT NULL DEFAULT 0,
		data_id        TEXT NOT NULL,
		data           TEXT NOT NULL,
		preload        INTEGER NOT NULL DEFAULT 0,
		invalidate     INTEGER NOT NULL DEFAULT 0,
		updated_at     TEXT NOT NULL,
		PRIMARY KEY (content_id, user_id, sub_content_id, data_id)
	);

	CREATE TABLE IF NOT EXISTS h5p_options (
		name  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const libraryColumns = `id, machine_name, title, major_version, minor_version, patch_version,
	runnable, fullscreen, author, license, description, embed_types,
	preloaded_js, preloaded_css, drop_library_css, core_api, semantics, tutorial_url`

func scanLibrary(row scanner) (*h5p.Library, error) {
	var lib h5p.Library
	var major, minor, patch int
	var runnable, fullscreen bool
	var embedTypes, preloadedJS, preloadedCSS, dropCSS, coreAPI, semantics string
	err := row.Scan(&lib.ID, &lib.MachineName, &lib.Title, &major, &minor, &patch,
		&runnable, &fullscreen, &lib.Author, &lib.License, &lib.Description, &embedTypes,
		&preloadedJS, &preloadedCSS, &dropCSS, &coreAPI, &semantics, &lib.TutorialURL)
	if err != nil {
		return nil, err
	}
	lib.MajorVersion, lib.MinorVersion, lib.PatchVersion = h5p.Version(major), h5p.Version(minor), h5p.Version(patch)
	lib.Runnable, lib.Fullscreen = h5p.FlexBool(runnable), h5p.FlexBool(fullscreen)
	lib.EmbedTypes = columns.SplitList(embedTypes)
	lib.PreloadedJS = columns.SplitFiles(preloadedJS)
	lib.PreloadedCSS = columns.SplitFiles(preloadedCSS)
	lib.DropLibraryCSS = columns.SplitDropCSS(dropCSS)
	lib.CoreAPI = columns.ParseCoreAPI(coreAPI)
	if semantics != "" {
		lib.Semantics = []byte(semantics)
	}
	return &lib, nil
}

func (r *Repository) loadDependencies(ctx context.Context, lib *h5p.Library) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.machine_name, l.major_version, l.minor_version, d.dependency_type
		FROM h5p_library_dependencies d
		JOIN h5p_libraries l ON l.id = d.required_library_id
		WHERE d.library_id = ?
		ORDER BY l.machine_name, l.major_version, l.minor_version`, lib.ID)
	if err != nil {
		return fmt.Errorf("load library dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref h5p.LibraryRef
		var major, minor int
		var depType string
		if err := rows.Scan(&ref.MachineName, &major, &minor, &depType); err != nil {
			return err
		}
		ref.MajorVersion, ref.MinorVersion = h5p.Version(major), h5p.Version(minor)
		columns.Dependencies(lib, ref, depType)
	}
	return rows.Err()
}

func (r *Repository) LoadLibrary(ctx context.Context, ref h5p.LibraryRef) (*h5p.Library, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM h5p_libraries
		WHERE machine_name = ? AND major_version = ? AND minor_version = ?`,
		ref.MachineName, int(ref.MajorVersion), int(ref.MinorVersion))
	lib, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, h5p.ErrLibraryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	if err := r.loadDependencies(ctx, lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func (r *Repository) LoadLibraries(ctx context.Context) ([]*h5p.Library, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM h5p_libraries
		ORDER BY machine_name, major_version, minor_version`)
	if err != nil {
		return nil, fmt.Errorf("load libraries: %w", err)
	}
	var libraries []*h5p.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		libraries = append(libraries, lib)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, lib := range libraries {
		if err := r.loadDependencies(ctx, lib); err != nil {
			return nil, err
		}
	}
	return libraries, nil
}

func (r *Repository) LibraryID(ctx context.Context, ref h5p.LibraryRef) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM h5p_libraries
		WHERE machine_name = ? AND major_version = ? AND minor_version = ?`,
		ref.MachineName, int(ref.MajorVersion), int(ref.MinorVersion)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, h5p.ErrLibraryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("library id: %w", err)
	}
	return id, nil
}

func (r *Repository) IsPatchedLibrary(ctx context.Context, lib *h5p.Library) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM h5p_libraries
		WHERE machine_name = ? AND major_version = ? AND minor_version = ? AND patch_version < ?`,
		lib.MachineName, int(lib.MajorVersion), int(lib.MinorVersion), int(lib.PatchVersion)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is patched library: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) SaveLibraryData(ctx context.Context, lib *h5p.Library, isNew bool) error {
	ts := now()
	args := []interface{}{
		lib.MachineName, lib.Title, int(lib.MajorVersion), int(lib.MinorVersion), int(lib.PatchVersion),
		bool(lib.Runnable), bool(lib.Fullscreen), lib.Author, lib.License, lib.Description,
		columns.JoinList(lib.EmbedTypes), columns.JoinFiles(lib.PreloadedJS), columns.JoinFiles(lib.PreloadedCSS),
		columns.JoinDropCSS(lib.DropLibraryCSS), columns.CoreAPI(lib.CoreAPI), string(lib.Semantics), ts,
	}

	if isNew {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO h5p_libraries (
				machine_name, title, major_version, minor_version, patch_version,
				runnable, fullscreen, author, license, description, embed_types,
				preloaded_js, preloaded_css, drop_library_css, core_api, semantics,
				updated_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append(args, ts)...)
		if err != nil {
			return fmt.Errorf("insert library: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert library: %w", err)
		}
		lib.ID = id
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE h5p_libraries SET
			machine_name = ?, title = ?, major_version = ?, minor_version = ?, patch_version = ?,
			runnable = ?, fullscreen = ?, author = ?, license = ?, description = ?, embed_types = ?,
			preloaded_js = ?, preloaded_css = ?, drop_library_css = ?, core_api = ?, semantics = ?,
			updated_at = ?
		WHERE id = ?`, append(args, lib.ID)...)
	if err != nil {
		return fmt.Errorf("update library: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return h5p.ErrLibraryNotFound
	}
	return nil
}

func (r *Repository) DeleteLibrary(ctx context.Context, libraryID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM h5p_libraries WHERE id = ?`, libraryID)
	if err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return h5p.ErrLibraryNotFound
	}
	return nil
}

func (r *Repository) SaveLibraryDependencies(ctx context.Context, libraryID int64, deps []h5p.LibraryRef, depType h5p.DependencyType) error {
	for _, dep := range deps {
		_, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO h5p_library_dependencies (library_id, required_library_id, dependency_type)
			SELECT ?, id, ? FROM h5p_libraries
			WHERE machine_name = ? AND major_version = ? AND minor_version = ?`,
			libraryID, string(depType), dep.MachineName, int(dep.MajorVersion), int(dep.MinorVersion))
		if err != nil {
			return fmt.Errorf("save library dependencies: %w", err)
		}
	}
	return nil
}

func (r *Repository) DeleteLibraryDependencies(ctx context.Context, libraryID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM h5p_library_dependencies WHERE library_id = ?`, libraryID); err != nil {
		return fmt.Errorf("delete library dependencies: %w", err)
	}
	return nil
}

func (r *Repository) ClearFilteredParameters(ctx context.Context, libraryID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE h5p_contents SET filtered = ''
		WHERE library_id = ?
		   OR id IN (SELECT content_id FROM h5p_contents_libraries WHERE library_id = ?)`,
		libraryID, libraryID)
	if err != nil {
		return fmt.Errorf("clear filtered parameters: %w", err)
	}
	return nil
}

func (r *Repository) SetLibraryTutorialURL(ctx context.Context, machineName, url string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE h5p_libraries SET tutorial_url = ? WHERE machine_name = ?`, url, machineName); err != nil {
		return fmt.Errorf("set tutorial url: %w", err)
	}
	return nil
}

func (r *Repository) LibraryContentCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.machine_name, l.major_version, l.minor_version, COUNT(c.id)
		FROM h5p_contents c
		JOIN h5p_libraries l ON l.id = c.library_id
		GROUP BY l.id`)
	if err != nil {
		return nil, fmt.Errorf("library content counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var major, minor, count int
		if err := rows.Scan(&name, &major, &minor, &count); err != nil {
			return nil, err
		}
		ref := h5p.LibraryRef{MachineName: name, MajorVersion: h5p.Version(major), MinorVersion: h5p.Version(minor)}
		counts[ref.String()] = count
	}
	return counts, rows.Err()
}

func (r *Repository) LibraryUsage(ctx context.Context, libraryID int64) (int, int, error) {
	var contents, libraries int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM h5p_contents c
			 WHERE c.library_id = ?1
			    OR c.id IN (SELECT content_id FROM h5p_contents_libraries WHERE library_id = ?1)),
			(SELECT COUNT(DISTINCT library_id) FROM h5p_library_dependencies
			 WHERE required_library_id = ?1 AND library_id <> ?1)`, libraryID).Scan(&contents, &libraries)
	if err != nil {
		return 0, 0, fmt.Errorf("library usage: %w", err)
	}
	return contents, libraries, nil
}

func (r *Repository) contentLibraryID(ctx context.Context, content *h5p.Content) (int64, error) {
	if content.LibraryID != 0 {
		return content.LibraryID, nil
	}
	return r.LibraryID(ctx, content.Library)
}

func (r *Repository) InsertContent(ctx context.Context, content *h5p.Content) (int64, error) {
	libraryID, err := r.contentLibraryID(ctx, content)
	if err != nil {
		return 0, err
	}
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO h5p_contents (
			title, language, parameters, filtered, slug, embed_type, disable, author, license,
			library_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)`,
		content.Title, content.Language, content.Params, content.Filtered, content.Slug, content.EmbedType,
		int(content.Disable), content.Author, content.License, libraryID, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("insert content: %w", err)
	}
	return res.LastInsertId()
}

// UpdateContent replaces the content row and drops its filtered parameters.
func (r *Repository) UpdateContent(ctx context.Context, content *h5p.Content) error {
	libraryID, err := r.contentLibraryID(ctx, content)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE h5p_contents SET
			title = ?, language = ?, parameters = ?, filtered = '', embed_type = ?,
			disable = ?, author = ?, license = ?, library_id = ?, updated_at = ?
		WHERE id = ?`,
		content.Title, content.Language, content.Params, content.EmbedType,
		int(content.Disable), content.Author, content.License, libraryID, now(), content.ID)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) LoadContent(ctx context.Context, contentID int64) (*h5p.Content, error) {
	var content h5p.Content
	var disable, major, minor int
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.language, c.parameters, c.filtered, COALESCE(c.slug, ''), c.embed_type,
		       c.disable, c.author, c.license, c.library_id, l.machine_name, l.major_version, l.minor_version,
		       c.created_at, c.updated_at
		FROM h5p_contents c
		JOIN h5p_libraries l ON l.id = c.library_id
		WHERE c.id = ?`, contentID).Scan(
		&content.ID, &content.Title, &content.Language, &content.Params, &content.Filtered, &content.Slug,
		&content.EmbedType, &disable, &content.Author, &content.License, &content.LibraryID,
		&content.Library.MachineName, &major, &minor, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, h5p.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	content.Disable = h5p.DisableFlags(disable)
	content.Library.MajorVersion, content.Library.MinorVersion = h5p.Version(major), h5p.Version(minor)
	content.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	content.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &content, nil
}

func (r *Repository) UpdateContentFields(ctx context.Context, contentID int64, filtered, slug string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE h5p_contents SET filtered = ?, slug = NULLIF(?, ''), updated_at = ? WHERE id = ?`,
		filtered, slug, now(), contentID)
	if err != nil {
		return fmt.Errorf("update content fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) DeleteContentData(ctx context.Context, contentID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM h5p_contents WHERE id = ?`, contentID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) ResetContentUserData(ctx context.Context, contentID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE h5p_content_user_data SET data = ?, updated_at = ?
		WHERE content_id = ? AND invalidate = 1`, h5p.UserDataReset, now(), contentID)
	if err != nil {
		return fmt.Errorf("reset content user data: %w", err)
	}
	return nil
}

func (r *Repository) SaveContentUserData(ctx context.Context, data *h5p.UserData) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO h5p_content_user_data (
			content_id, user_id, sub_content_id, data_id, data, preload, invalidate, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id, user_id, sub_content_id, data_id) DO UPDATE SET
			data = excluded.data,
			preload = excluded.preload,
			invalidate = excluded.invalidate,
			updated_at = excluded.updated_at`,
		data.ContentID, data.UserID, data.SubContent, data.DataID, data.Data, data.Preload, data.Invalidate, now())
	if isForeignKeyError(err) {
		return h5p.ErrContentNotFound
	}
	if err != nil {
		return fmt.Errorf("save content user data: %w", err)
	}
	return nil
}

func (r *Repository) LoadContentUserData(ctx context.Context, contentID int64) ([]*h5p.UserData, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT content_id, user_id, sub_content_id, data_id, data, preload, invalidate, updated_at
		FROM h5p_content_user_data
		WHERE content_id = ?
		ORDER BY user_id, sub_content_id, data_id`, contentID)
	if err != nil {
		return nil, fmt.Errorf("load content user data: %w", err)
	}
	defer rows.Close()

	var result []*h5p.UserData
	for rows.Next() {
		var data h5p.UserData
		var updatedAt string
		if err := rows.Scan(&data.ContentID, &data.UserID, &data.SubContent, &data.DataID,
			&data.Data, &data.Preload, &data.Invalidate, &updatedAt); err != nil {
			return nil, err
		}
		data.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		result = append(result, &data)
	}
	return result, rows.Err()
}

func (r *Repository) IsContentSlugAvailable(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM h5p_contents WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("slug available: %w", err)
	}
	return n == 0, nil
}

func (r *Repository) SaveLibraryUsage(ctx context.Context, contentID int64, deps h5p.Dependencies) error {
	for _, row := range deps.UsageRows() {
		libraryID := row.LibraryID
		if libraryID == 0 {
			id, err := r.LibraryID(ctx, row.Library)
			if err != nil {
				return err
			}
			libraryID = id
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO h5p_contents_libraries (content_id, library_id, dependency_type, weight, drop_css)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (content_id, library_id, dependency_type) DO UPDATE SET
				weight = excluded.weight,
				drop_css = excluded.drop_css`,
			contentID, libraryID, string(row.Type), row.Weight, row.DropCSS)
		if isForeignKeyError(err) {
			return h5p.ErrContentNotFound
		}
		if err != nil {
			return fmt.Errorf("save library usage: %w", err)
		}
	}
	return nil
}

func (r *Repository) DeleteLibraryUsage(ctx context.Context, contentID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM h5p_contents_libraries WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("delete library usage: %w", err)
	}
	return nil
}

func (r *Repository) CopyLibraryUsage(ctx context.Context, contentID, fromContentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO h5p_contents_libraries (content_id, library_id, dependency_type, weight, drop_css)
		SELECT ?, library_id, dependency_type, weight, drop_css
		FROM h5p_contents_libraries
		WHERE content_id = ?`, contentID, fromContentID)
	if err != nil {
		return fmt.Errorf("copy library usage: %w", err)
	}
	return nil
}

func (r *Repository) LoadContentDependencies(ctx context.Context, contentID int64, depType h5p.DependencyType) ([]*h5p.ContentDependency, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cl.library_id, l.machine_name, l.major_version, l.minor_version,
		       cl.dependency_type, cl.weight, cl.drop_css
		FROM h5p_contents_libraries cl
		JOIN h5p_libraries l ON l.id = cl.library_id
		WHERE cl.content_id = ? AND (? = '' OR cl.dependency_type = ?)
		ORDER BY cl.weight`, contentID, string(depType), string(depType))
	if err != nil {
		return nil, fmt.Errorf("load content dependencies: %w", err)
	}
	defer rows.Close()

	var result []*h5p.ContentDependency
	for rows.Next() {
		var dep h5p.ContentDependency
		var major, minor int
		var t string
		if err := rows.Scan(&dep.LibraryID, &dep.Library.MachineName, &major, &minor, &t, &dep.Weight, &dep.DropCSS); err != nil {
			return nil, err
		}
		dep.Library.MajorVersion, dep.Library.MinorVersion = h5p.Version(major), h5p.Version(minor)
		dep.Type = h5p.DependencyType(t)
		result = append(result, &dep)
	}
	return result, rows.Err()
}

func (r *Repository) GetOption(ctx context.Context, name string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM h5p_options WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get option: %w", err)
	}
	return value, nil
}

func (r *Repository) SetOption(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO h5p_options (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("set option: %w", err)
	}
	return nil
}
