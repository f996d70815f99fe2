package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/internal/columns"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements h5p.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ h5p.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "slug") {
				return fmt.Errorf("content slug already exists")
			}
			if strings.Contains(pgErr.ConstraintName, "libraries") {
				return fmt.Errorf("library version already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found or still in use")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Library operations

const libraryColumns = `id, machine_name, title, major_version, minor_version, patch_version,
	runnable, fullscreen, author, license, description, embed_types,
	preloaded_js, preloaded_css, drop_library_css, core_api, semantics, tutorial_url`

func scanLibrary(row pgx.Row) (*h5p.Library, error) {
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
	query := `
		SELECT l.machine_name, l.major_version, l.minor_version, d.dependency_type
		FROM h5p_library_dependencies d
		JOIN h5p_libraries l ON l.id = d.required_library_id
		WHERE d.library_id = $1
		ORDER BY l.machine_name, l.major_version, l.minor_version`

	rows, err := r.db.Query(ctx, query, lib.ID)
	if err != nil {
		return r.handlePostgresError("load library dependencies", err)
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
	query := `SELECT ` + libraryColumns + `
		FROM h5p_libraries
		WHERE machine_name = $1 AND major_version = $2 AND minor_version = $3`

	lib, err := scanLibrary(r.db.QueryRow(ctx, query, ref.MachineName, int(ref.MajorVersion), int(ref.MinorVersion)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, h5p.ErrLibraryNotFound
		}
		return nil, r.handlePostgresError("load library", err)
	}
	if err := r.loadDependencies(ctx, lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func (r *Repository) LoadLibraries(ctx context.Context) ([]*h5p.Library, error) {
	query := `SELECT ` + libraryColumns + `
		FROM h5p_libraries
		ORDER BY machine_name, major_version, minor_version`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("load libraries", err)
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
	query := `SELECT id FROM h5p_libraries WHERE machine_name = $1 AND major_version = $2 AND minor_version = $3`

	var id int64
	err := r.db.QueryRow(ctx, query, ref.MachineName, int(ref.MajorVersion), int(ref.MinorVersion)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, h5p.ErrLibraryNotFound
		}
		return 0, r.handlePostgresError("library id", err)
	}
	return id, nil
}

func (r *Repository) IsPatchedLibrary(ctx context.Context, lib *h5p.Library) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM h5p_libraries
			WHERE machine_name = $1 AND major_version = $2 AND minor_version = $3 AND patch_version < $4
		)`

	var patched bool
	err := r.db.QueryRow(ctx, query, lib.MachineName, int(lib.MajorVersion), int(lib.MinorVersion), int(lib.PatchVersion)).Scan(&patched)
	if err != nil {
		return false, r.handlePostgresError("is patched library", err)
	}
	return patched, nil
}

func (r *Repository) SaveLibraryData(ctx context.Context, lib *h5p.Library, isNew bool) error {
	var semantics string
	if len(lib.Semantics) > 0 {
		semantics = string(lib.Semantics)
	}
	args := []interface{}{
		lib.MachineName, lib.Title, int(lib.MajorVersion), int(lib.MinorVersion), int(lib.PatchVersion),
		bool(lib.Runnable), bool(lib.Fullscreen), lib.Author, lib.License, lib.Description,
		columns.JoinList(lib.EmbedTypes), columns.JoinFiles(lib.PreloadedJS), columns.JoinFiles(lib.PreloadedCSS),
		columns.JoinDropCSS(lib.DropLibraryCSS), columns.CoreAPI(lib.CoreAPI), semantics,
	}

	if isNew {
		query := `
			INSERT INTO h5p_libraries (
				machine_name, title, major_version, minor_version, patch_version,
				runnable, fullscreen, author, license, description, embed_types,
				preloaded_js, preloaded_css, drop_library_css, core_api, semantics
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`

		if err := r.db.QueryRow(ctx, query, args...).Scan(&lib.ID); err != nil {
			return r.handlePostgresError("insert library", err)
		}
		return nil
	}

	query := `
		UPDATE h5p_libraries SET
			machine_name = $1, title = $2, major_version = $3, minor_version = $4, patch_version = $5,
			runnable = $6, fullscreen = $7, author = $8, license = $9, description = $10, embed_types = $11,
			preloaded_js = $12, preloaded_css = $13, drop_library_css = $14, core_api = $15, semantics = $16,
			updated_at = NOW()
		WHERE id = $17`

	tag, err := r.db.Exec(ctx, query, append(args, lib.ID)...)
	if err != nil {
		return r.handlePostgresError("update library", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrLibraryNotFound
	}
	return nil
}

func (r *Repository) DeleteLibrary(ctx context.Context, libraryID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM h5p_libraries WHERE id = $1`, libraryID)
	if err != nil {
		return r.handlePostgresError("delete library", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrLibraryNotFound
	}
	return nil
}

func (r *Repository) SaveLibraryDependencies(ctx context.Context, libraryID int64, deps []h5p.LibraryRef, depType h5p.DependencyType) error {
	query := `
		INSERT INTO h5p_library_dependencies (library_id, required_library_id, dependency_type)
		SELECT $1, id, $2 FROM h5p_libraries
		WHERE machine_name = $3 AND major_version = $4 AND minor_version = $5
		ON CONFLICT DO NOTHING`

	for _, dep := range deps {
		_, err := r.db.Exec(ctx, query, libraryID, string(depType), dep.MachineName, int(dep.MajorVersion), int(dep.MinorVersion))
		if err != nil {
			return r.handlePostgresError("save library dependencies", err)
		}
	}
	return nil
}

func (r *Repository) DeleteLibraryDependencies(ctx context.Context, libraryID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM h5p_library_dependencies WHERE library_id = $1`, libraryID)
	if err != nil {
		return r.handlePostgresError("delete library dependencies", err)
	}
	return nil
}

func (r *Repository) ClearFilteredParameters(ctx context.Context, libraryID int64) error {
	query := `
		UPDATE h5p_contents SET filtered = ''
		WHERE library_id = $1
		   OR id IN (SELECT content_id FROM h5p_contents_libraries WHERE library_id = $1)`

	if _, err := r.db.Exec(ctx, query, libraryID); err != nil {
		return r.handlePostgresError("clear filtered parameters", err)
	}
	return nil
}

func (r *Repository) SetLibraryTutorialURL(ctx context.Context, machineName, url string) error {
	_, err := r.db.Exec(ctx, `UPDATE h5p_libraries SET tutorial_url = $2 WHERE machine_name = $1`, machineName, url)
	if err != nil {
		return r.handlePostgresError("set tutorial url", err)
	}
	return nil
}

func (r *Repository) LibraryContentCounts(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT l.machine_name, l.major_version, l.minor_version, COUNT(c.id)
		FROM h5p_contents c
		JOIN h5p_libraries l ON l.id = c.library_id
		GROUP BY l.id, l.machine_name, l.major_version, l.minor_version`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("library content counts", err)
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
	query := `
		SELECT
			(SELECT COUNT(*) FROM h5p_contents c
			 WHERE c.library_id = $1
			    OR c.id IN (SELECT content_id FROM h5p_contents_libraries WHERE library_id = $1)),
			(SELECT COUNT(DISTINCT library_id) FROM h5p_library_dependencies
			 WHERE required_library_id = $1 AND library_id <> $1)`

	var contents, libraries int
	if err := r.db.QueryRow(ctx, query, libraryID).Scan(&contents, &libraries); err != nil {
		return 0, 0, r.handlePostgresError("library usage", err)
	}
	return contents, libraries, nil
}

// Content operations

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

	query := `
		INSERT INTO h5p_contents (
			title, language, parameters, filtered, slug, embed_type, disable, author, license, library_id
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err = r.db.QueryRow(ctx, query,
		content.Title, content.Language, content.Params, content.Filtered, content.Slug,
		content.EmbedType, int(content.Disable), content.Author, content.License, libraryID).Scan(&id)
	if err != nil {
		return 0, r.handlePostgresError("insert content", err)
	}
	return id, nil
}

// UpdateContent replaces the content row and drops its filtered parameters.
func (r *Repository) UpdateContent(ctx context.Context, content *h5p.Content) error {
	libraryID, err := r.contentLibraryID(ctx, content)
	if err != nil {
		return err
	}

	query := `
		UPDATE h5p_contents SET
			title = $2, language = $3, parameters = $4, filtered = '', embed_type = $5,
			disable = $6, author = $7, license = $8, library_id = $9, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		content.ID, content.Title, content.Language, content.Params, content.EmbedType,
		int(content.Disable), content.Author, content.License, libraryID)
	if err != nil {
		return r.handlePostgresError("update content", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) LoadContent(ctx context.Context, contentID int64) (*h5p.Content, error) {
	query := `
		SELECT c.id, c.title, c.language, c.parameters, c.filtered, COALESCE(c.slug, ''), c.embed_type,
		       c.disable, c.author, c.license, c.library_id, l.machine_name, l.major_version, l.minor_version,
		       c.created_at, c.updated_at
		FROM h5p_contents c
		JOIN h5p_libraries l ON l.id = c.library_id
		WHERE c.id = $1`

	var content h5p.Content
	var disable, major, minor int
	err := r.db.QueryRow(ctx, query, contentID).Scan(
		&content.ID, &content.Title, &content.Language, &content.Params, &content.Filtered, &content.Slug,
		&content.EmbedType, &disable, &content.Author, &content.License, &content.LibraryID,
		&content.Library.MachineName, &major, &minor, &content.CreatedAt, &content.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, h5p.ErrContentNotFound
		}
		return nil, r.handlePostgresError("load content", err)
	}
	content.Disable = h5p.DisableFlags(disable)
	content.Library.MajorVersion, content.Library.MinorVersion = h5p.Version(major), h5p.Version(minor)
	return &content, nil
}

func (r *Repository) UpdateContentFields(ctx context.Context, contentID int64, filtered, slug string) error {
	query := `UPDATE h5p_contents SET filtered = $2, slug = NULLIF($3, ''), updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, contentID, filtered, slug)
	if err != nil {
		return r.handlePostgresError("update content fields", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) DeleteContentData(ctx context.Context, contentID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM h5p_contents WHERE id = $1`, contentID)
	if err != nil {
		return r.handlePostgresError("delete content", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

// ResetContentUserData marks user data flagged for invalidation as reset.
func (r *Repository) ResetContentUserData(ctx context.Context, contentID int64) error {
	query := `
		UPDATE h5p_content_user_data SET data = $2, updated_at = NOW()
		WHERE content_id = $1 AND invalidate = TRUE`

	if _, err := r.db.Exec(ctx, query, contentID, h5p.UserDataReset); err != nil {
		return r.handlePostgresError("reset content user data", err)
	}
	return nil
}

func (r *Repository) SaveContentUserData(ctx context.Context, data *h5p.UserData) error {
	query := `
		INSERT INTO h5p_content_user_data (
			content_id, user_id, sub_content_id, data_id, data, preload, invalidate, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (content_id, user_id, sub_content_id, data_id) DO UPDATE SET
			data = EXCLUDED.data,
			preload = EXCLUDED.preload,
			invalidate = EXCLUDED.invalidate,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		data.ContentID, data.UserID, data.SubContent, data.DataID, data.Data, data.Preload, data.Invalidate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return h5p.ErrContentNotFound
		}
		return r.handlePostgresError("save content user data", err)
	}
	return nil
}

func (r *Repository) LoadContentUserData(ctx context.Context, contentID int64) ([]*h5p.UserData, error) {
	query := `
		SELECT content_id, user_id, sub_content_id, data_id, data, preload, invalidate, updated_at
		FROM h5p_content_user_data
		WHERE content_id = $1
		ORDER BY user_id, sub_content_id, data_id`

	rows, err := r.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, r.handlePostgresError("load content user data", err)
	}
	defer rows.Close()

	var result []*h5p.UserData
	for rows.Next() {
		var data h5p.UserData
		if err := rows.Scan(&data.ContentID, &data.UserID, &data.SubContent, &data.DataID,
			&data.Data, &data.Preload, &data.Invalidate, &data.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &data)
	}
	return result, rows.Err()
}

func (r *Repository) IsContentSlugAvailable(ctx context.Context, slug string) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM h5p_contents WHERE slug = $1)`, slug).Scan(&taken)
	if err != nil {
		return false, r.handlePostgresError("slug available", err)
	}
	return !taken, nil
}

// Library usage operations

func (r *Repository) SaveLibraryUsage(ctx context.Context, contentID int64, deps h5p.Dependencies) error {
	query := `
		INSERT INTO h5p_contents_libraries (content_id, library_id, dependency_type, weight, drop_css)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_id, library_id, dependency_type) DO UPDATE SET
			weight = EXCLUDED.weight,
			drop_css = EXCLUDED.drop_css`

	for _, row := range deps.UsageRows() {
		libraryID := row.LibraryID
		if libraryID == 0 {
			id, err := r.LibraryID(ctx, row.Library)
			if err != nil {
				return err
			}
			libraryID = id
		}
		_, err := r.db.Exec(ctx, query, contentID, libraryID, string(row.Type), row.Weight, row.DropCSS)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return h5p.ErrContentNotFound
			}
			return r.handlePostgresError("save library usage", err)
		}
	}
	return nil
}

func (r *Repository) DeleteLibraryUsage(ctx context.Context, contentID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM h5p_contents_libraries WHERE content_id = $1`, contentID)
	if err != nil {
		return r.handlePostgresError("delete library usage", err)
	}
	return nil
}

func (r *Repository) CopyLibraryUsage(ctx context.Context, contentID, fromContentID int64) error {
	query := `
		INSERT INTO h5p_contents_libraries (content_id, library_id, dependency_type, weight, drop_css)
		SELECT $1, library_id, dependency_type, weight, drop_css
		FROM h5p_contents_libraries
		WHERE content_id = $2
		ON CONFLICT DO NOTHING`

	if _, err := r.db.Exec(ctx, query, contentID, fromContentID); err != nil {
		return r.handlePostgresError("copy library usage", err)
	}
	return nil
}

func (r *Repository) LoadContentDependencies(ctx context.Context, contentID int64, depType h5p.DependencyType) ([]*h5p.ContentDependency, error) {
	query := `
		SELECT cl.library_id, l.machine_name, l.major_version, l.minor_version,
		       cl.dependency_type, cl.weight, cl.drop_css
		FROM h5p_contents_libraries cl
		JOIN h5p_libraries l ON l.id = cl.library_id
		WHERE cl.content_id = $1 AND ($2::text = '' OR cl.dependency_type = $2::text)
		ORDER BY cl.weight`

	rows, err := r.db.Query(ctx, query, contentID, string(depType))
	if err != nil {
		return nil, r.handlePostgresError("load content dependencies", err)
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

// Site options

func (r *Repository) GetOption(ctx context.Context, name string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM h5p_options WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", r.handlePostgresError("get option", err)
	}
	return value, nil
}

func (r *Repository) SetOption(ctx context.Context, name, value string) error {
	query := `
		INSERT INTO h5p_options (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db.Exec(ctx, query, name, value); err != nil {
		return r.handlePostgresError("set option", err)
	}
	return nil
}

// Truncate removes every row. Used by tests.
func (r *Repository) Truncate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `TRUNCATE h5p_content_user_data, h5p_contents_libraries, h5p_contents,
		h5p_library_dependencies, h5p_libraries, h5p_options RESTART IDENTITY CASCADE`)
	if err != nil {
		return r.handlePostgresError("truncate", err)
	}
	return nil
}
