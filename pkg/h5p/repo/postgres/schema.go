package postgres

import "context"

// Schema creates the H5P tables in the current search_path.
const Schema = `
CREATE TABLE IF NOT EXISTS h5p_libraries (
	id BIGSERIAL PRIMARY KEY,
	machine_name VARCHAR(255) NOT NULL,
	title VARCHAR(255) NOT NULL,
	major_version INTEGER NOT NULL,
	minor_version INTEGER NOT NULL,
	patch_version INTEGER NOT NULL,
	runnable BOOLEAN NOT NULL DEFAULT FALSE,
	fullscreen BOOLEAN NOT NULL DEFAULT FALSE,
	author VARCHAR(255) NOT NULL DEFAULT '',
	license VARCHAR(255) NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	embed_types VARCHAR(255) NOT NULL DEFAULT '',
	preloaded_js TEXT NOT NULL DEFAULT '',
	preloaded_css TEXT NOT NULL DEFAULT '',
	drop_library_css TEXT NOT NULL DEFAULT '',
	core_api VARCHAR(32) NOT NULL DEFAULT '',
	semantics TEXT NOT NULL DEFAULT '',
	tutorial_url VARCHAR(1023) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT h5p_libraries_version_key UNIQUE (machine_name, major_version, minor_version)
);

CREATE TABLE IF NOT EXISTS h5p_library_dependencies (
	library_id BIGINT NOT NULL REFERENCES h5p_libraries(id) ON DELETE CASCADE,
	required_library_id BIGINT NOT NULL REFERENCES h5p_libraries(id) ON DELETE CASCADE,
	dependency_type VARCHAR(31) NOT NULL,
	PRIMARY KEY (library_id, required_library_id, dependency_type)
);

CREATE TABLE IF NOT EXISTS h5p_contents (
	id BIGSERIAL PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	language VARCHAR(31) NOT NULL DEFAULT '',
	parameters TEXT NOT NULL,
	filtered TEXT NOT NULL DEFAULT '',
	slug VARCHAR(127),
	embed_type VARCHAR(127) NOT NULL DEFAULT '',
	disable INTEGER NOT NULL DEFAULT 0,
	author VARCHAR(255) NOT NULL DEFAULT '',
	license VARCHAR(255) NOT NULL DEFAULT '',
	library_id BIGINT NOT NULL REFERENCES h5p_libraries(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT h5p_contents_slug_key UNIQUE (slug)
);

CREATE TABLE IF NOT EXISTS h5p_contents_libraries (
	content_id BIGINT NOT NULL REFERENCES h5p_contents(id) ON DELETE CASCADE,
	library_id BIGINT NOT NULL REFERENCES h5p_libraries(id),
	dependency_type VARCHAR(31) NOT NULL,
	weight INTEGER NOT NULL DEFAULT 999999,
	drop_css BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (content_id, library_id, dependency_type)
);

CREATE TABLE IF NOT EXISTS h5p_content_user_data (
	content_id BIGINT NOT NULL REFERENCES h5p_contents(id) ON DELETE CASCADE,
	user_id VARCHAR(255) NOT NULL,
	sub_content_id BIGINT NOT NULL DEFAULT 0,
	data_id VARCHAR(127) NOT NULL,
	data TEXT NOT NULL,
	preload BOOLEAN NOT NULL DEFAULT FALSE,
	invalidate BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (content_id, user_id, sub_content_id, data_id)
);

CREATE TABLE IF NOT EXISTS h5p_options (
	name VARCHAR(255) PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Migrate creates the tables when they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}
