// Package h5p provides a reusable engine for H5P content packages: it
// validates uploaded ".h5p" archives, installs the libraries they carry,
// stores content and rebuilds distributable archives on demand.
//
// The root package holds the shared model (libraries, content, dependency
// entries), the diagnostics and error taxonomy, and the collaborator
// interfaces the engine consumes. Implementations live in subpackages:
// manifest and semantics validation, dependency resolution, package
// validation, filesystem/S3/memory storage, exporting, persistence
// repositories (memory, Postgres, SQLite), the metadata fetch client,
// configuration and the HTTP API.
//
// Diagnostics
//
// Validation never stops at the first problem. Every manifest, content and
// dependency violation is appended to a Diagnostics list in the order it was
// found, and the overall result is only valid when no error-severity entry
// was recorded. Structural failures (wrong extension, unreadable zip) stop
// validation immediately.
package h5p
