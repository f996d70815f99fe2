package h5p

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostics(t *testing.T) {
	var ds Diagnostics
	assert.False(t, ds.HasErrors())
	assert.NoError(t, ds.Err())

	ds.Warnf(KindDependency, "missing %s", "H5P.Foo 1.0")
	assert.False(t, ds.HasErrors())
	assert.NoError(t, ds.Err())

	ds.Errorf(KindManifest, "invalid data for %s in %s", "title", "h5p.json")
	ds.Errorf(KindContent, "bad value")

	items := ds.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "missing H5P.Foo 1.0", items[0].Message)
	assert.Equal(t, SeverityWarning, items[0].Severity)

	assert.True(t, ds.HasErrors())
	assert.True(t, ds.HasErrors(KindManifest))
	assert.False(t, ds.HasErrors(KindPackage, KindDependency))

	err := ds.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrManifest))
	assert.True(t, errors.Is(err, ErrContentValidation))
	assert.False(t, errors.Is(err, ErrDependency))
}

func TestNilDiagnostics(t *testing.T) {
	var ds *Diagnostics
	ds.Errorf(KindPackage, "ignored")
	assert.Equal(t, 0, ds.Len())
	assert.False(t, ds.HasErrors())
	assert.Nil(t, ds.Items())
}

func TestStorageErrorIs(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Op: "save_library", Path: "/tmp/x", Err: cause}
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save_library")
}
