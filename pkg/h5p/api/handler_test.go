package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/internal/testutil"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/api"
	"github.com/tendant/simple-h5p/pkg/h5p/engine"
	"github.com/tendant/simple-h5p/pkg/h5p/presets"
)

func newServer(t *testing.T, updateLibraries bool, opts ...api.HandlerOption) *httptest.Server {
	t.Helper()
	eng := presets.NewTesting(t, presets.WithLibraryUpdates(updateLibraries))
	server := httptest.NewServer(api.NewHandler(eng, opts...).Routes())
	t.Cleanup(server.Close)
	return server
}

func greetingPackage(t *testing.T, name string) string {
	t.Helper()
	return testutil.NewPackage().
		Main(t, "Greeting", "H5P.Greeting", "H5P.Greeting 1.2").
		Content(`{"greeting":"<b>Hi</b>"}`).
		Library(t, testutil.Library{
			MachineName: "H5P.Greeting", Major: 1, Minor: 2, Patch: 1, Runnable: true,
			Preloaded: []string{"H5P.Font 1.0"},
			JS:        []string{"greeting.js"},
			Semantics: `[{"name":"greeting","type":"text"}]`,
		}).
		Library(t, testutil.Library{MachineName: "H5P.Font", Major: 1, Minor: 0}).
		Build(t, t.TempDir(), name)
}

func upload(t *testing.T, url, path, token string) *http.Response {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPackageLifecycle(t *testing.T) {
	server := newServer(t, true)

	resp := upload(t, server.URL+"/packages", greetingPackage(t, "greeting.h5p"), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var installed engine.InstallResult
	decode(t, resp, &installed)
	require.NotNil(t, installed.Content)
	assert.Len(t, installed.Added, 2)
	id := strconv.FormatInt(installed.Content.ID, 10)

	resp = do(t, http.MethodGet, server.URL+"/contents/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var content h5p.Content
	decode(t, resp, &content)
	assert.Equal(t, "Greeting", content.Title)
	assert.Equal(t, "greeting", content.Slug)
	assert.Equal(t, `{"greeting":"&lt;b&gt;Hi&lt;/b&gt;"}`, content.Filtered)

	resp = do(t, http.MethodGet, server.URL+"/libraries")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var libs []engine.LibrarySummary
	decode(t, resp, &libs)
	assert.Len(t, libs, 2)

	resp = do(t, http.MethodGet, server.URL+"/contents/"+id+"/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "greeting-"+id+".h5p")
	archive, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(archive, []byte("PK")))

	resp = do(t, http.MethodPost, server.URL+"/contents/"+id+"/copy")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var copied h5p.Content
	decode(t, resp, &copied)
	assert.NotEqual(t, installed.Content.ID, copied.ID)

	resp = do(t, http.MethodDelete, server.URL+"/libraries/H5P.Greeting-1.2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodDelete, server.URL+"/contents/"+id)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, server.URL+"/contents/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInstallInvalidPackage(t *testing.T) {
	server := newServer(t, true)

	resp := upload(t, server.URL+"/packages", greetingPackage(t, "greeting.zip"), "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body api.ErrorResponse
	decode(t, resp, &body)
	assert.NotEmpty(t, body.Error)
	require.NotEmpty(t, body.Diagnostics)
	assert.Equal(t, h5p.KindPackage, body.Diagnostics[0].Kind)
}

func TestValidatePackage(t *testing.T) {
	server := newServer(t, true)

	resp := upload(t, server.URL+"/packages/validate", greetingPackage(t, "greeting.h5p"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body api.ValidateResponse
	decode(t, resp, &body)
	assert.True(t, body.Valid)
	assert.Equal(t, "H5P.Greeting", body.MainLibrary)
	assert.Len(t, body.Libraries, 2)

	resp = do(t, http.MethodGet, server.URL+"/libraries")
	var libs []engine.LibrarySummary
	decode(t, resp, &libs)
	assert.Empty(t, libs)
}

func TestBadRequests(t *testing.T) {
	server := newServer(t, true)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, server.URL+"/contents/abc").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, server.URL+"/contents/0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodDelete, server.URL+"/libraries/nonsense").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, server.URL+"/libraries/H5P.Missing-1.0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, server.URL+"/packages").StatusCode)
}

func TestJWTLibraryUpdates(t *testing.T) {
	auth := api.NewJWTAuth("secret")
	server := newServer(t, false, api.WithJWTAuth(auth))
	path := greetingPackage(t, "greeting.h5p")

	resp := do(t, http.MethodGet, server.URL+"/libraries")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, denied, err := auth.Encode(map[string]interface{}{"sub": "editor"})
	require.NoError(t, err)
	resp = upload(t, server.URL+"/packages", path, denied)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body api.ErrorResponse
	decode(t, resp, &body)
	assert.Contains(t, body.Error, "Missing required library")

	_, allowed, err := auth.Encode(map[string]interface{}{"sub": "admin", api.ClaimMayUpdateLibraries: true})
	require.NoError(t, err)
	resp = upload(t, server.URL+"/packages", path, allowed)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

// countingEngine records how often export work is requested.
type countingEngine struct {
	engine.Engine
	exports, opens int
}

func (e *countingEngine) ExportContent(ctx context.Context, contentID int64) (string, error) {
	e.exports++
	return e.Engine.ExportContent(ctx, contentID)
}

func (e *countingEngine) OpenExport(ctx context.Context, contentID int64) (io.ReadCloser, string, error) {
	e.opens++
	return e.Engine.OpenExport(ctx, contentID)
}

func TestExportOpensOnce(t *testing.T) {
	eng := &countingEngine{Engine: presets.NewTesting(t, presets.WithLibraryUpdates(true))}
	server := httptest.NewServer(api.NewHandler(eng).Routes())
	t.Cleanup(server.Close)

	resp := upload(t, server.URL+"/packages", greetingPackage(t, "greeting.h5p"), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var installed engine.InstallResult
	decode(t, resp, &installed)
	require.NotNil(t, installed.Content)

	resp = do(t, http.MethodGet, server.URL+"/contents/"+strconv.FormatInt(installed.Content.ID, 10)+"/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, 1, eng.opens)
	assert.Zero(t, eng.exports)
}
