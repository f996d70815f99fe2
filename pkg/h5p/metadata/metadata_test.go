package metadata_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/metadata"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/memory"
	"github.com/tendant/simple-h5p/pkg/h5p/repo/repotest"
)

func seededRepo(t *testing.T) *memory.Repository {
	repo := memory.New()
	text := repotest.SaveLibrary(t, repo, "H5P.Text", 1, 2, 7)
	repotest.SaveLibrary(t, repo, "H5P.Column", 1, 13, 0)
	_, err := repo.InsertContent(context.Background(), &h5p.Content{Title: "c", Params: `{}`, Library: text.Ref()})
	require.NoError(t, err)
	return repo
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)

	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(`{
			"uuid": "site-1",
			"libraries": {"H5P.Text": {"tutorialUrl": "https://h5p.org/text"}},
			"latest": {"releasedAt": "2024-01-01", "path": "https://h5p.org/update"}
		}`))
	}))
	defer server.Close()

	f := metadata.New(repo, metadata.WithURL(server.URL), metadata.WithPlatform(metadata.Platform{Name: "test", Version: "2", H5PVersion: "1.24"}))
	resp, err := f.Fetch(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "2", form["api_version"])
	assert.Equal(t, "", form["uuid"])
	assert.Equal(t, "test", form["platform_name"])
	assert.Equal(t, "0", form["disabled"])
	assert.Equal(t, "local", form["type"])
	var stats struct {
		Patch   map[string]map[string]int `json:"patch"`
		Content map[string]int            `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(form["libraries"]), &stats))
	assert.Equal(t, 7, stats.Patch["H5P.Text"]["1.2"])
	assert.Equal(t, 0, stats.Patch["H5P.Column"]["1.13"])
	assert.Equal(t, 1, stats.Content["H5P.Text 1.2"])

	lib, err := repo.LoadLibrary(ctx, h5p.LibraryRef{MachineName: "H5P.Text", MajorVersion: 1, MinorVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, "https://h5p.org/text", lib.TutorialURL)

	uuid, err := repo.GetOption(ctx, metadata.OptionUUID)
	require.NoError(t, err)
	assert.Equal(t, "site-1", uuid)
	released, err := repo.GetOption(ctx, metadata.OptionUpdateAvailable)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", released)
	path, err := repo.GetOption(ctx, metadata.OptionUpdateAvailablePath)
	require.NoError(t, err)
	assert.Equal(t, "https://h5p.org/update", path)
}

func TestFetchKeepsExistingUUID(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)
	require.NoError(t, repo.SetOption(ctx, metadata.OptionUUID, "mine"))

	var sent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = r.FormValue("uuid")
		w.Write([]byte(`{"uuid":"other","libraries":[],"latest":[]}`))
	}))
	defer server.Close()

	resp, err := metadata.New(repo, metadata.WithURL(server.URL)).Fetch(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, resp.Latest)
	assert.Empty(t, resp.Libraries)
	assert.Equal(t, "mine", sent)

	uuid, err := repo.GetOption(ctx, metadata.OptionUUID)
	require.NoError(t, err)
	assert.Equal(t, "mine", uuid)
}

func TestFetchEmptyReply(t *testing.T) {
	repo := seededRepo(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	resp, err := metadata.New(repo, metadata.WithURL(server.URL)).Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestFetchFailure(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := metadata.New(repo, metadata.WithURL(server.URL)).Fetch(ctx, false)
	assert.ErrorContains(t, err, "status 500")

	uuid, err := repo.GetOption(ctx, metadata.OptionUUID)
	require.NoError(t, err)
	assert.Empty(t, uuid)
}
