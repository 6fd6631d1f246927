package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slm-core/internal/di"
	"slm-core/internal/facade"
	"slm-core/internal/httpapi"
)

func newTestServer(t *testing.T) (*httptest.Server, *facade.Facade) {
	t.Helper()
	dir := t.TempDir()
	assembled, err := di.InitializeFacade(di.Options{
		DBPath:      filepath.Join(dir, "memory.db"),
		BackupDir:   filepath.Join(dir, "backups"),
		PointerPath: filepath.Join(dir, "profiles.json"),
		ConfigPath:  filepath.Join(dir, "config.json"),
		LogLevel:    "error",
	})
	require.NoError(t, err)
	t.Cleanup(func() { assembled.DB.Close() })

	router := httpapi.NewRouter(assembled.Facade, assembled.Log)
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return srv, assembled.Facade
}

func TestHandleStatsReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleMemoryNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/memories/999999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Kind)
}

func TestHandleMemoryInvalidIDReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/memories/not-a-number")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleMemoriesListsAddedNotes(t *testing.T) {
	srv, f := newTestServer(t)
	_, err := f.Add(facade.AddParams{Profile: "default", Content: "a note reachable over http"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/memories")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var notes []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "a note reachable over http", notes[0]["Content"])
}

func TestHandleSearchPostsBodyAndReturnsHits(t *testing.T) {
	srv, f := newTestServer(t)
	_, err := f.Add(facade.AddParams{Profile: "default", Content: "searchable content about golang channels"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"profile": "default", "query": "golang channels"})
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSearchMalformedBodyReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleExportUnsupportedFormatReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/export?format=xml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleExportDefaultsToJSON(t *testing.T) {
	srv, f := newTestServer(t)
	_, err := f.Add(facade.AddParams{Profile: "default", Content: "exported over http"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandleClusterDetailInvalidIDReturns400(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/clusters/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOnlyGETAndPOSTAreAllowedByCORS(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/memories", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
