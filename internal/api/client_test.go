// internal/api/client_test.go
package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldctf/engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "secret", c.apiKey)
	assert.NotNil(t, c.httpClient)
}

func TestHealthcheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HealthPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	assert.ErrorContains(t, New("http://127.0.0.1:1", "").Healthcheck(context.Background()), "healthcheck")
}

func TestHealthcheck_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New("http://127.0.0.1:1", "").Healthcheck(ctx), context.Canceled)
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	assert.EqualError(t, New(server.URL, "").Healthcheck(context.Background()), "healthcheck: status 500")
}

func TestUploadReport(t *testing.T) {
	var form map[string]string
	var content []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UploadPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(10<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		form = map[string]string{}
		for _, k := range []string{"secret", "filename", "gameID", "title", "winners", "duration", "tag"} {
			form[k] = r.FormValue(k)
		}

		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "ABCDE.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("report"), 0o644))

	report := core.MatchReport{GameID: "ABCDE", Title: "Park game", Winners: core.TeamGreen, Duration: 1800.5}
	require.NoError(t, New(server.URL, "mysecret").UploadReport(context.Background(), path, report, "casual"))

	assert.Equal(t, map[string]string{
		"secret":   "mysecret",
		"filename": "ABCDE.json.gz",
		"gameID":   "ABCDE",
		"title":    "Park game",
		"winners":  "Green",
		"duration": "1800.5",
		"tag":      "casual",
	}, form)
	assert.Equal(t, "report", string(content))
}

func TestUploadReport_MissingFile(t *testing.T) {
	err := New("http://localhost:5000", "secret").UploadReport(context.Background(), "/nonexistent/file.json.gz", core.MatchReport{}, "")
	assert.ErrorContains(t, err, "open report")
}

func TestUploadReport_RejectedShowsReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "bad secret", http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "g.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	err := New(server.URL, "wrong-secret").UploadReport(context.Background(), path, core.MatchReport{}, "")
	assert.EqualError(t, err, "upload: status 403: bad secret")
}
