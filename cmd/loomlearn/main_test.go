package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))

	cmd := newValidateCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok")

	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 0\n"), 0o644))
	cmd = newValidateCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	assert.Error(t, cmd.Execute())
}

func TestTickCommandPostsToServer(t *testing.T) {
	var gotMethod, gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotKey = r.Method, r.URL.Path, r.Header.Get("X-API-Key")
		w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()
	t.Setenv("LOOMLEARN_API_KEY", "k")

	cmd := newTickCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"fast", "--server", srv.URL})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/learning/ticks/fast", gotPath)
	assert.Equal(t, "k", gotKey)
	assert.Contains(t, out.String(), `"status": "completed"`)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).do(http.MethodGet, "/api/v1/learning/progress", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
