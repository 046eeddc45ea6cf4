package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fakeHub(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPullDownloadsAllArtifacts(t *testing.T) {
	srv := fakeHub(t, map[string]string{
		"/AI4PD/ZymCTRL/resolve/main/config.json":    `{"vocab_size": 458}`,
		"/AI4PD/ZymCTRL/resolve/main/tokenizer.json": `{}`,
		"/AI4PD/ZymCTRL/resolve/main/model.onnx":     "onnx-bytes",
	})

	dest := t.TempDir()
	c := NewClient(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, c.Pull(context.Background(), "AI4PD/ZymCTRL", dest))

	cfg, err := os.ReadFile(filepath.Join(dest, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"vocab_size": 458}`, string(cfg))

	onnx, err := os.ReadFile(filepath.Join(dest, "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(onnx))

	// Optional artifacts absent from the repo must not fail the pull.
	_, err = os.Stat(filepath.Join(dest, "merges.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestPullFallsBackToOnnxSubdirectory(t *testing.T) {
	srv := fakeHub(t, map[string]string{
		"/acme/enzyme/resolve/main/config.json":     `{}`,
		"/acme/enzyme/resolve/main/tokenizer.json":  `{}`,
		"/acme/enzyme/resolve/main/onnx/model.onnx": "nested",
	})

	dest := t.TempDir()
	c := NewClient(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, c.Pull(context.Background(), "acme/enzyme", dest))

	onnx, err := os.ReadFile(filepath.Join(dest, "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(onnx))
}

func TestPullFailsOnMissingRequiredArtifact(t *testing.T) {
	srv := fakeHub(t, map[string]string{
		"/acme/enzyme/resolve/main/tokenizer.json": `{}`,
	})

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	err := c.Pull(context.Background(), "acme/enzyme", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPullSkipsExistingFiles(t *testing.T) {
	srv := fakeHub(t, map[string]string{
		"/acme/enzyme/resolve/main/tokenizer.json": `{}`,
		"/acme/enzyme/resolve/main/model.onnx":     "fresh",
	})

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "config.json"), []byte("local"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "model.onnx"), []byte("local-onnx"), 0o644))

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, c.Pull(context.Background(), "acme/enzyme", dest))

	cfg, err := os.ReadFile(filepath.Join(dest, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "local", string(cfg))

	onnx, err := os.ReadFile(filepath.Join(dest, "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "local-onnx", string(onnx))
}

func TestResolve(t *testing.T) {
	modelsDir := t.TempDir()

	dir, ok := Resolve(modelsDir, "AI4PD/ZymCTRL")
	assert.False(t, ok)
	assert.Equal(t, filepath.Join(modelsDir, "AI4PD--ZymCTRL"), dir)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	dir2, ok := Resolve(modelsDir, "AI4PD/ZymCTRL")
	assert.True(t, ok)
	assert.Equal(t, dir, dir2)

	local := t.TempDir()
	dir3, ok := Resolve(modelsDir, local)
	assert.True(t, ok)
	assert.Equal(t, local, dir3)
}
