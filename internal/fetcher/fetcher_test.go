package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	for _, src := range []string{path, "file://" + path} {
		rc, err := Open(context.Background(), nil, src)
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		_ = rc.Close()
		assert.Equal(t, "[]", string(data))
	}
}

func TestOpen_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	rc, err := Open(context.Background(), newTestFetcher(), srv.URL)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "remote", string(data))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), nil, "https://example.com/x.csv")
	assert.ErrorContains(t, err, "no fetcher")

	_, err = Open(context.Background(), nil, filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorContains(t, err, "fetcher: open")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://gist.githubusercontent.com/x"))
	assert.True(t, IsRemote("http://localhost:8080/x"))
	assert.False(t, IsRemote("./Precinct_ACS_FullOverlay_final.json"))
	assert.False(t, IsRemote("file:///tmp/x"))
}
