// Package fetcher downloads the precinct, boundary and census source files
// and streams CSV and JSON records out of them.
package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches url and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadIfChanged fetches url unless its ETag still matches etag.
	// Returns (body, newETag, changed, error); body is nil when unchanged.
	DownloadIfChanged(ctx context.Context, url, etag string) (io.ReadCloser, string, bool, error)
}

// IsRemote reports whether src is an http(s) URL rather than a local path.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Open returns a reader for src, downloading it with f when it is a URL and
// opening it from disk otherwise. A "file://" prefix is accepted.
func Open(ctx context.Context, f Fetcher, src string) (io.ReadCloser, error) {
	if IsRemote(src) {
		if f == nil {
			return nil, eris.Errorf("fetcher: no fetcher for %s", src)
		}
		return f.Download(ctx, src)
	}
	path := strings.TrimPrefix(src, "file://")
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return file, nil
}
