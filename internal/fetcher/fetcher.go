// Package fetcher provides the transport helpers used by provider fetchers:
// rate-limited HTTP with retry, FTP downloads, and XLSX parsing.
package fetcher

import (
	"context"
	"io"
)

// Downloader fetches remote data.
type Downloader interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
