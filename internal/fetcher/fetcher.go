// Package fetcher retrieves source table objects by key from a configured
// backend: local filesystem, HTTP object store, or FTP.
package fetcher

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves a stored object by key.
type Fetcher interface {
	// Fetch returns the object's contents. The caller must close the reader.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// New selects a backend by name. base is the directory (local) or URL prefix
// (http/ftp) keys resolve against.
func New(backend, base string) (Fetcher, error) {
	switch backend {
	case "local", "":
		return NewLocal(base), nil
	case "http", "https":
		return NewHTTP(base, nil), nil
	case "ftp":
		return NewFTP(base, FTPOptions{}), nil
	default:
		return nil, eris.Errorf("fetcher: unknown backend %q", backend)
	}
}
