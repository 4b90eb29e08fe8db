package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Local serves objects from a base directory.
type Local struct {
	base string
}

// NewLocal creates a filesystem-backed fetcher rooted at base.
func NewLocal(base string) *Local {
	return &Local{base: base}
}

// Fetch opens the file at base/key.
func (l *Local) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "local: fetch cancelled")
	}
	path := filepath.Join(l.base, filepath.Clean("/"+key))
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "local: open %s", path)
	}
	return f, nil
}

// Path resolves a key to its filesystem path without opening it. Shapefile
// loading needs a path rather than a stream.
func (l *Local) Path(key string) string {
	return filepath.Join(l.base, filepath.Clean("/"+key))
}
