package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// HTTP serves objects from an HTTP(S) object store by URL prefix.
type HTTP struct {
	base   string
	client *http.Client
}

// NewHTTP creates an HTTP-backed fetcher. A nil client uses
// http.DefaultClient.
func NewHTTP(base string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{base: strings.TrimRight(base, "/"), client: client}
}

// Fetch GETs base/key and returns the response body.
func (h *HTTP) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	url := h.base + "/" + strings.TrimLeft(key, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "http: build request for %s", url)
	}

	zap.L().Debug("http: fetching object", zap.String("url", url))
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "http: get %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("http: get %s returned status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
