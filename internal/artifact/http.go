package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kraklabs/builder/internal/errs"
)

// HTTPBackend fetches/uploads artifacts against a plain HTTP(S) object
// endpoint: GET <baseURL>/<hash> to fetch, PUT <baseURL>/<hash> to upload.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// HTTPConfig controls the HTTP backend's transport timeouts.
type HTTPConfig struct {
	BaseURL      string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewHTTPBackend validates baseURL (must be http:// or https://) and returns
// a backend using a client configured per cfg's timeouts.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("artifact: invalid http backend url %q", cfg.BaseURL)
	}
	timeout := cfg.ReadTimeout
	if cfg.WriteTimeout > timeout {
		timeout = cfg.WriteTimeout
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
	}, nil
}

func (b *HTTPBackend) Fetch(ctx context.Context, id ID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/"+id.Hash, nil)
	if err != nil {
		return nil, &errs.NetworkError{Cause: err}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &errs.ArtifactNotFoundError{Hash: id.Hash}
	}
	if resp.StatusCode >= 400 {
		return nil, &errs.NetworkError{Cause: fmt.Errorf("http %d fetching %s", resp.StatusCode, id.Hash)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.NetworkError{Cause: err}
	}
	return data, nil
}

func (b *HTTPBackend) Upload(ctx context.Context, id ID, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+"/"+id.Hash, bytes.NewReader(data))
	if err != nil {
		return &errs.NetworkError{Cause: err}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return &errs.NetworkError{Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &errs.NetworkError{Cause: fmt.Errorf("http %d uploading %s", resp.StatusCode, id.Hash)}
	}
	return nil
}
