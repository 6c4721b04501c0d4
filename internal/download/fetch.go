package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// artifactURL is <base>/<model id>/resolve/main/<file name>.
func (p *Pool) artifactURL(modelID, name string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + modelID + "/resolve/main/" + url.PathEscape(name)
}

func (p *Pool) newRequest(ctx context.Context, method, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	return req, nil
}

// contentLength issues a HEAD request. Zero means the remote did not say.
func (p *Pool) contentLength(ctx context.Context, u string) (int64, error) {
	req, err := p.newRequest(ctx, http.MethodHead, u)
	if err != nil {
		return 0, err
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", u, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("head %s: status %d", u, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// body is the remote byte stream starting at the requested offset.
type body struct {
	io.ReadCloser
	// done is set when the remote reports nothing left past the offset.
	done bool
}

// openFrom requests the artifact from offset. A server that ignores Range
// gets the already-present prefix discarded so the stream still starts at offset.
func (p *Pool) openFrom(ctx context.Context, u string, offset int64) (*body, error) {
	req, err := p.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return &body{ReadCloser: resp.Body}, nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		resp.Body.Close()
		return &body{ReadCloser: io.NopCloser(strings.NewReader("")), done: true}, nil
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("skip %d bytes: %w", offset, err)
			}
		}
		return &body{ReadCloser: resp.Body}, nil
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d", u, resp.StatusCode)
	}
}
