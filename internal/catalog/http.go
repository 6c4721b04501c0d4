package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatd/pkg/types"
)

// HTTPCatalog queries a remote JSON model index.
type HTTPCatalog struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTP returns a catalog backed by baseURL with a bounded request timeout.
func NewHTTP(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{BaseURL: baseURL, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *HTTPCatalog) Featured(ctx context.Context, limit, offset int) ([]types.Model, error) {
	q := c.query(limit, offset)
	q.Set("featured", "featured")
	return c.fetch(ctx, q)
}

func (c *HTTPCatalog) Search(ctx context.Context, text string, limit, offset int) ([]types.Model, error) {
	q := c.query(limit, offset)
	q.Set("search", text)
	return c.fetch(ctx, q)
}

// Model searches by id and keeps the exact match.
func (c *HTTPCatalog) Model(ctx context.Context, id string) (types.Model, error) {
	models, err := c.Search(ctx, id, DefaultPageSize, 0)
	if err != nil {
		return types.Model{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}

func (c *HTTPCatalog) query(limit, offset int) url.Values {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("status", "published")
	q.Set("trace_status", "tracing")
	q.Set("order", "most_likes")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

func (c *HTTPCatalog) fetch(ctx context.Context, q url.Values) ([]types.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request: unexpected status %d", resp.StatusCode)
	}
	var models []types.Model
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return withFileIDs(models), nil
}
