// Package feed fetches raw hospital records and keeps a facility.Catalog
// current.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/erpath/internal/facility"
)

// maxBody bounds a feed response.
const maxBody = 8 << 20

// Source yields the current raw records.
type Source interface {
	Fetch(ctx context.Context) ([]facility.RawRecord, error)
}

// Client reads records from an HTTP endpoint serving either a JSON array or
// a {"hospitals": [...]} document.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a client for endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch implements Source.
func (c *Client) Fetch(ctx context.Context) ([]facility.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facility feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facility feed returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return facility.DecodeRecords(body)
}

// File reads records from a local seed file on every fetch.
type File struct {
	Path string
}

// Fetch implements Source.
func (f File) Fetch(_ context.Context) ([]facility.RawRecord, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read facilities file: %w", err)
	}
	return facility.DecodeRecords(data)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
