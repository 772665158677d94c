package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxStateResponse caps how much of a full-state response is read.
const maxStateResponse = 8 << 20

// HTTPStateFetcher fetches the complete Agent and Task collections from the
// remote gateway.
type HTTPStateFetcher struct {
	URL    string
	Header http.Header
	Client *http.Client
}

// NewHTTPStateFetcher creates a fetcher with a 10s timeout.
func NewHTTPStateFetcher(url string) *HTTPStateFetcher {
	return &HTTPStateFetcher{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchState implements StateFetcher.
func (f *HTTPStateFetcher) FetchState(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build state request: %w", err)
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("state request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("state request: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStateResponse))
	if err != nil {
		return nil, fmt.Errorf("read state response: %w", err)
	}
	return raw, nil
}
