package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
)

// DescriptionPath is where every upstream publishes its API description.
const DescriptionPath = "/docs-json"

const maxDescriptionBytes = 16 << 20

// Fetcher downloads raw API descriptions from upstream services.
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the raw description published by endpoint. Every failure is
// wrapped in domain.ErrDocsUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, endpoint domain.Endpoint) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.BaseURL()+DescriptionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDocsUnavailable, endpoint.Name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDocsUnavailable, endpoint.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrDocsUnavailable, endpoint.Name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %v", domain.ErrDocsUnavailable, endpoint.Name, err)
	}
	if len(raw) > maxDescriptionBytes {
		return nil, fmt.Errorf("%w: %s: description larger than %d bytes", domain.ErrDocsUnavailable, endpoint.Name, maxDescriptionBytes)
	}
	return raw, nil
}
