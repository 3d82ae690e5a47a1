package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

const DefaultMaxResponseBytes = 64 << 20

type ClientOption func(*Client)

// WithMaxResponseBytes caps the buffered upstream response body.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// Client performs forwarded calls against upstream services. Responses are
// buffered in full before they are returned.
type Client struct {
	httpClient       *http.Client
	maxResponseBytes int64
}

func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req to endpoint. Transport failures, including the client
// timeout, are wrapped in domain.ErrUpstreamUnavailable. A caller context
// that ends first is reported as domain.ErrClientCanceled. Any other error
// is a local fault.
func (c *Client) Do(ctx context.Context, endpoint domain.Endpoint, req *domain.ForwardRequest) (*domain.ForwardResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(endpoint.BaseURL()), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	httpReq.Header = cloneHeader(req.Header)
	httpReq.Host = endpoint.Address()
	httpReq.ContentLength = int64(len(req.Body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, endpoint, fmt.Errorf("reading response: %w", err))
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: %s: limit %d bytes", domain.ErrResponseTooLarge, endpoint.Name, c.maxResponseBytes)
	}

	return &domain.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// classify separates a caller that went away from an upstream that did not
// answer. Only the latter may count against the upstream.
func classify(ctx context.Context, endpoint domain.Endpoint, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrClientCanceled, endpoint.Name, ctxErr)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, endpoint.Name, err)
}

func cloneHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	// headers listed in Connection are hop-by-hop as well
	for _, value := range out.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	out.Del("Content-Length")
	return out
}
