package domain

import "net/http"

// ForwardRequest is the request relayed to an upstream service. Body holds
// the raw bytes read from the client, never re-encoded.
type ForwardRequest struct {
	Service  string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// URL returns the upstream URL of the request relative to baseURL.
func (r *ForwardRequest) URL(baseURL string) string {
	u := baseURL + r.Path
	if r.RawQuery != "" {
		u += "?" + r.RawQuery
	}
	return u
}

type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Cookies returns every Set-Cookie value of the response in order.
func (r *ForwardResponse) Cookies() []string {
	if r.Header == nil {
		return nil
	}
	return r.Header.Values("Set-Cookie")
}
