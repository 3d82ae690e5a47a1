package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/http/middleware"
	"github.com/apascualco/foodgate/internal/infrastructure/observability"
	"github.com/apascualco/foodgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

// relayedHeaders are the upstream response headers copied to the client in
// addition to every Set-Cookie value.
var relayedHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Content-Disposition",
	"Cache-Control",
	"ETag",
	"Last-Modified",
	"Location",
}

// statusClientClosedRequest records calls abandoned by the client before the
// upstream answered. Nothing is written back.
const statusClientClosedRequest = 499

// Forwarder sends a buffered request to an upstream endpoint.
type Forwarder interface {
	Do(ctx context.Context, endpoint domain.Endpoint, req *domain.ForwardRequest) (*domain.ForwardResponse, error)
}

type ProxyHandler struct {
	registry     *application.Registry
	breakers     *application.Breakers
	client       Forwarder
	maxBodyBytes int64
	metrics      observability.Metrics
	exporter     tracing.SpanExporter
}

func NewProxyHandler(
	registry *application.Registry,
	breakers *application.Breakers,
	client Forwarder,
	maxBodyBytes int64,
	metrics observability.Metrics,
	exporter tracing.SpanExporter,
) *ProxyHandler {
	return &ProxyHandler{
		registry:     registry,
		breakers:     breakers,
		client:       client,
		maxBodyBytes: maxBodyBytes,
		metrics:      metrics,
		exporter:     exporter,
	}
}

// Handle forwards /api/v1/{service}/* to the registered upstream and relays
// its answer. It is mounted as the router's NoRoute handler.
func (p *ProxyHandler) Handle(c *gin.Context) {
	service, rest, ok := ParseServicePath(domain.APIPrefix, c.Request.URL.EscapedPath())
	if !ok {
		p.reject(c, http.StatusNotFound, "route_not_found", gin.H{
			"error":   "route_not_found",
			"message": "no route matches this path",
		})
		return
	}

	endpoint, err := p.registry.Resolve(service)
	if err != nil {
		p.reject(c, http.StatusNotFound, "service_not_found", gin.H{
			"error":   "service_not_found",
			"message": fmt.Sprintf("service %q is not registered", service),
			"service": service,
		})
		return
	}

	c.Set(middleware.ContextKeyService, service)
	c.Set(middleware.ContextKeyRoute, domain.APIPrefix+"/"+service)

	body, err := p.readBody(c)
	if err != nil {
		if errors.Is(err, domain.ErrBodyTooLarge) {
			p.reject(c, http.StatusRequestEntityTooLarge, "payload_too_large", gin.H{
				"error":   "payload_too_large",
				"message": fmt.Sprintf("request body exceeds %d bytes", p.maxBodyBytes),
			})
			return
		}
		slog.Error("failed to read request body", "service", service, "error", err)
		p.reject(c, http.StatusInternalServerError, "body_read_failed", gin.H{
			"error": "Internal Server Error",
		})
		return
	}

	req := &domain.ForwardRequest{
		Service:  service,
		Method:   c.Request.Method,
		Path:     rest,
		RawQuery: c.Request.URL.RawQuery,
		Header:   p.forwardHeaders(c),
		Body:     body,
	}

	p.forward(c, endpoint, req)
}

func (p *ProxyHandler) forward(c *gin.Context, endpoint domain.Endpoint, req *domain.ForwardRequest) {
	target := req.URL(endpoint.BaseURL())
	requestID := c.GetString(middleware.ContextKeyRequestID)

	slog.Info("forwarding request",
		"service", req.Service,
		"target", target,
		"method", req.Method,
		"path", req.Path,
		"request_id", requestID,
	)

	span := p.startClientSpan(c, req)

	start := time.Now()
	resp, err := p.breakers.Execute(req.Service, func() (*domain.ForwardResponse, error) {
		return p.client.Do(c.Request.Context(), endpoint, req)
	})
	duration := time.Since(start)

	status := http.StatusInternalServerError
	switch {
	case err == nil:
		status = resp.StatusCode
	case errors.Is(err, domain.ErrClientCanceled):
		status = statusClientClosedRequest
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	}

	p.finishClientSpan(span, target, status, start)
	p.metrics.Incr(observability.MetricProxyRequests, map[string]string{
		"service": req.Service,
		"method":  req.Method,
		"status":  strconv.Itoa(status),
	})
	p.metrics.Observe(observability.MetricProxyDuration, duration.Seconds(), map[string]string{
		"service": req.Service,
	})

	if err != nil {
		if status == statusClientClosedRequest {
			slog.Info("client closed request before upstream answered",
				"service", req.Service,
				"target", target,
				"error", err,
				"request_id", requestID,
			)
			c.AbortWithStatus(statusClientClosedRequest)
			return
		}
		if status == http.StatusServiceUnavailable {
			slog.Warn("upstream unavailable",
				"service", req.Service,
				"target", target,
				"error", err,
				"request_id", requestID,
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service Unavailable"})
			return
		}
		slog.Error("failed to forward request",
			"service", req.Service,
			"target", target,
			"error", err,
			"request_id", requestID,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	writeResponse(c, resp)
}

// readBody buffers the raw request body, enforcing the size limit before any
// upstream call is made.
func (p *ProxyHandler) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.ContentLength > p.maxBodyBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", domain.ErrBodyTooLarge, c.Request.ContentLength)
	}
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, p.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit %d bytes", domain.ErrBodyTooLarge, maxErr.Limit)
		}
		return nil, err
	}
	return body, nil
}

func (p *ProxyHandler) forwardHeaders(c *gin.Context) http.Header {
	header := c.Request.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	clientIP := c.RemoteIP()
	if prior := header.Get("X-Forwarded-For"); prior != "" {
		clientIP = prior + ", " + clientIP
	}
	header.Set("X-Forwarded-For", clientIP)

	if c.Request.Host != "" {
		header.Set("X-Forwarded-Host", c.Request.Host)
	}

	proto := "http"
	if c.Request.TLS != nil {
		proto = "https"
	}
	if forwardedProto := c.GetHeader("X-Forwarded-Proto"); forwardedProto != "" {
		proto = forwardedProto
	}
	header.Set("X-Forwarded-Proto", proto)

	if requestID := c.GetString(middleware.ContextKeyRequestID); requestID != "" {
		header.Set(middleware.HeaderRequestID, requestID)
	}

	return header
}

type clientSpan struct {
	trace  *middleware.TraceContext
	spanID string
	name   string
}

// startClientSpan propagates the trace to the upstream with a fresh span id.
func (p *ProxyHandler) startClientSpan(c *gin.Context, req *domain.ForwardRequest) *clientSpan {
	tc, ok := middleware.TraceFromContext(c)
	if !ok {
		return nil
	}

	span := &clientSpan{
		trace:  tc,
		spanID: tracing.NewSpanID(),
		name:   fmt.Sprintf("%s %s", req.Method, req.Service),
	}
	req.Header.Set(middleware.HeaderTraceparent, tracing.Traceparent(tc.TraceID, span.spanID, tc.Flags))
	if tc.State != "" {
		req.Header.Set(middleware.HeaderTracestate, tc.State)
	}
	return span
}

func (p *ProxyHandler) finishClientSpan(span *clientSpan, target string, status int, start time.Time) {
	if span == nil {
		return
	}
	p.exporter.Export(context.Background(), tracing.SpanData{
		TraceID:      span.trace.TraceID,
		SpanID:       span.spanID,
		ParentSpanID: span.trace.SpanID,
		Name:         span.name,
		Kind:         tracing.SpanKindClient,
		StartTime:    start,
		EndTime:      time.Now(),
		StatusCode:   status,
		Attributes: map[string]string{
			"http.url":         target,
			"http.status_code": strconv.Itoa(status),
		},
	})
}

func (p *ProxyHandler) reject(c *gin.Context, status int, reason string, body gin.H) {
	p.metrics.Incr(observability.MetricProxyRejected, map[string]string{"reason": reason})
	c.AbortWithStatusJSON(status, body)
}

func writeResponse(c *gin.Context, resp *domain.ForwardResponse) {
	header := c.Writer.Header()
	for _, cookie := range resp.Cookies() {
		header.Add("Set-Cookie", cookie)
	}
	for _, name := range relayedHeaders {
		for _, v := range resp.Header.Values(name) {
			header.Add(name, v)
		}
	}

	c.Status(resp.StatusCode)
	if len(resp.Body) == 0 {
		c.Writer.WriteHeaderNow()
		return
	}
	_, _ = c.Writer.Write(resp.Body)
}
