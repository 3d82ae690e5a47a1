package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/apascualco/foodgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyTrace   = "trace"
	ContextKeyTraceID = "trace_id"
	ContextKeySpanID  = "span_id"

	// ContextKeyRoute is set by handlers that are not bound to a gin route
	// (the proxy) so spans and logs get a low-cardinality name.
	ContextKeyRoute = "route"

	// ContextKeyService holds the upstream service name for proxied requests.
	ContextKeyService = "service"
)

type TraceContext struct {
	TraceID  string
	SpanID   string
	ParentID string
	Flags    string
	State    string
}

type TraceProvider interface {
	Extract(c *gin.Context) *TraceContext
	Inject(c *gin.Context, tc *TraceContext)
}

// TraceFromContext returns the server span context set by TraceMiddleware.
func TraceFromContext(c *gin.Context) (*TraceContext, bool) {
	v, ok := c.Get(ContextKeyTrace)
	if !ok {
		return nil, false
	}
	tc, ok := v.(*TraceContext)
	return tc, ok
}

func TraceMiddleware(provider TraceProvider, exporter tracing.SpanExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		tc := provider.Extract(c)
		if tc.TraceID == "" {
			tc.TraceID = tracing.NewTraceID()
		}
		tc.ParentID = tc.SpanID
		tc.SpanID = tracing.NewSpanID()
		if tc.Flags == "" {
			tc.Flags = "01"
		}

		c.Set(ContextKeyTrace, tc)
		c.Set(ContextKeyTraceID, tc.TraceID)
		c.Set(ContextKeySpanID, tc.SpanID)

		provider.Inject(c, tc)

		c.Next()

		route := c.FullPath()
		if r, ok := c.Get(ContextKeyRoute); ok {
			route = fmt.Sprint(r)
		}

		exporter.Export(context.Background(), tracing.SpanData{
			TraceID:      tc.TraceID,
			SpanID:       tc.SpanID,
			ParentSpanID: tc.ParentID,
			Name:         fmt.Sprintf("%s %s", c.Request.Method, route),
			Kind:         tracing.SpanKindServer,
			StartTime:    start,
			EndTime:      time.Now(),
			StatusCode:   c.Writer.Status(),
			Attributes: map[string]string{
				"http.method":      c.Request.Method,
				"http.target":      c.Request.URL.Path,
				"http.status_code": fmt.Sprintf("%d", c.Writer.Status()),
				"http.route":       route,
				"net.peer.ip":      c.ClientIP(),
			},
		})
	}
}
