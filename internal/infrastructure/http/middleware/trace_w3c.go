package middleware

import (
	"regexp"
	"strings"

	"github.com/apascualco/foodgate/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

const (
	HeaderTraceparent = "Traceparent"
	HeaderTracestate  = "Tracestate"
)

var traceparentRegex = regexp.MustCompile(`^00-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

var (
	zeroTraceID = strings.Repeat("0", 32)
	zeroSpanID  = strings.Repeat("0", 16)
)

// W3CTraceProvider reads and writes W3C trace context headers.
type W3CTraceProvider struct{}

func NewW3CTraceProvider() *W3CTraceProvider {
	return &W3CTraceProvider{}
}

func (w *W3CTraceProvider) Extract(c *gin.Context) *TraceContext {
	tc := &TraceContext{}

	if matches := traceparentRegex.FindStringSubmatch(c.GetHeader(HeaderTraceparent)); len(matches) == 4 {
		if matches[1] != zeroTraceID && matches[2] != zeroSpanID {
			tc.TraceID = matches[1]
			tc.SpanID = matches[2]
			tc.Flags = matches[3]
		}
	}

	tc.State = c.GetHeader(HeaderTracestate)
	return tc
}

// Inject echoes the gateway span on the response.
func (w *W3CTraceProvider) Inject(c *gin.Context, tc *TraceContext) {
	c.Header(HeaderTraceparent, tracing.Traceparent(tc.TraceID, tc.SpanID, tc.Flags))
	if tc.State != "" {
		c.Header(HeaderTracestate, tc.State)
	}
}
