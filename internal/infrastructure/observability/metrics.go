package observability

type Counter interface {
	Incr(name string, tags map[string]string)
	Add(name string, value float64, tags map[string]string)
}

type Gauge interface {
	Set(name string, value float64, tags map[string]string)
}

type Histogram interface {
	Observe(name string, value float64, tags map[string]string)
}

// Metrics is the full recorder surface used by the gateway.
type Metrics interface {
	Counter
	Gauge
	Histogram
}

const (
	MetricProxyRequests      = "proxy_requests_total"
	MetricProxyDuration      = "proxy_request_duration_seconds"
	MetricProxyRejected      = "proxy_rejected_total"
	MetricDocsServices       = "docs_services"
	MetricDocsBuildDuration  = "docs_build_duration_seconds"
	MetricRateLimitDecisions = "ratelimit_decisions_total"
)
