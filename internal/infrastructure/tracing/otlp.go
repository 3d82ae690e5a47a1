package tracing

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 5 * time.Second
	instrumentationScope = "github.com/apascualco/foodgate"
)

type OTLPOption func(*OTLPExporter)

func WithServiceVersion(version string) OTLPOption {
	return func(e *OTLPExporter) { e.serviceVersion = version }
}

func WithBatchSize(n int) OTLPOption {
	return func(e *OTLPExporter) { e.batchSize = n }
}

func WithBufferSize(n int) OTLPOption {
	return func(e *OTLPExporter) { e.bufferSize = n }
}

func WithFlushInterval(d time.Duration) OTLPOption {
	return func(e *OTLPExporter) { e.flushInterval = d }
}

// OTLPExporter batches spans and posts them as OTLP/HTTP protobuf to
// {endpoint}/v1/traces. Spans are dropped when the buffer is full.
type OTLPExporter struct {
	endpoint       string
	serviceName    string
	serviceVersion string
	batchSize      int
	bufferSize     int
	flushInterval  time.Duration
	client         *http.Client
	spans          chan SpanData
	done           chan struct{}
	wg             sync.WaitGroup
}

func NewOTLPExporter(endpoint, serviceName string, opts ...OTLPOption) *OTLPExporter {
	e := &OTLPExporter{
		endpoint:      endpoint,
		serviceName:   serviceName,
		batchSize:     defaultBatchSize,
		bufferSize:    defaultBufferSize,
		flushInterval: defaultFlushInterval,
		client:        &http.Client{Timeout: 10 * time.Second},
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.spans = make(chan SpanData, e.bufferSize)

	e.wg.Add(1)
	go e.run()
	return e
}

func (e *OTLPExporter) Export(_ context.Context, span SpanData) {
	select {
	case e.spans <- span:
	default:
		slog.Warn("otlp exporter: span dropped, buffer full", "span", span.Name)
	}
}

func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	close(e.done)

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *OTLPExporter) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	batch := make([]SpanData, 0, e.batchSize)
	add := func(span SpanData) {
		batch = append(batch, span)
		if len(batch) >= e.batchSize {
			e.send(batch)
			batch = make([]SpanData, 0, e.batchSize)
		}
	}

	for {
		select {
		case span := <-e.spans:
			add(span)
		case <-ticker.C:
			if len(batch) > 0 {
				e.send(batch)
				batch = make([]SpanData, 0, e.batchSize)
			}
		case <-e.done:
			for {
				select {
				case span := <-e.spans:
					add(span)
				default:
					if len(batch) > 0 {
						e.send(batch)
					}
					return
				}
			}
		}
	}
}

func (e *OTLPExporter) send(batch []SpanData) {
	if err := e.post(batch); err != nil {
		slog.Error("otlp exporter: failed to send spans",
			slog.String("error", err.Error()),
			slog.Int("count", len(batch)),
		)
	}
}

func (e *OTLPExporter) post(batch []SpanData) error {
	body, err := proto.Marshal(e.encode(batch))
	if err != nil {
		return fmt.Errorf("marshal traces: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint+"/v1/traces", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector responded with status %d", resp.StatusCode)
	}
	return nil
}

func (e *OTLPExporter) encode(batch []SpanData) *tracepb.TracesData {
	spans := make([]*tracepb.Span, 0, len(batch))
	for _, s := range batch {
		spans = append(spans, spanDataToProto(s))
	}

	resource := map[string]string{"service.name": e.serviceName}
	if e.serviceVersion != "" {
		resource["service.version"] = e.serviceVersion
	}

	return &tracepb.TracesData{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: &resourcepb.Resource{Attributes: toProtoAttributes(resource)},
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Scope: &commonpb.InstrumentationScope{Name: instrumentationScope},
						Spans: spans,
					},
				},
			},
		},
	}
}

func spanDataToProto(s SpanData) *tracepb.Span {
	traceID, _ := hex.DecodeString(s.TraceID)
	spanID, _ := hex.DecodeString(s.SpanID)

	span := &tracepb.Span{
		TraceId:           traceID,
		SpanId:            spanID,
		Name:              s.Name,
		Kind:              toProtoSpanKind(s.Kind),
		StartTimeUnixNano: uint64(s.StartTime.UnixNano()),
		EndTimeUnixNano:   uint64(s.EndTime.UnixNano()),
		Status:            toProtoStatus(s.StatusCode),
		Attributes:        toProtoAttributes(s.Attributes),
	}

	if s.ParentSpanID != "" {
		span.ParentSpanId, _ = hex.DecodeString(s.ParentSpanID)
	}
	return span
}

func toProtoSpanKind(k SpanKind) tracepb.Span_SpanKind {
	switch k {
	case SpanKindServer:
		return tracepb.Span_SPAN_KIND_SERVER
	case SpanKindClient:
		return tracepb.Span_SPAN_KIND_CLIENT
	default:
		return tracepb.Span_SPAN_KIND_UNSPECIFIED
	}
}

// toProtoStatus marks 5xx responses and spans without a response (status 0)
// as errors.
func toProtoStatus(httpStatus int) *tracepb.Status {
	if httpStatus == 0 || httpStatus >= 500 {
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR}
	}
	return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK}
}

func toProtoAttributes(attrs map[string]string) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]*commonpb.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, &commonpb.KeyValue{
			Key:   k,
			Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}},
		})
	}
	return kvs
}
