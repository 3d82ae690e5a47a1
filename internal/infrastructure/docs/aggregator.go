package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/observability"
	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const openAPIVersion = "3.0.3"

// DescriptionFetcher retrieves the raw API description of an upstream.
type DescriptionFetcher interface {
	Fetch(ctx context.Context, endpoint domain.Endpoint) ([]byte, error)
}

// SnapshotStore persists the last good raw description per service.
type SnapshotStore interface {
	Save(ctx context.Context, service string, raw []byte) error
	Load(ctx context.Context, service string) ([]byte, bool, error)
}

type Config struct {
	Title       string
	Version     string
	PublicURL   string
	Concurrency int
}

type Aggregator struct {
	registry  *application.Registry
	fetcher   DescriptionFetcher
	snapshots SnapshotStore
	store     *Store
	metrics   observability.Metrics
	cfg       Config
	refresh   singleflight.Group
}

// NewAggregator builds an aggregator. snapshots may be nil.
func NewAggregator(
	registry *application.Registry,
	fetcher DescriptionFetcher,
	snapshots SnapshotStore,
	store *Store,
	metrics observability.Metrics,
	cfg Config,
) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Aggregator{
		registry:  registry,
		fetcher:   fetcher,
		snapshots: snapshots,
		store:     store,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Refresh builds a new document and makes it current. Concurrent callers
// share a single build.
func (a *Aggregator) Refresh(ctx context.Context) (*Document, error) {
	v, err, _ := a.refresh.Do("build", func() (interface{}, error) {
		doc, err := a.Build(ctx)
		if err != nil {
			return nil, err
		}
		a.store.Swap(doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

type serviceDescription struct {
	endpoint domain.Endpoint
	doc      *openapi3.T
	status   string
	err      error
}

// Build fetches every registered description and merges them. Services that
// cannot be described are skipped; Build only fails if the merged document
// cannot be encoded.
func (a *Aggregator) Build(ctx context.Context) (*Document, error) {
	start := time.Now()
	endpoints := a.registry.Endpoints()
	results := make([]serviceDescription, len(endpoints))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, endpoint := range endpoints {
		g.Go(func() error {
			results[i] = a.describe(ctx, endpoint)
			return nil
		})
	}
	_ = g.Wait()

	m := newMerger()
	statuses := make([]ServiceStatus, 0, len(results))
	counts := map[string]int{StatusLive: 0, StatusSnapshot: 0, StatusUnavailable: 0}

	// sorted service order makes last-writer-wins deterministic
	for _, r := range results {
		status := ServiceStatus{Name: r.endpoint.Name, Status: r.status}
		if r.err != nil {
			status.Error = r.err.Error()
		}
		if r.doc != nil {
			status.Operations = m.add(r.endpoint.Name, r.doc)
		}
		counts[r.status]++
		statuses = append(statuses, status)
	}

	spec := a.assemble(m)

	if len(m.collisions) > 0 {
		err := &domain.CollisionError{Collisions: m.collisions}
		slog.Warn("merged documentation has colliding paths", "error", err.Error(), "count", len(m.collisions))
	}

	if err := spec.Validate(ctx); err != nil {
		slog.Warn("merged documentation failed validation", "error", err)
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged documentation: %w", err)
	}

	for status, n := range counts {
		a.metrics.Set(observability.MetricDocsServices, float64(n), map[string]string{"status": status})
	}
	a.metrics.Observe(observability.MetricDocsBuildDuration, time.Since(start).Seconds(), nil)

	slog.Info("documentation aggregated",
		"services", len(endpoints),
		"live", counts[StatusLive],
		"snapshot", counts[StatusSnapshot],
		"unavailable", counts[StatusUnavailable],
		"paths", spec.Paths.Len(),
		"duration", time.Since(start).String(),
	)

	return &Document{
		Spec:     spec,
		JSON:     raw,
		BuiltAt:  time.Now(),
		Services: statuses,
	}, nil
}

// describe fetches one description, falling back to the stored snapshot.
func (a *Aggregator) describe(ctx context.Context, endpoint domain.Endpoint) serviceDescription {
	result := serviceDescription{endpoint: endpoint, status: StatusUnavailable}

	raw, err := a.fetcher.Fetch(ctx, endpoint)
	if err == nil {
		doc, parseErr := ParseDescription(raw)
		if parseErr == nil {
			a.saveSnapshot(ctx, endpoint.Name, raw)
			result.doc = doc
			result.status = StatusLive
			return result
		}
		err = parseErr
	}
	result.err = err

	slog.Warn("api description unavailable, skipping service",
		"service", endpoint.Name,
		"url", endpoint.BaseURL()+DescriptionPath,
		"error", err,
	)

	if a.snapshots == nil {
		return result
	}

	raw, found, loadErr := a.snapshots.Load(ctx, endpoint.Name)
	if loadErr != nil {
		slog.Warn("failed to load documentation snapshot", "service", endpoint.Name, "error", loadErr)
		return result
	}
	if !found {
		return result
	}

	doc, parseErr := ParseDescription(raw)
	if parseErr != nil {
		slog.Warn("stored documentation snapshot is invalid", "service", endpoint.Name, "error", parseErr)
		return result
	}

	slog.Info("using stored documentation snapshot", "service", endpoint.Name)
	result.doc = doc
	result.status = StatusSnapshot
	return result
}

func (a *Aggregator) saveSnapshot(ctx context.Context, service string, raw []byte) {
	if a.snapshots == nil {
		return
	}
	if err := a.snapshots.Save(ctx, service, raw); err != nil {
		slog.Warn("failed to save documentation snapshot", "service", service, "error", err)
	}
}

func (a *Aggregator) assemble(m *merger) *openapi3.T {
	tags := make(openapi3.Tags, 0, a.registry.Len())
	for _, name := range a.registry.Names() {
		tags = append(tags, &openapi3.Tag{
			Name:        name,
			Description: fmt.Sprintf("Operations of the %s service", name),
		})
	}

	return &openapi3.T{
		OpenAPI: openAPIVersion,
		Info: &openapi3.Info{
			Title:   a.cfg.Title,
			Version: a.cfg.Version,
		},
		Servers:    openapi3.Servers{{URL: a.cfg.PublicURL}},
		Tags:       tags,
		Paths:      m.paths,
		Components: m.components,
	}
}

// merger accumulates re-keyed paths and shared components across services.
type merger struct {
	paths        *openapi3.Paths
	components   *openapi3.Components
	owners       map[string]string
	operationIDs map[string]string
	collisions   []domain.PathCollision
}

func newMerger() *merger {
	return &merger{
		paths:        openapi3.NewPaths(),
		components:   &openapi3.Components{},
		owners:       make(map[string]string),
		operationIDs: make(map[string]string),
	}
}

// add merges doc on behalf of service and returns its operation count.
func (m *merger) add(service string, doc *openapi3.T) int {
	doc = m.isolateComponents(service, doc)
	rewriteOperations(service, doc)

	base := basePath(doc)
	upstreamPaths := doc.Paths.Map()
	keys := make([]string, 0, len(upstreamPaths))
	for k := range upstreamPaths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operations := 0
	for _, path := range keys {
		item := upstreamPaths[path]
		if item == nil {
			continue
		}
		key := gatewayPath(service, base, path)

		existing := m.paths.Value(key)
		if existing == nil {
			existing = &openapi3.PathItem{
				Summary:     item.Summary,
				Description: item.Description,
				Parameters:  item.Parameters,
			}
			m.paths.Set(key, existing)
		}

		methods := item.Operations()
		sortedMethods := make([]string, 0, len(methods))
		for method := range methods {
			sortedMethods = append(sortedMethods, method)
		}
		sort.Strings(sortedMethods)

		for _, method := range sortedMethods {
			op := methods[method]
			owner := method + " " + key
			if prev, taken := m.owners[owner]; taken {
				m.collisions = append(m.collisions, domain.PathCollision{
					Path:       key,
					Method:     method,
					Previous:   prev,
					OverrideBy: service,
				})
			}
			m.owners[owner] = service
			m.uniqueOperationID(service, op)
			existing.SetOperation(method, op)
			operations++
		}
	}

	if doc.Components != nil {
		m.mergeComponents(service, doc.Components)
	}
	return operations
}

// uniqueOperationID prefixes an operation id already used by another service.
func (m *merger) uniqueOperationID(service string, op *openapi3.Operation) {
	if op.OperationID == "" {
		return
	}
	if owner, taken := m.operationIDs[op.OperationID]; taken && owner != service {
		op.OperationID = service + "_" + op.OperationID
	}
	m.operationIDs[op.OperationID] = service
}
