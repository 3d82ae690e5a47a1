package docs

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/observability"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgetsDoc = `{
  "openapi": "3.0.0",
  "info": {"title": "svc", "version": "1.0"},
  "paths": {
    "/widgets": {
      "get": {
        "description": "List widgets",
        "responses": {"200": {"description": "Widgets of {service}"}}
      }
    }
  }
}`

type memorySnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{data: make(map[string][]byte)}
}

func (m *memorySnapshots) Save(_ context.Context, service string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service] = raw
	return nil
}

func (m *memorySnapshots) Load(_ context.Context, service string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[service]
	return raw, ok, nil
}

type staticFetcher struct {
	docs  map[string]string
	calls atomic.Int64
}

func (f *staticFetcher) Fetch(_ context.Context, endpoint domain.Endpoint) ([]byte, error) {
	f.calls.Add(1)
	raw, ok := f.docs[endpoint.Name]
	if !ok {
		return nil, domain.ErrDocsUnavailable
	}
	return []byte(raw), nil
}

func docsUpstream(t *testing.T, name, doc string) domain.Endpoint {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DescriptionPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return endpointFor(t, name, srv.URL)
}

func endpointFor(t *testing.T, name, rawURL string) domain.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.Endpoint{Name: name, Host: host, Port: port}
}

func newTestAggregator(t *testing.T, fetcher DescriptionFetcher, snapshots SnapshotStore, endpoints ...domain.Endpoint) (*Aggregator, *Store) {
	t.Helper()
	registry, err := application.NewRegistry(endpoints)
	require.NoError(t, err)
	store := NewStore()
	agg := NewAggregator(registry, fetcher, snapshots, store, observability.Noop{}, Config{
		Title:       "Food Ordering API",
		Version:     "test",
		PublicURL:   "https://gateway.example.com",
		Concurrency: 2,
	})
	return agg, store
}

func TestBuild_SkipsUnreachableService(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downEndpoint := endpointFor(t, "rating", down.URL)
	down.Close()

	agg, _ := newTestAggregator(t, NewFetcher(time.Second), nil,
		docsUpstream(t, "order", widgetsDoc),
		docsUpstream(t, "store", widgetsDoc),
		downEndpoint,
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, doc.Spec.Paths.Value("/api/v1/order/widgets"))
	assert.NotNil(t, doc.Spec.Paths.Value("/api/v1/store/widgets"))
	assert.Nil(t, doc.Spec.Paths.Value("/api/v1/rating/widgets"))
	assert.Equal(t, 2, doc.Spec.Paths.Len())

	require.Len(t, doc.Services, 3)
	statuses := map[string]ServiceStatus{}
	for _, s := range doc.Services {
		statuses[s.Name] = s
	}
	assert.Equal(t, StatusLive, statuses["order"].Status)
	assert.Equal(t, 1, statuses["order"].Operations)
	assert.Equal(t, StatusUnavailable, statuses["rating"].Status)
	assert.NotEmpty(t, statuses["rating"].Error)
}

func TestBuild_SamePathInTwoServicesNeverCollides(t *testing.T) {
	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{
		"service-a": widgetsDoc,
		"service-b": widgetsDoc,
	}}, nil,
		domain.Endpoint{Name: "service-a", Host: "a", Port: 1},
		domain.Endpoint{Name: "service-b", Host: "b", Port: 2},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	a := doc.Spec.Paths.Value("/api/v1/service-a/widgets")
	b := doc.Spec.Paths.Value("/api/v1/service-b/widgets")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, []string{"service-a"}, a.Get.Tags)
	assert.Equal(t, []string{"service-b"}, b.Get.Tags)
}

func TestBuild_RewritesOperations(t *testing.T) {
	const orderDoc = `{
	  "openapi": "3.0.0",
	  "info": {"title": "order", "version": "1.0"},
	  "paths": {
	    "/orders": {
	      "get": {
	        "tags": ["Orders"],
	        "description": "List orders",
	        "responses": {
	          "200": {"description": "Orders returned by {service}"},
	          "404": {"description": "Not found"}
	        }
	      },
	      "post": {
	        "summary": "Create order",
	        "responses": {"201": {"description": "Created in {service}"}}
	      }
	    }
	  }
	}`

	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{"order": orderDoc}}, nil,
		domain.Endpoint{Name: "order", Host: "order", Port: 5005})

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	item := doc.Spec.Paths.Value("/api/v1/order/orders")
	require.NotNil(t, item)

	assert.Equal(t, []string{"Orders"}, item.Get.Tags)
	assert.Equal(t, "[order] List orders", item.Get.Description)
	assert.Equal(t, "Orders returned by order", *item.Get.Responses.Value("200").Value.Description)
	assert.Equal(t, "Not found", *item.Get.Responses.Value("404").Value.Description)

	assert.Equal(t, []string{"order"}, item.Post.Tags)
	assert.Empty(t, item.Post.Description)
	assert.Equal(t, "Created in order", *item.Post.Responses.Value("201").Value.Description)
}

func TestBuild_DocumentMetadata(t *testing.T) {
	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{"dish": widgetsDoc}}, nil,
		domain.Endpoint{Name: "dish", Host: "dish", Port: 5004},
		domain.Endpoint{Name: "cart", Host: "cart", Port: 5006},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	var decoded struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(doc.JSON, &decoded))

	assert.Equal(t, "3.0.3", decoded.OpenAPI)
	assert.Equal(t, "Food Ordering API", decoded.Info.Title)
	assert.Equal(t, "test", decoded.Info.Version)
	require.Len(t, decoded.Servers, 1)
	assert.Equal(t, "https://gateway.example.com", decoded.Servers[0].URL)
	require.Len(t, decoded.Tags, 2)
	assert.Equal(t, "cart", decoded.Tags[0].Name)
	assert.Equal(t, "dish", decoded.Tags[1].Name)
	assert.Contains(t, decoded.Paths, "/api/v1/dish/widgets")
	assert.False(t, doc.BuiltAt.IsZero())
}

func TestBuild_SwaggerTwoWithBasePath(t *testing.T) {
	const swaggerDoc = `{
	  "swagger": "2.0",
	  "info": {"title": "notification", "version": "1.0"},
	  "basePath": "/v2",
	  "paths": {
	    "/subscriptions": {
	      "post": {
	        "description": "Subscribe",
	        "responses": {"201": {"description": "Subscribed to {service}"}}
	      }
	    }
	  }
	}`

	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{"notification": swaggerDoc}}, nil,
		domain.Endpoint{Name: "notification", Host: "notification", Port: 5009})

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	item := doc.Spec.Paths.Value("/api/v1/notification/v2/subscriptions")
	require.NotNil(t, item)
	require.NotNil(t, item.Post)
	assert.Equal(t, "[notification] Subscribe", item.Post.Description)
	assert.Equal(t, "Subscribed to notification", *item.Post.Responses.Value("201").Value.Description)
}

func TestBuild_MergesComponentsAndDeduplicatesOperationIDs(t *testing.T) {
	docFor := func(schema string) string {
		return `{
		  "openapi": "3.0.0",
		  "info": {"title": "x", "version": "1.0"},
		  "paths": {"/items": {"get": {"operationId": "listItems", "responses": {"200": {"description": "ok"}}}}},
		  "components": {"schemas": {"` + schema + `": {"type": "object"}, "Error": {"type": "object"}}}
		}`
	}

	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{
		"cart":  docFor("CartItem"),
		"store": docFor("StoreItem"),
	}}, nil,
		domain.Endpoint{Name: "cart", Host: "cart", Port: 5006},
		domain.Endpoint{Name: "store", Host: "store", Port: 5003},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	schemas := doc.Spec.Components.Schemas
	assert.Contains(t, schemas, "CartItem")
	assert.Contains(t, schemas, "StoreItem")
	assert.Contains(t, schemas, "Error")

	assert.Equal(t, "listItems", doc.Spec.Paths.Value("/api/v1/cart/items").Get.OperationID)
	assert.Equal(t, "store_listItems", doc.Spec.Paths.Value("/api/v1/store/items").Get.OperationID)
}

func TestBuild_NamespacesConflictingComponents(t *testing.T) {
	docFor := func(path, property string) string {
		return `{
		  "openapi": "3.0.0",
		  "info": {"title": "x", "version": "1.0"},
		  "paths": {"` + path + `": {"get": {"responses": {"200": {
		    "description": "ok",
		    "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Item"}}}
		  }}}}},
		  "components": {"schemas": {
		    "Item": {"type": "object", "properties": {"` + property + `": {"type": "string"}}},
		    "Error": {"type": "object"}
		  }}
		}`
	}

	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{
		"dish":  docFor("/dishes", "dishName"),
		"store": docFor("/stores", "storeAddress"),
	}}, nil,
		domain.Endpoint{Name: "dish", Host: "dish", Port: 5002},
		domain.Endpoint{Name: "store", Host: "store", Port: 5003},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	schemas := doc.Spec.Components.Schemas
	require.Contains(t, schemas, "Item")
	require.Contains(t, schemas, "store.Item")
	assert.Contains(t, schemas["Item"].Value.Properties, "dishName")
	assert.Contains(t, schemas["store.Item"].Value.Properties, "storeAddress")

	// identical definitions stay shared
	assert.Contains(t, schemas, "Error")
	assert.NotContains(t, schemas, "store.Error")

	schemaOf := func(path string) *openapi3.SchemaRef {
		item := doc.Spec.Paths.Value(path)
		require.NotNil(t, item)
		return item.Get.Responses.Value("200").Value.Content.Get("application/json").Schema
	}

	dish := schemaOf("/api/v1/dish/dishes")
	assert.Equal(t, "#/components/schemas/Item", dish.Ref)
	assert.Contains(t, dish.Value.Properties, "dishName")

	store := schemaOf("/api/v1/store/stores")
	assert.Equal(t, "#/components/schemas/store.Item", store.Ref)
	assert.Contains(t, store.Value.Properties, "storeAddress")
	assert.NotContains(t, store.Value.Properties, "dishName")

	var published struct {
		Paths map[string]map[string]struct {
			Responses map[string]struct {
				Content map[string]struct {
					Schema map[string]string `json:"schema"`
				} `json:"content"`
			} `json:"responses"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(doc.JSON, &published))
	ref := published.Paths["/api/v1/store/stores"]["get"].Responses["200"].Content["application/json"].Schema["$ref"]
	assert.Equal(t, "#/components/schemas/store.Item", ref)
}

func TestBuild_NamespacesSecuritySchemeRequirements(t *testing.T) {
	docFor := func(path, header string) string {
		return `{
		  "openapi": "3.0.0",
		  "info": {"title": "x", "version": "1.0"},
		  "paths": {"` + path + `": {"get": {
		    "security": [{"apiKey": []}],
		    "responses": {"200": {"description": "ok"}}
		  }}},
		  "components": {"securitySchemes": {
		    "apiKey": {"type": "apiKey", "in": "header", "name": "` + header + `"}
		  }}
		}`
	}

	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{
		"cart":  docFor("/carts", "X-Cart-Key"),
		"order": docFor("/orders", "X-Order-Key"),
	}}, nil,
		domain.Endpoint{Name: "cart", Host: "cart", Port: 5006},
		domain.Endpoint{Name: "order", Host: "order", Port: 5005},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	schemes := doc.Spec.Components.SecuritySchemes
	require.Contains(t, schemes, "apiKey")
	require.Contains(t, schemes, "order.apiKey")
	assert.Equal(t, "X-Order-Key", schemes["order.apiKey"].Value.Name)

	security := doc.Spec.Paths.Value("/api/v1/order/orders").Get.Security
	require.NotNil(t, security)
	require.Len(t, *security, 1)
	assert.Contains(t, (*security)[0], "order.apiKey")
	assert.NotContains(t, (*security)[0], "apiKey")
}

func TestBuild_FallsBackToSnapshot(t *testing.T) {
	snapshots := newMemorySnapshots()
	fetcher := &staticFetcher{docs: map[string]string{"chat": widgetsDoc}}
	agg, _ := newTestAggregator(t, fetcher, snapshots,
		domain.Endpoint{Name: "chat", Host: "chat", Port: 5008})

	first, err := agg.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusLive, first.Services[0].Status)

	raw, found, _ := snapshots.Load(context.Background(), "chat")
	require.True(t, found)
	assert.JSONEq(t, widgetsDoc, string(raw))

	delete(fetcher.docs, "chat")

	second, err := agg.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSnapshot, second.Services[0].Status)
	assert.NotNil(t, second.Spec.Paths.Value("/api/v1/chat/widgets"))
}

func TestBuild_InvalidDescriptionSkipped(t *testing.T) {
	agg, _ := newTestAggregator(t, &staticFetcher{docs: map[string]string{
		"auth": `<html>not json</html>`,
		"user": `{"info": {"title": "no version marker"}}`,
		"cart": widgetsDoc,
	}}, nil,
		domain.Endpoint{Name: "auth", Host: "auth", Port: 5001},
		domain.Endpoint{Name: "user", Host: "user", Port: 5002},
		domain.Endpoint{Name: "cart", Host: "cart", Port: 5006},
	)

	doc, err := agg.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Spec.Paths.Len())
	for _, s := range doc.Services {
		if s.Name == "cart" {
			assert.Equal(t, StatusLive, s.Status)
			continue
		}
		assert.Equal(t, StatusUnavailable, s.Status, s.Name)
	}
}

func TestMerger_DetectsPathCollisions(t *testing.T) {
	const doc = `{
	  "openapi": "3.0.0",
	  "info": {"title": "x", "version": "1.0"},
	  "paths": {
	    "/widgets": {"get": {"description": "first", "responses": {"200": {"description": "ok"}}}},
	    "widgets": {"get": {"description": "second", "responses": {"200": {"description": "ok"}}}}
	  }
	}`

	parsed, err := ParseDescription([]byte(doc))
	require.NoError(t, err)

	m := newMerger()
	m.add("store", parsed)

	require.Len(t, m.collisions, 1)
	assert.Equal(t, "/api/v1/store/widgets", m.collisions[0].Path)
	assert.Equal(t, http.MethodGet, m.collisions[0].Method)
	assert.Equal(t, 1, m.paths.Len())
	// "widgets" sorts after "/widgets" and wins
	assert.Equal(t, "[store] second", m.paths.Value("/api/v1/store/widgets").Get.Description)
}

func TestAggregator_RefreshStoresDocument(t *testing.T) {
	fetcher := &staticFetcher{docs: map[string]string{"order": widgetsDoc}}
	agg, store := newTestAggregator(t, fetcher, nil,
		domain.Endpoint{Name: "order", Host: "order", Port: 5005})

	assert.False(t, store.Ready())
	assert.Nil(t, store.Load())

	doc, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, store.Ready())
	assert.Same(t, doc, store.Load())
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second).Fetch(context.Background(), endpointFor(t, "user", srv.URL))
	assert.True(t, errors.Is(err, domain.ErrDocsUnavailable))
	assert.Contains(t, err.Error(), "500")
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewFetcher(50*time.Millisecond).Fetch(context.Background(), endpointFor(t, "user", srv.URL))
	assert.True(t, errors.Is(err, domain.ErrDocsUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second)
}
