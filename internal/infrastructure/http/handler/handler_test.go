package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/docs"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDocumentState bool

func (f fakeDocumentState) Ready() bool { return bool(f) }

type fakePinger bool

func (f fakePinger) Healthy(context.Context) bool { return bool(f) }

type fakeRefresher struct {
	store *docs.Store
	doc   *docs.Document
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(context.Context) (*docs.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.store.Swap(f.doc)
	return f.doc, nil
}

func sampleDocument() *docs.Document {
	paths := openapi3.NewPaths()
	paths.Set("/api/v1/order/orders", &openapi3.PathItem{
		Get: &openapi3.Operation{Tags: []string{"order"}},
	})
	return &docs.Document{
		Spec:    &openapi3.T{OpenAPI: "3.0.3", Paths: paths},
		JSON:    []byte(`{"openapi":"3.0.3","paths":{"/api/v1/order/orders":{}}}`),
		BuiltAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Services: []docs.ServiceStatus{
			{Name: "order", Status: docs.StatusLive, Operations: 1},
			{Name: "chat", Status: docs.StatusUnavailable, Error: "docs unavailable: chat"},
		},
	}
}

func TestHealthHandler(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthHandler(time.Now().Add(-time.Minute), "1.2.3"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.NotEmpty(t, body.Uptime)
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		docs       DocumentState
		redis      Pinger
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "docs built without redis",
			docs:       fakeDocumentState(true),
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"docs": "ok"},
		},
		{
			name:       "docs still building",
			docs:       fakeDocumentState(false),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"docs": "building"},
		},
		{
			name:       "redis reachable",
			docs:       fakeDocumentState(true),
			redis:      fakePinger(true),
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"docs": "ok", "redis": "ok"},
		},
		{
			name:       "redis unreachable",
			docs:       fakeDocumentState(true),
			redis:      fakePinger(false),
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"docs": "ok", "redis": "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/ready", ReadyHandler(tt.docs, tt.redis))

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, resp.Code)
			var body ReadyResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, tt.wantChecks, body.Checks)
		})
	}
}

func setupDocsRouter(store *docs.Store, refresher Refresher) *gin.Engine {
	router := gin.New()
	h := NewDocsHandler(store, refresher)
	router.GET(DocsJSONPath, h.JSON)
	router.GET(DocsPath, h.Index)
	router.GET(DocsPath+"/*any", h.UI())
	router.POST("/internal/docs/refresh", h.Refresh)
	return router
}

func TestDocsHandler_JSON(t *testing.T) {
	store := docs.NewStore()
	router := setupDocsRouter(store, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, DocsJSONPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "docs_unavailable")

	doc := sampleDocument()
	store.Swap(doc)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, DocsJSONPath, nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Equal(t, string(doc.JSON), resp.Body.String())
}

func TestDocsHandler_IndexRedirectsToUI(t *testing.T) {
	router := setupDocsRouter(docs.NewStore(), nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, DocsPath, nil))

	assert.Equal(t, http.StatusFound, resp.Code)
	assert.Equal(t, DocsUIIndex, resp.Header().Get("Location"))
}

func TestDocsHandler_UIPointsAtMergedDescription(t *testing.T) {
	router := setupDocsRouter(docs.NewStore(), nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, DocsUIIndex, nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.HasPrefix(resp.Header().Get("Content-Type"), "text/html"))
	// the template escapes slashes inside the script block
	assert.Contains(t, resp.Body.String(), "docs-json")
}

func TestDocsHandler_Refresh(t *testing.T) {
	store := docs.NewStore()
	refresher := &fakeRefresher{store: store, doc: sampleDocument()}
	router := setupDocsRouter(store, refresher)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/internal/docs/refresh", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, refresher.calls)
	assert.True(t, store.Ready())

	var body RefreshResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Paths)
	assert.Len(t, body.Services, 2)
}

func TestDocsHandler_RefreshFailure(t *testing.T) {
	store := docs.NewStore()
	refresher := &fakeRefresher{store: store, err: errors.New("encode failed")}
	router := setupDocsRouter(store, refresher)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/internal/docs/refresh", nil))

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "refresh_failed")
	assert.False(t, store.Ready())
}

func TestServicesHandler_List(t *testing.T) {
	registry, err := application.NewRegistry([]domain.Endpoint{
		{Name: "order", Host: "order", Port: 5005},
		{Name: "chat", Host: "chat", Port: 5008},
		{Name: "cart", Host: "cart", Port: 5006},
	})
	require.NoError(t, err)
	breakers := application.NewBreakers(registry.Names(), application.BreakerConfig{})
	store := docs.NewStore()
	store.Swap(sampleDocument())

	router := gin.New()
	router.GET("/internal/services", NewServicesHandler(registry, breakers, store).List)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/internal/services", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body ServicesResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, 3, body.Count)
	require.NotNil(t, body.DocsBuiltAt)

	names := make([]string, 0, len(body.Services))
	byName := make(map[string]ServiceView)
	for _, s := range body.Services {
		names = append(names, s.Name)
		byName[s.Name] = s
	}
	assert.Equal(t, []string{"cart", "chat", "order"}, names)

	assert.Equal(t, "http://order:5005", byName["order"].URL)
	assert.Equal(t, docs.StatusLive, byName["order"].Docs)
	assert.Equal(t, 1, byName["order"].Operations)
	assert.Equal(t, application.StateDisabled, byName["order"].Breaker)

	assert.Equal(t, docs.StatusUnavailable, byName["chat"].Docs)
	assert.NotEmpty(t, byName["chat"].DocsError)

	// not part of the last build
	assert.Equal(t, docs.StatusUnavailable, byName["cart"].Docs)
}
