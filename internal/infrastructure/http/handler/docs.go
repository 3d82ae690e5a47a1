package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/apascualco/foodgate/internal/infrastructure/docs"
	"github.com/apascualco/foodgate/internal/infrastructure/http/middleware"
	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"
)

const (
	DocsPath     = domain.APIPrefix + "/docs"
	DocsJSONPath = domain.APIPrefix + "/docs-json"
	DocsUIIndex  = DocsPath + "/index.html"
)

// Refresher rebuilds the merged documentation.
type Refresher interface {
	Refresh(ctx context.Context) (*docs.Document, error)
}

type DocsHandler struct {
	store     *docs.Store
	refresher Refresher
}

func NewDocsHandler(store *docs.Store, refresher Refresher) *DocsHandler {
	return &DocsHandler{store: store, refresher: refresher}
}

// JSON serves the merged API description.
func (h *DocsHandler) JSON(c *gin.Context) {
	doc := h.store.Load()
	if doc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "docs_unavailable",
			"message": "documentation is not built yet",
		})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc.JSON)
}

// Index sends the bare docs path to the UI entry page.
func (h *DocsHandler) Index(c *gin.Context) {
	c.Redirect(http.StatusFound, DocsUIIndex)
}

// UI serves the Swagger UI assets, pointed at the merged description.
func (h *DocsHandler) UI() gin.HandlerFunc {
	return gin.WrapH(httpSwagger.Handler(
		httpSwagger.URL(DocsJSONPath),
		httpSwagger.DocExpansion("none"),
	))
}

type RefreshResponse struct {
	BuiltAt  time.Time            `json:"built_at"`
	Paths    int                  `json:"paths"`
	Services []docs.ServiceStatus `json:"services"`
}

// Refresh rebuilds the documentation on demand. The build outlives a client
// that disconnects so concurrent callers still get a result.
func (h *DocsHandler) Refresh(c *gin.Context) {
	doc, err := h.refresher.Refresh(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		slog.Error("documentation refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "refresh_failed",
			"message": err.Error(),
		})
		return
	}

	slog.Info("documentation refreshed",
		"admin", c.GetString(middleware.ContextKeyAdminSubject),
		"paths", doc.Spec.Paths.Len(),
	)

	c.JSON(http.StatusOK, RefreshResponse{
		BuiltAt:  doc.BuiltAt,
		Paths:    doc.Spec.Paths.Len(),
		Services: doc.Services,
	})
}
