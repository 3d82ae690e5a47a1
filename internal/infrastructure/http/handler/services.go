package handler

import (
	"net/http"
	"time"

	"github.com/apascualco/foodgate/internal/application"
	"github.com/apascualco/foodgate/internal/infrastructure/docs"
	"github.com/gin-gonic/gin"
)

type ServicesHandler struct {
	registry *application.Registry
	breakers *application.Breakers
	store    *docs.Store
}

func NewServicesHandler(registry *application.Registry, breakers *application.Breakers, store *docs.Store) *ServicesHandler {
	return &ServicesHandler{registry: registry, breakers: breakers, store: store}
}

type ServiceView struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Breaker    string `json:"breaker"`
	Docs       string `json:"docs"`
	Operations int    `json:"operations"`
	DocsError  string `json:"docs_error,omitempty"`
}

type ServicesResponse struct {
	Services    []ServiceView `json:"services"`
	Count       int           `json:"count"`
	DocsBuiltAt *time.Time    `json:"docs_built_at,omitempty"`
}

// List reports every registered upstream with its breaker state and where
// its documentation currently comes from.
func (h *ServicesHandler) List(c *gin.Context) {
	states := h.breakers.States()

	statuses := make(map[string]docs.ServiceStatus)
	var builtAt *time.Time
	if doc := h.store.Load(); doc != nil {
		builtAt = &doc.BuiltAt
		for _, s := range doc.Services {
			statuses[s.Name] = s
		}
	}

	views := make([]ServiceView, 0, h.registry.Len())
	for _, endpoint := range h.registry.Endpoints() {
		view := ServiceView{
			Name:    endpoint.Name,
			URL:     endpoint.BaseURL(),
			Breaker: states[endpoint.Name],
			Docs:    docs.StatusUnavailable,
		}
		if s, ok := statuses[endpoint.Name]; ok {
			view.Docs = s.Status
			view.Operations = s.Operations
			view.DocsError = s.Error
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, ServicesResponse{
		Services:    views,
		Count:       len(views),
		DocsBuiltAt: builtAt,
	})
}
