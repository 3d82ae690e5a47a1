package docs

import (
	"sync/atomic"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	StatusLive        = "live"
	StatusSnapshot    = "snapshot"
	StatusUnavailable = "unavailable"
)

// ServiceStatus reports where the documentation of one service came from.
type ServiceStatus struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Operations int    `json:"operations"`
	Error      string `json:"error,omitempty"`
}

// Document is an immutable merged API description.
type Document struct {
	Spec     *openapi3.T
	JSON     []byte
	BuiltAt  time.Time
	Services []ServiceStatus
}

// Store holds the current Document. Readers never block a refresh.
type Store struct {
	current atomic.Pointer[Document]
}

func NewStore() *Store {
	return &Store{}
}

// Load returns the current document, or nil before the first build.
func (s *Store) Load() *Document {
	return s.current.Load()
}

func (s *Store) Swap(doc *Document) {
	s.current.Store(doc)
}

func (s *Store) Ready() bool {
	return s.current.Load() != nil
}
