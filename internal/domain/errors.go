package domain

import (
	"fmt"
	"strings"
)

// PathCollision records a merged documentation path described by more than
// one service. The later service overwrites the earlier one.
type PathCollision struct {
	Path       string `json:"path"`
	Method     string `json:"method"`
	Previous   string `json:"previous"`
	OverrideBy string `json:"override_by"`
}

type CollisionError struct {
	Collisions []PathCollision `json:"collisions"`
}

func (e *CollisionError) Error() string {
	var msgs []string
	for _, c := range e.Collisions {
		msgs = append(msgs, fmt.Sprintf("%s %s from %s overridden by %s",
			c.Method, c.Path, c.Previous, c.OverrideBy))
	}
	return fmt.Sprintf("documentation path collisions detected: %s", strings.Join(msgs, "; "))
}

var (
	ErrServiceNotFound     = fmt.Errorf("service not found")
	ErrInvalidServiceName  = fmt.Errorf("invalid service name")
	ErrInvalidEndpoint     = fmt.Errorf("invalid endpoint")
	ErrDuplicateService    = fmt.Errorf("duplicate service")
	ErrBodyTooLarge        = fmt.Errorf("request body too large")
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	ErrCircuitOpen         = fmt.Errorf("circuit breaker open")
	ErrClientCanceled      = fmt.Errorf("client canceled request")
	ErrResponseTooLarge    = fmt.Errorf("upstream response too large")
	ErrDocsUnavailable     = fmt.Errorf("api description unavailable")
)
