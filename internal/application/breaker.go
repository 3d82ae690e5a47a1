package application

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/sony/gobreaker"
)

const StateDisabled = "disabled"

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive unreachable-upstream
	// failures that opens a service's breaker. Zero disables breaking.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Breakers holds one circuit breaker per registered service.
type Breakers struct {
	breakers map[string]*gobreaker.CircuitBreaker
	names    []string
}

func NewBreakers(names []string, cfg BreakerConfig) *Breakers {
	b := &Breakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(names)),
		names:    names,
	}
	if cfg.FailureThreshold == 0 {
		return b
	}

	threshold := cfg.FailureThreshold
	for _, name := range names {
		b.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.HalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// upstream application errors are still answers, and a caller
				// that went away says nothing about the upstream
				return !errors.Is(err, domain.ErrUpstreamUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed",
					"service", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}
	return b
}

func (b *Breakers) Enabled() bool {
	return len(b.breakers) > 0
}

// Execute runs call under the breaker of service. Rejections by an open or
// saturated half-open breaker are reported as domain.ErrCircuitOpen.
func (b *Breakers) Execute(service string, call func() (*domain.ForwardResponse, error)) (*domain.ForwardResponse, error) {
	cb, ok := b.breakers[service]
	if !ok {
		return call()
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, service)
	}
	if err != nil {
		return nil, err
	}
	return result.(*domain.ForwardResponse), nil
}

// States reports the current breaker state of every service.
func (b *Breakers) States() map[string]string {
	states := make(map[string]string, len(b.names))
	for _, name := range b.names {
		cb, ok := b.breakers[name]
		if !ok {
			states[name] = StateDisabled
			continue
		}
		states[name] = cb.State().String()
	}
	return states
}
