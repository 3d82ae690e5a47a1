package domain

import (
	"fmt"
	"regexp"
)

// APIPrefix is the public prefix every proxied and documented path lives under.
const APIPrefix = "/api/v1"

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Segments under the API prefix that the gateway serves itself.
var reservedServiceNames = map[string]struct{}{
	"docs":      {},
	"docs-json": {},
}

type Endpoint struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) BaseURL() string {
	return "http://" + e.Address()
}

func (e Endpoint) Validate() error {
	if err := ValidateServiceName(e.Name); err != nil {
		return err
	}
	if e.Host == "" {
		return fmt.Errorf("%w: host is required for %s", ErrInvalidEndpoint, e.Name)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port for %s must be between 1 and 65535", ErrInvalidEndpoint, e.Name)
	}
	return nil
}

// ValidateServiceName checks that name can be used as the first path
// segment after the API prefix.
func ValidateServiceName(name string) error {
	if !serviceNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidServiceName, name)
	}
	if _, reserved := reservedServiceNames[name]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidServiceName, name)
	}
	return nil
}
