package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apascualco/foodgate/internal/domain"
	"github.com/kelseyhightower/envconfig"
)

// Default upstream ports of the food ordering services.
var defaultServicePorts = map[string]int{
	"auth":         5001,
	"user":         5002,
	"store":        5003,
	"dish":         5004,
	"order":        5005,
	"cart":         5006,
	"rating":       5007,
	"chat":         5008,
	"notification": 5009,
}

type Config struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	Env       string `envconfig:"ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"debug"`
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`

	Services []string `envconfig:"SERVICES" default:"auth,user,store,dish,order,cart,rating,chat,notification"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,PATCH,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Origin,Content-Type,Accept,Authorization,X-Request-ID"`

	MaxBodyBytes     int64         `envconfig:"MAX_BODY_BYTES" default:"10485760"`
	MaxResponseBytes int64         `envconfig:"MAX_RESPONSE_BYTES" default:"67108864"`
	UpstreamTimeout  time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`

	DocsFetchTimeout     time.Duration `envconfig:"DOCS_FETCH_TIMEOUT" default:"5s"`
	DocsFetchConcurrency int           `envconfig:"DOCS_FETCH_CONCURRENCY" default:"4"`
	DocsSnapshotTTL      time.Duration `envconfig:"DOCS_SNAPSHOT_TTL" default:"24h"`

	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"0"`
	BreakerOpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerHalfOpenRequests uint32        `envconfig:"BREAKER_HALF_OPEN_REQUESTS" default:"1"`

	AdminJWTSecret string `envconfig:"ADMIN_JWT_SECRET"`
	AdminJWTIssuer string `envconfig:"ADMIN_JWT_ISSUER" default:"auth-service"`

	RedisURL         string `envconfig:"REDIS_URL" default:""`
	RateLimitEnabled bool   `envconfig:"RATE_LIMIT_ENABLED" default:"false"`
	RateLimitIPRPM   int    `envconfig:"RATE_LIMIT_IP_RPM" default:"120"`

	TraceExporter     string `envconfig:"TRACE_EXPORTER" default:"noop"`
	TraceOTLPEndpoint string `envconfig:"TRACE_OTLP_ENDPOINT"`
	TraceServiceName  string `envconfig:"TRACE_SERVICE_NAME" default:"foodgate"`

	Endpoints []domain.Endpoint `ignored:"true"`

	Version, Commit, BuildDate string
}

// serviceConfig is processed once per service with the prefix
// {NAME}_SERVICE, reading e.g. ORDER_SERVICE_HOST and ORDER_SERVICE_PORT.
// The fields carry no envconfig tags: a tag would make envconfig fall back
// to the unprefixed HOST and PORT variables.
type serviceConfig struct {
	Host string
	Port int
}

func Load(version, commit, buildDate string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.Version, cfg.Commit, cfg.BuildDate = version, commit, buildDate

	endpoints, err := loadEndpoints(cfg.Services)
	if err != nil {
		return nil, err
	}
	cfg.Endpoints = endpoints

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEndpoints(services []string) ([]domain.Endpoint, error) {
	endpoints := make([]domain.Endpoint, 0, len(services))
	for _, raw := range services {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}

		sc := serviceConfig{Host: name, Port: defaultServicePorts[name]}
		if err := envconfig.Process(EnvPrefix(name), &sc); err != nil {
			return nil, fmt.Errorf("failed to load %s service config: %w", name, err)
		}
		if sc.Port == 0 {
			return nil, fmt.Errorf("%s_PORT is required for service %s", EnvPrefix(name), name)
		}

		endpoints = append(endpoints, domain.Endpoint{Name: name, Host: sc.Host, Port: sc.Port})
	}
	return endpoints, nil
}

// EnvPrefix returns the environment prefix of a service, e.g. "ORDER_SERVICE".
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_")) + "_SERVICE"
}

func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one service must be configured")
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			return errors.New("CORS_ALLOWED_ORIGINS must list explicit origins, wildcard is not allowed with credentials")
		}
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		return errors.New("MAX_RESPONSE_BYTES must be positive")
	}
	if c.DocsFetchConcurrency <= 0 {
		return errors.New("DOCS_FETCH_CONCURRENCY must be positive")
	}
	return nil
}
