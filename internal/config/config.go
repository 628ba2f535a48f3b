// Package config loads the service configuration from an optional YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/breatheroute/navcore/internal/database"
	"github.com/breatheroute/navcore/internal/offroute"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/replay"
)

// Config is the configuration shared by the API and the worker.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development test staging production"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`

	// RequireTLS rejects API requests a proxy reports as plain HTTP.
	RequireTLS bool `yaml:"require_tls"`

	Database   database.Config `yaml:"database"`
	Telemetry  Telemetry       `yaml:"telemetry"`
	Auth       Auth            `yaml:"auth"`
	Routing    Routing         `yaml:"routing"`
	Navigation Navigation      `yaml:"navigation"`
	Worker     Worker          `yaml:"worker"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Auth configures bearer token verification.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key" validate:"required,min=16"`

	// Issuer and Audience must match the identity service's tokens.
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway" validate:"gte=0,lte=5m"`

	// InsecureKey is set when the development signing key is in use.
	InsecureKey bool `yaml:"-"`
}

// devSigningKey is used outside staging and production when no key is set.
const devSigningKey = "local-dev-signing-key-change-in-production"

// Routing configures the directions backend.
type Routing struct {
	// ORSAPIKey enables OpenRouteService. Without it trips need a supplied route.
	ORSAPIKey string `yaml:"ors_api_key"`

	BaseURL  string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	Profile  string        `yaml:"profile" validate:"oneof=foot-walking cycling-regular driving-car"`
}

// Navigation holds the pipeline settings applied to every trip.
type Navigation struct {
	AccuracyThreshold float64         `yaml:"accuracy_threshold" validate:"gte=0"`
	QueueSize         int             `yaml:"queue_size" validate:"gte=0"`
	AutoReroute       bool            `yaml:"auto_reroute"`
	RerouteTimeout    time.Duration   `yaml:"reroute_timeout" validate:"gte=0"`
	Progress          progress.Config `yaml:"progress"`
	OffRoute          offroute.Config `yaml:"off_route"`
	Replay            replay.Config   `yaml:"replay"`

	// RateLimit is the number of trip requests a client may make per minute.
	RateLimit int `yaml:"rate_limit" validate:"gte=0"`
}

// Worker configures the Pub/Sub job consumer.
type Worker struct {
	ProjectID      string `yaml:"project_id"`
	SubscriptionID string `yaml:"subscription_id"`

	// ResumeLimit bounds how many live trips are resumed at startup.
	ResumeLimit int `yaml:"resume_limit" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Environment: "development",
		Port:        8080,
		Database:    database.DefaultConfig(),
		Telemetry: Telemetry{
			OTLPEndpoint: "localhost:4317",
		},
		Routing: Routing{
			Timeout:  10 * time.Second,
			CacheTTL: 5 * time.Minute,
			Profile:  "driving-car",
		},
		Navigation: Navigation{
			AccuracyThreshold: 100,
			QueueSize:         64,
			AutoReroute:       true,
			RerouteTimeout:    10 * time.Second,
			Progress: progress.Config{
				StepCompletionTolerance: progress.DefaultStepCompletionTolerance,
				ManeuverZoneRadius:      progress.DefaultManeuverZoneRadius,
			},
			OffRoute:  offroute.DefaultConfig(),
			Replay:    replay.DefaultConfig(),
			RateLimit: 120,
		},
		Worker: Worker{
			SubscriptionID: "navcore-jobs",
			ResumeLimit:    500,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Auth.JWTSigningKey == "" && (cfg.Environment == "development" || cfg.Environment == "test") {
		cfg.Auth.JWTSigningKey = devSigningKey
		cfg.Auth.InsecureKey = true
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Navigation.Replay.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with the environment. Unset variables keep
// the current value.
func applyEnv(cfg *Config) error {
	cfg.Environment = getEnvOrDefault("APP_ENV", cfg.Environment)
	cfg.Telemetry.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Auth.JWTSigningKey = getEnvOrDefault("JWT_SIGNING_KEY", cfg.Auth.JWTSigningKey)
	cfg.Auth.Issuer = getEnvOrDefault("JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.Audience = getEnvOrDefault("JWT_AUDIENCE", cfg.Auth.Audience)
	cfg.Routing.ORSAPIKey = getEnvOrDefault("ORS_API_KEY", cfg.Routing.ORSAPIKey)
	cfg.Routing.BaseURL = getEnvOrDefault("NAV_ROUTING_BASE_URL", cfg.Routing.BaseURL)
	cfg.Routing.Profile = getEnvOrDefault("NAV_ROUTING_PROFILE", cfg.Routing.Profile)
	cfg.Worker.ProjectID = getEnvOrDefault("GOOGLE_CLOUD_PROJECT", cfg.Worker.ProjectID)
	cfg.Worker.SubscriptionID = getEnvOrDefault("NAV_WORKER_SUBSCRIPTION", cfg.Worker.SubscriptionID)
	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", cfg.Database.SSLMode)

	var errs []error
	envInt("APP_PORT", &cfg.Port, &errs)
	envInt("DB_PORT", &cfg.Database.Port, &errs)
	envInt32("DB_MAX_CONNS", &cfg.Database.MaxConns, &errs)
	envDuration("DB_SLOW_QUERY", &cfg.Database.SlowQuery, &errs)
	envInt("NAV_QUEUE_SIZE", &cfg.Navigation.QueueSize, &errs)
	envInt("NAV_RATE_LIMIT", &cfg.Navigation.RateLimit, &errs)
	envInt("NAV_OFFROUTE_DEBOUNCE", &cfg.Navigation.OffRoute.DebounceCount, &errs)
	envInt("NAV_WORKER_RESUME_LIMIT", &cfg.Worker.ResumeLimit, &errs)
	envFloat("NAV_ACCURACY_THRESHOLD", &cfg.Navigation.AccuracyThreshold, &errs)
	envFloat("NAV_OFFROUTE_MINIMUM_DISTANCE", &cfg.Navigation.OffRoute.MinimumDistance, &errs)
	envFloat("NAV_REPLAY_SPEED", &cfg.Navigation.Replay.SpeedMultiplier, &errs)
	envFloat("OTEL_TRACES_SAMPLER_ARG", &cfg.Telemetry.SampleRatio, &errs)
	envBool("OTEL_ENABLED", &cfg.Telemetry.Enabled, &errs)
	envBool("REQUIRE_TLS", &cfg.RequireTLS, &errs)
	envBool("NAV_AUTO_REROUTE", &cfg.Navigation.AutoReroute, &errs)
	envDuration("NAV_REROUTE_TIMEOUT", &cfg.Navigation.RerouteTimeout, &errs)
	envDuration("NAV_ROUTING_CACHE_TTL", &cfg.Routing.CacheTTL, &errs)
	envDuration("JWT_LEEWAY", &cfg.Auth.Leeway, &errs)

	return errors.Join(errs...)
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envInt32(key string, dst *int32, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = int32(n)
}

func envFloat(key string, dst *float64, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func envBool(key string, dst *bool, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
