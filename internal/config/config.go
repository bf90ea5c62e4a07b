// Package config loads the cyclecounter process configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// CYCLECOUNTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	natsconn "github.com/wehubfusion/cyclecounter/internal/nats"
	"github.com/wehubfusion/cyclecounter/internal/tracing"
	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/service"
	"github.com/wehubfusion/cyclecounter/pkg/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CYCLECOUNTER_"

// ServiceName identifies the process in traces and NATS connection names.
const ServiceName = "cyclecounter"

// Config is the full process configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	NATS     NATSConfig     `yaml:"nats"`
	Service  ServiceConfig  `yaml:"service"`
	Engine   EngineConfig   `yaml:"engine"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Sentry   SentryConfig   `yaml:"sentry"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	Token         string        `yaml:"token"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
}

type ServiceConfig struct {
	SubjectPrefix  string        `yaml:"subject_prefix"`
	QueueGroup     string        `yaml:"queue_group"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

type EngineConfig struct {
	Shards      int    `yaml:"shards"`
	RandomCycle string `yaml:"random_cycle"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	Insecure       bool    `yaml:"insecure"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	Environment    string  `yaml:"environment"`
	ServiceVersion string  `yaml:"service_version"`
}

type SnapshotConfig struct {
	Backend          string        `yaml:"backend"`
	Name             string        `yaml:"name"`
	Interval         time.Duration `yaml:"interval"`
	Path             string        `yaml:"path"`
	ConnectionString string        `yaml:"connection_string"`
	Container        string        `yaml:"container"`
	Prefix           string        `yaml:"prefix"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	nc := natsconn.DefaultConnectionConfig("nats://127.0.0.1:4222")
	sc := service.DefaultConfig()
	tc := tracing.DefaultConfig(ServiceName)

	return &Config{
		Log: LogConfig{Level: "info"},
		NATS: NATSConfig{
			URL:           nc.URL,
			Name:          nc.Name,
			MaxReconnects: nc.MaxReconnects,
			ReconnectWait: nc.ReconnectWait,
			Timeout:       nc.Timeout,
		},
		Service: ServiceConfig{
			SubjectPrefix:  sc.SubjectPrefix,
			QueueGroup:     sc.QueueGroup,
			AcquireTimeout: sc.AcquireTimeout,
			DrainTimeout:   sc.DrainTimeout,
		},
		Engine: EngineConfig{
			Shards:      counter.DefaultShardCount,
			RandomCycle: string(counter.RandomCycleHeuristic),
		},
		Tracing: TracingConfig{
			Endpoint:       tc.OTLPEndpoint,
			Insecure:       tc.Insecure,
			SampleRatio:    tc.SampleRatio,
			Environment:    tc.Environment,
			ServiceVersion: tc.ServiceVersion,
		},
		Snapshot: SnapshotConfig{
			Backend:  storage.BackendNone,
			Name:     storage.DefaultSnapshotName,
			Interval: 30 * time.Second,
			Path:     "cyclecounter.db",
			Prefix:   "snapshots/",
		},
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  1.0,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from CYCLECOUNTER_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LOG_LEVEL", &c.Log.Level)
	e.bool("LOG_DEVELOPMENT", &c.Log.Development)

	e.str("NATS_URL", &c.NATS.URL)
	e.str("NATS_NAME", &c.NATS.Name)
	e.int("NATS_MAX_RECONNECTS", &c.NATS.MaxReconnects)
	e.duration("NATS_RECONNECT_WAIT", &c.NATS.ReconnectWait)
	e.duration("NATS_TIMEOUT", &c.NATS.Timeout)
	e.str("NATS_TOKEN", &c.NATS.Token)
	e.str("NATS_USERNAME", &c.NATS.Username)
	e.str("NATS_PASSWORD", &c.NATS.Password)

	e.str("SERVICE_SUBJECT_PREFIX", &c.Service.SubjectPrefix)
	e.str("SERVICE_QUEUE_GROUP", &c.Service.QueueGroup)
	e.int("SERVICE_MAX_CONCURRENT", &c.Service.MaxConcurrent)
	e.duration("SERVICE_ACQUIRE_TIMEOUT", &c.Service.AcquireTimeout)
	e.duration("SERVICE_DRAIN_TIMEOUT", &c.Service.DrainTimeout)

	e.int("ENGINE_SHARDS", &c.Engine.Shards)
	e.str("ENGINE_RANDOM_CYCLE", &c.Engine.RandomCycle)

	e.bool("TRACING_ENABLED", &c.Tracing.Enabled)
	e.str("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	e.bool("TRACING_INSECURE", &c.Tracing.Insecure)
	e.float("TRACING_SAMPLE_RATIO", &c.Tracing.SampleRatio)
	e.str("TRACING_ENVIRONMENT", &c.Tracing.Environment)

	e.str("SNAPSHOT_BACKEND", &c.Snapshot.Backend)
	e.str("SNAPSHOT_NAME", &c.Snapshot.Name)
	e.duration("SNAPSHOT_INTERVAL", &c.Snapshot.Interval)
	e.str("SNAPSHOT_PATH", &c.Snapshot.Path)
	e.str("SNAPSHOT_CONNECTION_STRING", &c.Snapshot.ConnectionString)
	e.str("SNAPSHOT_CONTAINER", &c.Snapshot.Container)
	e.str("SNAPSHOT_PREFIX", &c.Snapshot.Prefix)

	e.str("SENTRY_DSN", &c.Sentry.DSN)
	e.str("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	e.float("SENTRY_SAMPLE_RATE", &c.Sentry.SampleRate)

	return errors.Join(e.errs...)
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := counter.ParseRandomCyclePolicy(c.Engine.RandomCycle); err != nil {
		errs = append(errs, fmt.Errorf("engine.random_cycle: %w", err))
	}
	if c.Engine.Shards < 0 {
		errs = append(errs, fmt.Errorf("engine.shards: must be >= 0"))
	}
	if c.Service.SubjectPrefix == "" {
		errs = append(errs, fmt.Errorf("service.subject_prefix: must not be empty"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio: must be within [0, 1]"))
	}

	switch c.Snapshot.Backend {
	case storage.BackendNone:
	case storage.BackendSQLite:
		if c.Snapshot.Path == "" {
			errs = append(errs, fmt.Errorf("snapshot.path: required for the sqlite backend"))
		}
	case storage.BackendAzureBlob:
		if c.Snapshot.ConnectionString == "" || c.Snapshot.Container == "" {
			errs = append(errs, fmt.Errorf("snapshot: connection_string and container are required for the azblob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.backend: unknown backend %q", c.Snapshot.Backend))
	}
	if c.Snapshot.Backend != storage.BackendNone && c.Snapshot.Interval <= 0 {
		errs = append(errs, fmt.Errorf("snapshot.interval: must be positive"))
	}

	return errors.Join(errs...)
}

// ConnectionConfig converts the nats section.
func (c *Config) ConnectionConfig() *natsconn.ConnectionConfig {
	nc := natsconn.DefaultConnectionConfig(c.NATS.URL)
	nc.Name = c.NATS.Name
	nc.MaxReconnects = c.NATS.MaxReconnects
	nc.ReconnectWait = c.NATS.ReconnectWait
	nc.Timeout = c.NATS.Timeout
	nc.Token = c.NATS.Token
	nc.Username = c.NATS.Username
	nc.Password = c.NATS.Password
	return nc
}

// ServiceConfig converts the service section.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		SubjectPrefix:  c.Service.SubjectPrefix,
		QueueGroup:     c.Service.QueueGroup,
		MaxConcurrent:  c.Service.MaxConcurrent,
		AcquireTimeout: c.Service.AcquireTimeout,
		DrainTimeout:   c.Service.DrainTimeout,
	}
}

// TracingConfig converts the tracing section.
func (c *Config) TracingConfig() tracing.TracingConfig {
	tc := tracing.DefaultConfig(ServiceName)
	tc.Enabled = c.Tracing.Enabled
	tc.OTLPEndpoint = c.Tracing.Endpoint
	tc.Insecure = c.Tracing.Insecure
	tc.SampleRatio = c.Tracing.SampleRatio
	tc.Environment = c.Tracing.Environment
	if c.Tracing.ServiceVersion != "" {
		tc.ServiceVersion = c.Tracing.ServiceVersion
	}
	return tc
}

// EngineConfig converts the engine section. Validate has already checked the policy.
func (c *Config) EngineConfig() counter.EngineConfig {
	policy, _ := counter.ParseRandomCyclePolicy(c.Engine.RandomCycle)
	return counter.DefaultEngineConfig().
		WithShards(c.Engine.Shards).
		WithRandomCycle(policy)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = b
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = f
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}
