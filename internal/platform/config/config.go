// Package config reads process configuration from the environment. An
// optional .env file is loaded first; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkAMQP  = "amqp"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Auth       AuthConfig
	Catalog    CatalogConfig
	Storage    StorageConfig
	Postgres   PostgresConfig `envPrefix:"POSTGRES_"`
	Redis      RedisConfig    `envPrefix:"REDIS_"`
	Kafka      KafkaConfig    `envPrefix:"KAFKA_"`
	AMQP       AMQPConfig     `envPrefix:"AMQP_"`
	Tracing    TracingConfig
	AutoClose  AutoCloseConfig  `envPrefix:"AUTO_CLOSE_"`
	Dispatcher DispatcherConfig `envPrefix:"EVENTS_"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `env:"ROSTER_ADDR" envDefault:":8080"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type AuthConfig struct {
	// Use a default for development - should be overridden in production
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"roster"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"roster-api"`
}

type CatalogConfig struct {
	File string `env:"CATALOG_FILE" envDefault:"config/catalog.yaml"`
}

// StorageConfig selects the backends. Memory backends lose state on restart.
type StorageConfig struct {
	Registrations string `env:"STORAGE_BACKEND" envDefault:"memory"`
	Ledger        string `env:"LEDGER_BACKEND" envDefault:"memory"`
	EventsSink    string `env:"EVENTS_SINK" envDefault:"log"`
}

type PostgresConfig struct {
	URL      string `env:"URL"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
}

type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"20"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

type KafkaConfig struct {
	Brokers           []string `env:"BROKERS" envSeparator:","`
	Topic             string   `env:"TOPIC" envDefault:"roster.events"`
	Partitions        int32    `env:"PARTITIONS" envDefault:"3"`
	ReplicationFactor int16    `env:"REPLICATION_FACTOR" envDefault:"1"`
}

type AMQPConfig struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"events"`
}

type TracingConfig struct {
	// Endpoint enables OTLP/HTTP export when set.
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"roster"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// AutoCloseConfig drives the sweeper that closes events once their last
// shift has been over for Delay.
type AutoCloseConfig struct {
	Enabled  bool          `env:"ENABLED" envDefault:"true"`
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`
	Delay    time.Duration `env:"DELAY" envDefault:"1h"`
}

type DispatcherConfig struct {
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"1024"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"64"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"200ms"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads envFiles (missing files are ignored) and then the environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend selections against the settings they need.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Registrations {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("STORAGE_BACKEND=postgres requires POSTGRES_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Registrations))
	}
	switch c.Storage.Ledger {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("LEDGER_BACKEND=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND %q", c.Storage.Ledger))
	}
	switch c.Storage.EventsSink {
	case SinkLog:
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("EVENTS_SINK=kafka requires KAFKA_BROKERS"))
		}
	case SinkAMQP:
		if c.AMQP.URL == "" {
			errs = append(errs, errors.New("EVENTS_SINK=amqp requires AMQP_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_SINK %q", c.Storage.EventsSink))
	}
	if c.Server.WriteTimeout <= c.Server.RequestTimeout {
		errs = append(errs, errors.New("HTTP_WRITE_TIMEOUT must exceed REQUEST_TIMEOUT"))
	}
	if c.AutoClose.Enabled && c.AutoClose.Interval <= 0 {
		errs = append(errs, errors.New("AUTO_CLOSE_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}
