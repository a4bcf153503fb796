package config

import "time"

// Database type constants
const (
	// DatabaseTypeMemory keeps every table in process memory
	DatabaseTypeMemory = "memory"
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
	// DatabaseTypeMongoDB represents MongoDB database
	DatabaseTypeMongoDB = "mongodb"
)

// Event bus type constants
const (
	// EventBusTypeNone disables domain event forwarding
	EventBusTypeNone = "none"
	// EventBusTypeKafka represents Apache Kafka event bus
	EventBusTypeKafka = "kafka"
)

// Config is the root configuration of a repokit process.
type Config struct {
	Service       ServiceConfig
	Database      DatabaseConfig
	EventBus      EventBusConfig `mapstructure:"eventbus"`
	Persistence   PersistenceConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // memory, postgres, mysql, mongodb
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	DatabaseName    string        `mapstructure:"database_name"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	// Transactions enables multi-document transactions on MongoDB. It is off
	// by default because it needs a replica set; while off, a MongoDB commit
	// with several changes is not atomic.
	Transactions bool `mapstructure:"transactions"`
}

// EventBusConfig configures the broker committed domain events are forwarded to.
type EventBusConfig struct {
	Type             string        `mapstructure:"type"` // none, kafka
	Brokers          []string      `mapstructure:"brokers"`
	Serializer       string        `mapstructure:"serializer"` // json, protobuf
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

// PersistenceConfig configures units of work.
type PersistenceConfig struct {
	// SoftDeleteFilterEnabled is the initial filter state of every new unit of work.
	SoftDeleteFilterEnabled bool `mapstructure:"soft_delete_filter_enabled"`
	// DispatchTopic receives committed domain events when an event bus is configured.
	DispatchTopic string `mapstructure:"dispatch_topic"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	MetricsNamespace  string  `mapstructure:"metrics_namespace"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// DefaultConfig returns a configuration that runs against the in-memory store
// with event forwarding disabled.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "repokit",
			Environment: "production",
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypeMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
			ConnectTimeout:  5 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:             EventBusTypeNone,
			Serializer:       "json",
			OperationTimeout: 30 * time.Second,
			MaxRetries:       3,
		},
		Persistence: PersistenceConfig{
			SoftDeleteFilterEnabled: true,
			DispatchTopic:           "domain-events",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsNamespace:  "repokit",
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
		},
	}
}
