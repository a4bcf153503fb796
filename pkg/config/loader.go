package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/nimburion/repokit/pkg/observability/logger"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "REPOKIT")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v, err := l.newViper()
	if err != nil {
		return nil, err
	}
	return l.finish(v)
}

// newViper returns a viper instance holding defaults and the config file.
func (l *ViperLoader) newViper() (*viper.Viper, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}
	return v, nil
}

// finish applies env overrides, unmarshals and validates.
func (l *ViperLoader) finish(v *viper.Viper) (*Config, error) {
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKeys lists every key that can be overridden from the environment and
// the suffixes, after "<PREFIX>_", that set it. The first suffix wins.
var envKeys = []struct {
	key      string
	suffixes []string
}{
	{"service.name", []string{"SERVICE_NAME"}},
	{"service.environment", []string{"SERVICE_ENVIRONMENT", "ENVIRONMENT"}},

	{"database.type", []string{"DB_TYPE"}},
	{"database.url", []string{"DB_URL"}},
	{"database.max_open_conns", []string{"DB_MAX_OPEN_CONNS"}},
	{"database.max_idle_conns", []string{"DB_MAX_IDLE_CONNS"}},
	{"database.conn_max_lifetime", []string{"DB_CONN_MAX_LIFETIME"}},
	{"database.conn_max_idle_time", []string{"DB_CONN_MAX_IDLE_TIME"}},
	{"database.query_timeout", []string{"DB_QUERY_TIMEOUT"}},
	{"database.database_name", []string{"DB_DATABASE_NAME"}},
	{"database.connect_timeout", []string{"DB_CONNECT_TIMEOUT"}},
	{"database.transactions", []string{"DB_TRANSACTIONS"}},

	{"eventbus.type", []string{"EVENTBUS_TYPE"}},
	{"eventbus.brokers", []string{"EVENTBUS_BROKERS"}},
	{"eventbus.serializer", []string{"EVENTBUS_SERIALIZER"}},
	{"eventbus.operation_timeout", []string{"EVENTBUS_OPERATION_TIMEOUT"}},
	{"eventbus.max_retries", []string{"EVENTBUS_MAX_RETRIES"}},

	{"persistence.soft_delete_filter_enabled", []string{"PERSISTENCE_SOFT_DELETE_FILTER_ENABLED"}},
	{"persistence.dispatch_topic", []string{"PERSISTENCE_DISPATCH_TOPIC"}},

	{"observability.log_level", []string{"LOG_LEVEL"}},
	{"observability.log_format", []string{"LOG_FORMAT"}},
	{"observability.metrics_namespace", []string{"METRICS_NAMESPACE"}},
	{"observability.tracing_enabled", []string{"TRACING_ENABLED"}},
	{"observability.tracing_sample_rate", []string{"TRACING_SAMPLE_RATE"}},
	{"observability.tracing_endpoint", []string{"TRACING_ENDPOINT"}},
}

func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, k := range envKeys {
		names := make([]string, 0, 1+len(k.suffixes))
		names = append(names, k.key)
		for _, suffix := range k.suffixes {
			names = append(names, l.prefixedEnv(suffix))
		}
		_ = v.BindEnv(names...)
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return strings.ToUpper(prefix) + "_" + suffix
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults registers every leaf of cfg under its dotted key so that
// viper knows the full key set even when no file is read.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	walkFields(reflect.ValueOf(cfg).Elem(), "", func(key string, value reflect.Value) {
		v.SetDefault(key, value.Interface())
	})
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
}

// walkFields calls fn for every exported leaf field of v with its dotted key.
func walkFields(v reflect.Value, prefix string, fn func(key string, value reflect.Value)) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			continue
		}
		key := prefix + fieldKey(t.Field(i))
		if field.Kind() == reflect.Struct {
			walkFields(field, key+".", fn)
			continue
		}
		fn(key, field)
	}
}

// Validate normalizes cfg and reports every invalid setting at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.EventBus.Type = strings.ToLower(strings.TrimSpace(cfg.EventBus.Type))
	cfg.EventBus.Brokers = normalizeStringSlice(cfg.EventBus.Brokers)

	// Validate Database configuration
	validTypes := []string{DatabaseTypeMemory, DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeMongoDB}
	if !slices.Contains(validTypes, cfg.Database.Type) {
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", cfg.Database.Type, validTypes))
	}
	if cfg.Database.Type != DatabaseTypeMemory && cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required when database.type is not memory"))
	}
	if cfg.Database.Type == DatabaseTypeMongoDB && cfg.Database.DatabaseName == "" {
		errs = append(errs, errors.New("database.database_name is required when database.type is mongodb"))
	}
	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection pool sizes cannot be negative"))
	}

	// Validate EventBus configuration
	validBuses := []string{EventBusTypeNone, EventBusTypeKafka}
	if !slices.Contains(validBuses, cfg.EventBus.Type) {
		errs = append(errs, fmt.Errorf("invalid eventbus.type: %s (must be one of: %v)", cfg.EventBus.Type, validBuses))
	}
	if cfg.EventBus.Type == EventBusTypeKafka {
		if len(cfg.EventBus.Brokers) == 0 {
			errs = append(errs, errors.New("eventbus.brokers is required when eventbus.type is kafka"))
		}
		if strings.TrimSpace(cfg.Persistence.DispatchTopic) == "" {
			errs = append(errs, errors.New("persistence.dispatch_topic is required when an event bus is configured"))
		}
	}
	validSerializers := []string{"json", "protobuf"}
	if !slices.Contains(validSerializers, cfg.EventBus.Serializer) {
		errs = append(errs, fmt.Errorf("invalid eventbus.serializer: %s (must be one of: %v)", cfg.EventBus.Serializer, validSerializers))
	}

	// Validate Observability configuration
	if _, err := logger.ParseLogLevel(cfg.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %w", err))
	}
	if _, err := logger.ParseLogFormat(cfg.Observability.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %w", err))
	}
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if rate := cfg.Observability.TracingSampleRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("invalid observability.tracing_sample_rate: %v (must be between 0 and 1)", rate))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// normalizeStringSlice removes empty strings and trims whitespace
func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
