package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Token modes supported by the VRM API.
const (
	// TokenModeAccess creates a named personal access token and sends it as
	// "Token <t>". This is the default and survives session expiry.
	TokenModeAccess = "access"

	// TokenModeBearer uses the session JWT returned by login as "Bearer <t>".
	TokenModeBearer = "bearer"
)

// Credential cache backends.
const (
	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"
)

// envPrefix is the prefix of every environment variable override.
const envPrefix = "VRM_"

// Config is the root configuration structure for the VRM cloud bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	VRM      VRMConfig      `yaml:"vrm"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Poll     PollConfig     `yaml:"poll"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Debug    bool           `yaml:"debug"`
}

// VRMConfig contains the VRM account and site settings.
type VRMConfig struct {
	Username             string `yaml:"username" validate:"required"`
	Password             string `yaml:"password" validate:"required"`
	SiteID               string `yaml:"site_id" validate:"required"`
	TokenName            string `yaml:"token_name" validate:"required"`
	RevokeDuplicateToken bool   `yaml:"revoke_duplicate_token"`
	TokenMode            string `yaml:"token_mode" validate:"oneof=access bearer"`
	BaseURL              string `yaml:"base_url" validate:"required,url"`
	RequestTimeout       int    `yaml:"request_timeout" validate:"min=1"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	Topic  string           `yaml:"topic" validate:"required"`
	QoS    int              `yaml:"qos" validate:"min=0,max=2"`
	Retain bool             `yaml:"retain"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PollConfig contains the scheduler cadence. All values are in seconds.
type PollConfig struct {
	Interval     int `yaml:"interval" validate:"min=1"`
	MaxBackoff   int `yaml:"max_backoff" validate:"min=1"`
	CycleTimeout int `yaml:"cycle_timeout" validate:"min=1"`
}

// CacheConfig selects where the VRM credential is persisted.
type CacheConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=file sqlite"`
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path             string `yaml:"path" validate:"required"`
	WALMode          bool   `yaml:"wal_mode"`
	BusyTimeout      int    `yaml:"busy_timeout" validate:"min=0"`
	JournalRetention int    `yaml:"journal_retention" validate:"min=0"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// validate is shared; validator caches struct metadata per type.
var validate = validator.New()

// Load reads configuration and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); a missing file is skipped
//     when optional is true
//  3. Variables from envFile (if it exists), without overriding the
//     process environment
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: VRM_KEY, for example
// VRM_USERNAME, VRM_SITE_ID, VRM_MQTT_HOST.
//
// Parameters:
//   - path: Path to the YAML configuration file (may be empty)
//   - envFile: Path to a dotenv file (may be empty)
//   - optional: Whether a missing YAML file is acceptable
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If a file cannot be read or parsed, or validation fails
func Load(path, envFile string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case optional && errors.Is(err, fs.ErrNotExist):
			// Environment-only deployment.
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "vrm-cloud-mqtt-" + uuid.NewString()[:8]
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		VRM: VRMConfig{
			TokenName:      "vrm-cloud-mqtt",
			TokenMode:      TokenModeAccess,
			BaseURL:        "https://vrmapi.victronenergy.com/v2",
			RequestTimeout: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			Topic: "vrm/cloud",
			QoS:   1,
		},
		Poll: PollConfig{
			Interval:     60,
			MaxBackoff:   900,
			CycleTimeout: 120,
		},
		Cache: CacheConfig{
			Backend: CacheBackendFile,
			Path:    ".cache",
		},
		Database: DatabaseConfig{
			Path:             "./data/vrm-cloud-mqtt.db",
			WALMode:          true,
			BusyTimeout:      5,
			JournalRetention: 1000,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8099,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VRM_KEY
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"USERNAME":         &cfg.VRM.Username,
		"PASSWORD":         &cfg.VRM.Password,
		"SITE_ID":          &cfg.VRM.SiteID,
		"TOKEN_NAME":       &cfg.VRM.TokenName,
		"TOKEN_MODE":       &cfg.VRM.TokenMode,
		"BASE_URL":         &cfg.VRM.BaseURL,
		"MQTT_HOST":        &cfg.MQTT.Broker.Host,
		"MQTT_CLIENT_ID":   &cfg.MQTT.Broker.ClientID,
		"MQTT_USERNAME":    &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":    &cfg.MQTT.Auth.Password,
		"MQTT_TOPIC":       &cfg.MQTT.Topic,
		"CACHE_BACKEND":    &cfg.Cache.Backend,
		"CACHE_PATH":       &cfg.Cache.Path,
		"CACHE_PASSPHRASE": &cfg.Cache.Passphrase,
		"DATABASE_PATH":    &cfg.Database.Path,
		"INFLUXDB_URL":     &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":   &cfg.InfluxDB.Token,
		"API_HOST":         &cfg.API.Host,
		"LOG_LEVEL":        &cfg.Logging.Level,
		"LOG_FORMAT":       &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REQUEST_TIMEOUT":    &cfg.VRM.RequestTimeout,
		"MQTT_PORT":          &cfg.MQTT.Broker.Port,
		"MQTT_QOS":           &cfg.MQTT.QoS,
		"POLL_INTERVAL":      &cfg.Poll.Interval,
		"POLL_MAX_BACKOFF":   &cfg.Poll.MaxBackoff,
		"POLL_CYCLE_TIMEOUT": &cfg.Poll.CycleTimeout,
		"API_PORT":           &cfg.API.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"REVOKE_DUPLICATE_TOKEN": &cfg.VRM.RevokeDuplicateToken,
		"MQTT_TLS":               &cfg.MQTT.Broker.TLS,
		"MQTT_RETAIN":            &cfg.MQTT.Retain,
		"INFLUXDB_ENABLED":       &cfg.InfluxDB.Enabled,
		"API_ENABLED":            &cfg.API.Enabled,
		"DEBUG":                  &cfg.Debug,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", envPrefix, key, err)
		}
		*dst = b
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q", fieldPath(fe), fe.Tag()))
		}
	}

	if c.Poll.MaxBackoff < c.Poll.Interval {
		errs = append(errs, "poll.max_backoff must be at least poll.interval")
	}
	if c.Cache.Backend == CacheBackendFile && c.Cache.Path == "" {
		errs = append(errs, "cache.path is required for the file backend")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// fieldPath turns "Config.VRM.SiteID" into "VRM.SiteID".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// PollInterval returns the scheduler tick interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Second
}

// MaxBackoff returns the backoff cap as a Duration.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Poll.MaxBackoff) * time.Second
}

// CycleTimeout returns the per-cycle deadline as a Duration.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Poll.CycleTimeout) * time.Second
}

// RequestTimeout returns the VRM HTTP request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.VRM.RequestTimeout) * time.Second
}
