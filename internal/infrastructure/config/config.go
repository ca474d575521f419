package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Divert Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	N8N       N8NConfig       `yaml:"n8n"`
	Agents    AgentsConfig    `yaml:"agents"`
	Events    EventsConfig    `yaml:"events"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
//
// Write is deliberately generous: agent-team runs execute on the request
// goroutine and may take minutes.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT   JWTConfig   `yaml:"jwt"`
	Vault VaultConfig `yaml:"vault"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// VaultConfig controls where the credential encryption key comes from.
//
// Resolution order: Key, then the contents of KeyFile, then (only when
// AutoGenerate is set) a freshly generated key written to KeyFile.
type VaultConfig struct {
	// Key is the base64-encoded 32-byte key. Prefer DIVERT_VAULT_KEY.
	Key string `yaml:"key"`

	// KeyFile holds the base64 key on disk.
	KeyFile string `yaml:"key_file"`

	// AutoGenerate allows a development key to be created on first start.
	// Never enable in production: losing the file loses every credential.
	AutoGenerate bool `yaml:"auto_generate"`
}

// CatalogConfig points at the on-disk automation catalogs.
type CatalogConfig struct {
	TeamsDir       string `yaml:"teams_dir"`
	WorkflowsDir   string `yaml:"workflows_dir"`
	ReservedPrefix string `yaml:"reserved_prefix"`
	SyncOnStartup  bool   `yaml:"sync_on_startup"`

	// SyncSchedule is a standard five-field cron expression or a descriptor
	// such as "@every 10m". Empty disables periodic sync.
	SyncSchedule string `yaml:"sync_schedule"`
}

// N8NConfig contains remote workflow engine settings.
type N8NConfig struct {
	URL               string `yaml:"url"` // e.g. http://localhost:5678/api/v1
	APIKey            string `yaml:"api_key"`
	BasicAuthUser     string `yaml:"basic_auth_user"`
	BasicAuthPassword string `yaml:"basic_auth_password"`
	Timeout           int    `yaml:"timeout"`       // seconds, per call
	ProbeTimeout      int    `yaml:"probe_timeout"` // seconds, liveness probe
	WebhookBaseURL    string `yaml:"webhook_base_url"`
}

// AgentsConfig contains local agent-team execution settings.
type AgentsConfig struct {
	// Interpreters maps an entry file extension (without dot) to the
	// binary that runs it, e.g. {"py": "python3"}. Lua entry files run
	// in-process and need no entry here.
	Interpreters map[string]string `yaml:"interpreters"`

	Timeout             int    `yaml:"timeout"`          // seconds, 0 = no limit
	GracefulTimeout     int    `yaml:"graceful_timeout"` // seconds
	InstallDependencies bool   `yaml:"install_dependencies"`
	PipBinary           string `yaml:"pip_binary"`
}

// EventsConfig controls where execution lifecycle events are exported.
type EventsConfig struct {
	MQTTEnabled bool   `yaml:"mqtt_enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DIVERT_SECTION_KEY
// For example: DIVERT_DATABASE_PATH, DIVERT_N8N_API_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// The JWT secret and vault key are intentionally left empty.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/divert.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 900,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Vault: VaultConfig{
				KeyFile: "./data/vault.key",
			},
		},
		Catalog: CatalogConfig{
			TeamsDir:       "./static/crews",
			WorkflowsDir:   "./static/workflows",
			ReservedPrefix: "__",
			SyncOnStartup:  true,
		},
		N8N: N8NConfig{
			URL:          "http://localhost:5678/api/v1",
			Timeout:      60,
			ProbeTimeout: 5,
		},
		Agents: AgentsConfig{
			Interpreters:    map[string]string{"py": "python3"},
			GracefulTimeout: 10,
			PipBinary:       "pip",
		},
		Events: EventsConfig{
			TopicPrefix: "divert",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "divert-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DIVERT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"DIVERT_DATABASE_PATH":           &cfg.Database.Path,
		"DIVERT_API_HOST":                &cfg.API.Host,
		"DIVERT_JWT_SECRET":              &cfg.Security.JWT.Secret,
		"DIVERT_VAULT_KEY":               &cfg.Security.Vault.Key,
		"DIVERT_VAULT_KEY_FILE":          &cfg.Security.Vault.KeyFile,
		"DIVERT_CATALOG_TEAMS_DIR":       &cfg.Catalog.TeamsDir,
		"DIVERT_CATALOG_WORKFLOWS_DIR":   &cfg.Catalog.WorkflowsDir,
		"DIVERT_N8N_URL":                 &cfg.N8N.URL,
		"DIVERT_N8N_API_KEY":             &cfg.N8N.APIKey,
		"DIVERT_N8N_BASIC_AUTH_USER":     &cfg.N8N.BasicAuthUser,
		"DIVERT_N8N_BASIC_AUTH_PASSWORD": &cfg.N8N.BasicAuthPassword,
		"DIVERT_MQTT_HOST":               &cfg.MQTT.Broker.Host,
		"DIVERT_MQTT_USERNAME":           &cfg.MQTT.Auth.Username,
		"DIVERT_MQTT_PASSWORD":           &cfg.MQTT.Auth.Password,
		"DIVERT_INFLUXDB_TOKEN":          &cfg.InfluxDB.Token,
	}
	for env, target := range overrides {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}
}

// Validate checks the configuration for errors and security issues.
// Every problem is reported, not just the first.
//
// Returns:
//   - error: Joined description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, errors.New("security.jwt.secret is required (set DIVERT_JWT_SECRET environment variable)"))
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, errors.New("security.jwt.secret must be at least 32 characters"))
	}

	errs = append(errs, c.Security.Vault.validate()...)

	if c.Catalog.TeamsDir == "" {
		errs = append(errs, errors.New("catalog.teams_dir is required"))
	}
	if c.Catalog.WorkflowsDir == "" {
		errs = append(errs, errors.New("catalog.workflows_dir is required"))
	}
	if c.Catalog.SyncSchedule != "" {
		if _, err := cron.ParseStandard(c.Catalog.SyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("catalog.sync_schedule: %w", err))
		}
	}

	if u, err := url.Parse(c.N8N.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("n8n.url %q is not an absolute URL", c.N8N.URL))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, errors.New("influxdb.url is required when influxdb is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

func (v VaultConfig) validate() []error {
	var errs []error
	if v.Key != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v.Key))
		if err != nil {
			errs = append(errs, fmt.Errorf("security.vault.key is not valid base64: %w", err))
		} else if len(raw) != 32 { //nolint:mnd // XChaCha20-Poly1305 key size
			errs = append(errs, errors.New("security.vault.key must decode to 32 bytes"))
		}
	}
	if v.Key == "" && v.KeyFile == "" {
		errs = append(errs, errors.New("security.vault.key or security.vault.key_file is required"))
	}
	return errs
}

// ReadTimeout returns the API read timeout as a Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a seconds-valued config field to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
