package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

// validVaultKey is base64 of 32 zero bytes.
const validVaultKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
api:
  port: 9000
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
catalog:
  teams_dir: "/srv/crews"
  workflows_dir: "/srv/workflows"
  sync_schedule: "*/15 * * * *"
n8n:
  url: "http://n8n.internal:5678/api/v1"
agents:
  interpreters:
    py: "/usr/bin/python3.12"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.Catalog.TeamsDir != "/srv/crews" {
		t.Errorf("Catalog.TeamsDir = %q, want %q", cfg.Catalog.TeamsDir, "/srv/crews")
	}
	if cfg.Catalog.ReservedPrefix != "__" {
		t.Errorf("Catalog.ReservedPrefix = %q, want default %q", cfg.Catalog.ReservedPrefix, "__")
	}
	if cfg.Agents.Interpreters["py"] != "/usr/bin/python3.12" {
		t.Errorf("Agents.Interpreters[py] = %q", cfg.Agents.Interpreters["py"])
	}
	if cfg.N8N.ProbeTimeout != 5 {
		t.Errorf("N8N.ProbeTimeout = %d, want default 5", cfg.N8N.ProbeTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for missing JWT secret, got nil")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("error %q does not mention the JWT secret", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid explicit vault key", mutate: func(c *Config) { c.Security.Vault.Key = validVaultKey }},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "32 characters"},
		{name: "vault key not base64", mutate: func(c *Config) { c.Security.Vault.Key = "%%%" }, wantErr: "base64"},
		{name: "vault key wrong size", mutate: func(c *Config) { c.Security.Vault.Key = "AAAA" }, wantErr: "32 bytes"},
		{
			name: "no vault key source",
			mutate: func(c *Config) {
				c.Security.Vault.Key = ""
				c.Security.Vault.KeyFile = ""
			},
			wantErr: "security.vault.key",
		},
		{name: "missing teams dir", mutate: func(c *Config) { c.Catalog.TeamsDir = "" }, wantErr: "catalog.teams_dir"},
		{name: "bad cron schedule", mutate: func(c *Config) { c.Catalog.SyncSchedule = "every tuesday" }, wantErr: "sync_schedule"},
		{name: "descriptor schedule", mutate: func(c *Config) { c.Catalog.SyncSchedule = "@every 10m" }},
		{name: "relative n8n url", mutate: func(c *Config) { c.N8N.URL = "/api/v1" }, wantErr: "n8n.url"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"database.path", "api.port", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout() = %v, want 30", got)
	}
	if got := cfg.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}
	if got := cfg.IdleTimeout().Seconds(); got != 60 {
		t.Errorf("IdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("DIVERT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DIVERT_JWT_SECRET", "jwt-secret")
	t.Setenv("DIVERT_VAULT_KEY", validVaultKey)
	t.Setenv("DIVERT_N8N_API_KEY", "n8n-key")
	t.Setenv("DIVERT_N8N_BASIC_AUTH_USER", "admin")
	t.Setenv("DIVERT_CATALOG_WORKFLOWS_DIR", "/opt/workflows")
	t.Setenv("DIVERT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DIVERT_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	checks := map[string][2]string{
		"Database.Path":         {cfg.Database.Path, "/custom/path.db"},
		"Security.JWT.Secret":   {cfg.Security.JWT.Secret, "jwt-secret"},
		"Security.Vault.Key":    {cfg.Security.Vault.Key, validVaultKey},
		"N8N.APIKey":            {cfg.N8N.APIKey, "n8n-key"},
		"N8N.BasicAuthUser":     {cfg.N8N.BasicAuthUser, "admin"},
		"Catalog.WorkflowsDir":  {cfg.Catalog.WorkflowsDir, "/opt/workflows"},
		"MQTT.Broker.Host":      {cfg.MQTT.Broker.Host, "mqtt.example.com"},
		"InfluxDB.Token":        {cfg.InfluxDB.Token, "secret-token"},
	}
	for field, pair := range checks {
		if pair[0] != pair[1] {
			t.Errorf("%s = %q, want %q", field, pair[0], pair[1])
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path == "" {
		t.Error("Default should have non-empty Database.Path")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("Default API.Port = %d, want 8000", cfg.API.Port)
	}
	if !cfg.Catalog.SyncOnStartup {
		t.Error("Default should sync the catalog on startup")
	}
	if cfg.Security.JWT.Secret != "" {
		t.Error("Default must not ship a JWT secret")
	}
}
