// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, durations, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // 32 bytes

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
owner_id: 42

bulk:
  min_delay: "2s"

health:
  interval: "1m"
  probe_timeout: "5s"
  concurrency: 8

database:
  driver: "sqlite"
  path: "./manager.db"

security:
  credentials_key: "`+testKey+`"

matrix:
  enabled: true
  homeserver: "https://matrix.example.org"
  user_id: "@manager:example.org"
  access_token: "syt_token"
  log_room: "!audit:example.org"
  operators:
    "@alice:example.org": 42
    "@bob:example.org": 7

audit:
  redis:
    addr: "localhost:6379"

http:
  addr: "127.0.0.1:9000"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.OwnerID)
	assert.Equal(t, 2*time.Second, cfg.Bulk.MinDelay)
	assert.Equal(t, time.Minute, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 8, cfg.Health.Concurrency)
	assert.Equal(t, "./manager.db", cfg.Database.Path)
	assert.Equal(t, testKey, cfg.Security.CredentialsKey)
	assert.True(t, cfg.Matrix.Enabled)
	assert.Equal(t, "!audit:example.org", cfg.Matrix.LogRoom)
	assert.Equal(t, map[string]int64{"@alice:example.org": 42, "@bob:example.org": 7}, cfg.Matrix.Operators)
	assert.Equal(t, "https://matrix.example.org", cfg.Assistants.Homeserver, "assistants inherit the bot homeserver")
	assert.Equal(t, "localhost:6379", cfg.Audit.Redis.Addr)
	assert.Equal(t, "assistant-manager:audit", cfg.Audit.Redis.Channel)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
owner_id = 5

[bulk]
min_delay = "500ms"

[database]
driver = "mongo"

[database.mongo]
uri = "mongodb://localhost:27017"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.OwnerID)
	assert.Equal(t, 500*time.Millisecond, cfg.Bulk.MinDelay)
	assert.Equal(t, "mongo", cfg.Database.Driver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Database.Mongo.URI)
	assert.Equal(t, DefaultMongoDatabase, cfg.Database.Mongo.Database)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
owner_id: 1
database:
  path: "./manager.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMinDelay, cfg.Bulk.MinDelay)
	assert.Equal(t, DefaultHealthInterval, cfg.Health.Interval)
	assert.Equal(t, DefaultProbeTimeout, cfg.Health.ProbeTimeout)
	assert.Equal(t, DefaultProbeWorkers, cfg.Health.Concurrency)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultCommandPrefix, cfg.Matrix.CommandPrefix)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Matrix.Enabled)
}

func TestLoad_ExplicitZeroDelay(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
owner_id: 1
bulk:
  min_delay: "0s"
database:
  path: "./manager.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Bulk.MinDelay)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "syt_from_env")
	t.Setenv("TEST_CREDENTIALS_KEY", testKey)

	path := writeConfig(t, "config.yaml", `
owner_id: 1
database:
  path: "./manager.db"
security:
  credentials_key: "${TEST_CREDENTIALS_KEY}"
matrix:
  enabled: true
  homeserver: "https://matrix.example.org"
  user_id: "@manager:example.org"
  access_token: "${TEST_MATRIX_TOKEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "syt_from_env", cfg.Matrix.AccessToken)
	assert.Equal(t, testKey, cfg.Security.CredentialsKey)
}

func TestExpandEnvVars_Unset(t *testing.T) {
	os.Unsetenv("TEST_DEFINITELY_UNSET")
	assert.Equal(t, "token: ", expandEnvVars("token: ${TEST_DEFINITELY_UNSET}"))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{raw: "3", want: 3 * time.Second},
		{raw: " 10 ", want: 10 * time.Second},
		{raw: "0", want: 0},
		{raw: "1m30s", want: 90 * time.Second},
		{raw: "250ms", want: 250 * time.Millisecond},
		{raw: "soon", err: true},
		{raw: "-", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDuration(tt.raw)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{
			name:    "missing owner",
			content: "database:\n  path: ./x.db\n",
			errText: "OwnerID",
		},
		{
			name:    "bad duration",
			content: "owner_id: 1\nbulk:\n  min_delay: \"fast\"\ndatabase:\n  path: ./x.db\n",
			errText: "min_delay",
		},
		{
			name:    "zero interval",
			content: "owner_id: 1\nhealth:\n  interval: \"0s\"\ndatabase:\n  path: ./x.db\n",
			errText: "health.interval",
		},
		{
			name:    "unknown driver",
			content: "owner_id: 1\ndatabase:\n  driver: postgres\n",
			errText: "Driver",
		},
		{
			name:    "sqlite without path",
			content: "owner_id: 1\n",
			errText: "database.path",
		},
		{
			name:    "mongo without uri",
			content: "owner_id: 1\ndatabase:\n  driver: mongo\n",
			errText: "database.mongo.uri",
		},
		{
			name:    "short key",
			content: "owner_id: 1\ndatabase:\n  path: ./x.db\nsecurity:\n  credentials_key: \"c2hvcnQ=\"\n",
			errText: "32 bytes",
		},
		{
			name:    "matrix without token",
			content: "owner_id: 1\ndatabase:\n  path: ./x.db\nmatrix:\n  enabled: true\n  homeserver: https://m.example.org\n  user_id: \"@b:example.org\"\n",
			errText: "matrix.access_token",
		},
		{
			name:    "bad operator id",
			content: "owner_id: 1\ndatabase:\n  path: ./x.db\nmatrix:\n  enabled: true\n  homeserver: https://m.example.org\n  user_id: \"@b:example.org\"\n  access_token: t\n  operators:\n    \"@a:example.org\": 0\n",
			errText: "matrix.operators",
		},
		{
			name:    "bad log level",
			content: "owner_id: 1\ndatabase:\n  path: ./x.db\nlogging:\n  level: loud\n",
			errText: "Level",
		},
		{
			name:    "malformed yaml",
			content: "owner_id: [1\n",
			errText: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
