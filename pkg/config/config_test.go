package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: test-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./testmgr.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "./results", cfg.Runner.ResultsDir)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTLDuration())
	assert.Equal(t, 30*time.Minute, cfg.RunTimeoutDuration())
	assert.Equal(t, time.Second, cfg.StepDelayDuration())

	require.NoError(t, cfg.Validate())
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
server:
  listen: ":9000"
  cors_origins:
    - http://localhost:5173
  rate_limit:
    enabled: true
    auth:
      requests_per_minute: 10
    authenticated:
      requests_per_minute: 120
auth:
  jwt_secret: super-secret
  token_ttl: 1h
  seed:
    - user_id: admin
      password: changeme
      admin: true
database:
  driver: postgres
  postgres:
    host: localhost
    port: 5432
    user: testmgr
    password: testmgr
    database: testmgr
runner:
  results_dir: ./results
  run_timeout: 5m
  step_delay: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.Server.RateLimit.Auth.RequestsPerMinute)
	assert.Equal(t, time.Hour, cfg.TokenTTLDuration())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.RunTimeoutDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.StepDelayDuration())
	require.Len(t, cfg.Auth.Seed, 1)
	assert.True(t, cfg.Auth.Seed[0].Admin)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			mutate:  func(cfg *Config) { cfg.Auth.JWTSecret = "" },
			wantErr: "jwt_secret",
		},
		{
			name:    "bad token ttl",
			mutate:  func(cfg *Config) { cfg.Auth.TokenTTL = "soon" },
			wantErr: "token_ttl",
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *Config) { cfg.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
			},
			wantErr: "postgres.host",
		},
		{
			name:    "bad run timeout",
			mutate:  func(cfg *Config) { cfg.Runner.RunTimeout = "forever" },
			wantErr: "run_timeout",
		},
		{
			name: "seed user without password",
			mutate: func(cfg *Config) {
				cfg.Auth.Seed = []SeedUser{{UserID: "u1"}}
			},
			wantErr: "password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Auth: AuthConfig{JWTSecret: "s"}}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
