package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DBDriver:                 "sqlite",
		EntryRadiusMeters:        25,
		ExitRadiusMeters:         35,
		GeofenceRadiusMeters:     100,
		DetectionThresholdMeters: 50,
		LedgerCapacity:           100,
		TargetSource:             "database",
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env file here

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 25.0, cfg.EntryRadiusMeters)
	assert.Equal(t, 35.0, cfg.ExitRadiusMeters)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, time.Hour, cfg.NotificationCooldown)
	assert.Equal(t, 5*time.Minute, cfg.DetectionCooldown)
	assert.Equal(t, 100, cfg.LedgerCapacity)
	assert.False(t, cfg.PushEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENTRY_RADIUS_METERS", "40")
	t.Setenv("EXIT_RADIUS_METERS", "60")
	t.Setenv("NOTIFICATION_COOLDOWN_SECONDS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.EntryRadiusMeters)
	assert.Equal(t, 60.0, cfg.ExitRadiusMeters)
	assert.Equal(t, 10*time.Second, cfg.NotificationCooldown)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "exit not above entry", mutate: func(c *Config) { c.ExitRadiusMeters = 25 }, wantErr: true},
		{name: "detection wider than geofence", mutate: func(c *Config) { c.DetectionThresholdMeters = 150 }, wantErr: true},
		{name: "zero capacity", mutate: func(c *Config) { c.LedgerCapacity = 0 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, wantErr: true},
		{name: "elasticsearch without url", mutate: func(c *Config) { c.TargetSource = "elasticsearch" }, wantErr: true},
		{name: "missing firebase key", mutate: func(c *Config) {
			c.FirebaseServiceAccountKeyPath = filepath.Join(t.TempDir(), "missing.json")
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
