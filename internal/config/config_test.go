package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("REMINDERS_AUTH_JWT_SECRET", "secret")
	t.Setenv("REMINDERS_SCHEDULER_BATCH_SIZE", "25")
	t.Setenv("REMINDERS_SCHEDULER_TICK_INTERVAL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Scheduler.Retention)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.BatchWindow)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
auth:
  jwt_secret: from-file
scheduler:
  max_retries: 5
  look_ahead_days: 14
mail:
  driver: smtp
  smtp_host: mail.local
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 14, cfg.Scheduler.LookAheadDays)
	assert.Equal(t, "smtp", cfg.Mail.Driver)
	assert.Equal(t, "mail.local", cfg.Mail.SMTPHost)
}

func TestValidate(t *testing.T) {
	t.Setenv("REMINDERS_AUTH_JWT_SECRET", "secret")

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad driver", env: map[string]string{"REMINDERS_DATABASE_DRIVER": "mysql"}},
		{name: "redis cache without redis", env: map[string]string{"REMINDERS_CACHE_DRIVER": "redis"}},
		{name: "distributed claim without redis", env: map[string]string{"REMINDERS_SCHEDULER_DISTRIBUTED_CLAIM": "true"}},
		{name: "bad mail driver", env: map[string]string{"REMINDERS_MAIL_DRIVER": "pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestYAMLMasksSecrets(t *testing.T) {
	t.Setenv("REMINDERS_AUTH_JWT_SECRET", "very-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-secret")
	assert.Contains(t, string(out), "********")
}
