package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Path: "./data/agent.sqlite",
		},
		Mailbox: MailboxConfig{
			ClientID:     "test",
			ClientSecret: "test",
			RefreshToken: "test",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 15,
			Workers:         4,
		},
		Pipeline: PipelineConfig{
			UserID:              "u_local",
			CollaboratorTimeout: 30 * time.Second,
			FingerprintTTL:      168 * time.Hour,
		},
		Approval: ApprovalConfig{
			MaxAge: 72 * time.Hour,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"missing gmail credentials", func(c *Config) { c.Mailbox.RefreshToken = "" }},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalSeconds = 0 }},
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }},
		{"zero collaborator timeout", func(c *Config) { c.Pipeline.CollaboratorTimeout = 0 }},
		{"zero fingerprint ttl", func(c *Config) { c.Pipeline.FingerprintTTL = 0 }},
		{"zero approval max age", func(c *Config) { c.Approval.MaxAge = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfigValidationIMAP(t *testing.T) {
	config := validConfig()
	config.Mailbox = MailboxConfig{
		UseIMAP:  true,
		IMAPHost: "imap.gmail.com",
		IMAPPort: 993,
	}
	assert.Error(t, config.Validate())

	config.Mailbox.IMAPUser = "user@example.com"
	config.Mailbox.IMAPPassword = "secret"
	assert.NoError(t, config.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "id")
	t.Setenv("GMAIL_CLIENT_SECRET", "secret")
	t.Setenv("GMAIL_REFRESH_TOKEN", "token")

	config, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, 15, config.Scheduler.IntervalSeconds)
	assert.Equal(t, 4, config.Scheduler.Workers)
	assert.Equal(t, "u_local", config.Pipeline.UserID)
	assert.Equal(t, 30*time.Second, config.Pipeline.CollaboratorTimeout)
	assert.Equal(t, 168*time.Hour, config.Pipeline.FingerprintTTL)
	assert.Equal(t, 72*time.Hour, config.Approval.MaxAge)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "id")
	t.Setenv("GMAIL_CLIENT_SECRET", "secret")
	t.Setenv("GMAIL_REFRESH_TOKEN", "token")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SCHEDULER_INTERVAL_SECONDS", "5")
	t.Setenv("PIPELINE_USER_ID", "u_test")
	t.Setenv("HITL_SECRET", "hunter2")

	config, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, 5, config.Scheduler.IntervalSeconds)
	assert.Equal(t, "u_test", config.Pipeline.UserID)
	assert.Equal(t, "hunter2", config.Approval.Secret)
}
