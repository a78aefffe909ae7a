package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the embedded database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MailboxConfig holds mailbox collaborator configuration. Gmail API is the
// default transport; IMAP is the alternative.
type MailboxConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
}

// SchedulerConfig holds ingestion loop configuration
type SchedulerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	Workers         int `mapstructure:"workers"`
}

// PipelineConfig holds pipeline core configuration
type PipelineConfig struct {
	UserID              string        `mapstructure:"user_id"`
	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`
	FingerprintTTL      time.Duration `mapstructure:"fingerprint_ttl"`
}

// ApprovalConfig holds approval queue configuration
type ApprovalConfig struct {
	Secret string        `mapstructure:"secret"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.path", "./data/agent.sqlite")

	viper.SetDefault("mailbox.use_imap", false)
	viper.SetDefault("mailbox.imap_host", "imap.gmail.com")
	viper.SetDefault("mailbox.imap_port", 993)

	viper.SetDefault("scheduler.interval_seconds", 15)
	viper.SetDefault("scheduler.workers", 4)

	viper.SetDefault("pipeline.user_id", "u_local")
	viper.SetDefault("pipeline.collaborator_timeout", "30s")
	viper.SetDefault("pipeline.fingerprint_ttl", "168h")

	viper.SetDefault("approval.max_age", "72h")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.path", "DB_PATH")

	// Mailbox
	viper.BindEnv("mailbox.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("mailbox.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("mailbox.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mailbox.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("mailbox.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("mailbox.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("mailbox.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("mailbox.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("mailbox.imap_password", "GMAIL_IMAP_PASSWORD")

	// Scheduler
	viper.BindEnv("scheduler.interval_seconds", "SCHEDULER_INTERVAL_SECONDS")
	viper.BindEnv("scheduler.workers", "SCHEDULER_WORKERS")

	// Pipeline
	viper.BindEnv("pipeline.user_id", "PIPELINE_USER_ID")
	viper.BindEnv("pipeline.collaborator_timeout", "PIPELINE_COLLABORATOR_TIMEOUT")
	viper.BindEnv("pipeline.fingerprint_ttl", "PIPELINE_FINGERPRINT_TTL")

	// Approval
	viper.BindEnv("approval.secret", "HITL_SECRET")
	viper.BindEnv("approval.max_age", "APPROVAL_MAX_AGE")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if !c.Mailbox.UseIMAP {
		if c.Mailbox.ClientID == "" || c.Mailbox.ClientSecret == "" || c.Mailbox.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Mailbox.IMAPUser == "" || c.Mailbox.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be greater than 0")
	}

	if c.Pipeline.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be greater than 0")
	}
	if c.Pipeline.FingerprintTTL <= 0 {
		return fmt.Errorf("fingerprint ttl must be greater than 0")
	}

	if c.Approval.MaxAge <= 0 {
		return fmt.Errorf("approval max age must be greater than 0")
	}

	return nil
}
