package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/helioscale/helioscale/internal/types"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Stripe     StripeConfig     `validate:"required"`
	Audit      AuditConfig
	Scheduler  SchedulerConfig
	Dunning    DunningConfig
	Trial      TrialConfig
	Churn      ChurnConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	// Timeout bounds every gateway call so a hung charge attempt cannot
	// stall a billing cycle.
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuditConfig struct {
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type SchedulerConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	TrialReminderInterval   time.Duration `mapstructure:"trial_reminder_interval"`
	TrialExpirationInterval time.Duration `mapstructure:"trial_expiration_interval"`
	RetrySweepInterval      time.Duration `mapstructure:"retry_sweep_interval"`
	ResumeSweepInterval     time.Duration `mapstructure:"resume_sweep_interval"`
	ChurnHour               int           `mapstructure:"churn_hour"`
	ChurnMinute             int           `mapstructure:"churn_minute"`
	FailureCooldown         time.Duration `mapstructure:"failure_cooldown"`
}

type DunningConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type TrialConfig struct {
	ReminderThresholds []int `mapstructure:"reminder_thresholds"`
}

type ChurnConfig struct {
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	RetentionBatchLimit int           `mapstructure:"retention_batch_limit"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	// Modify config paths to ensure config.yaml is found
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/helioscale")

	// Set up environment variables support
	v.SetEnvPrefix("HELIOSCALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// ApplyDefaults fills in zero values with sane defaults so a minimal
// config file is enough to boot the service.
func (c *Configuration) ApplyDefaults() {
	if c.Stripe.Timeout <= 0 {
		c.Stripe.Timeout = 15 * time.Second
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Scheduler.TrialReminderInterval <= 0 {
		c.Scheduler.TrialReminderInterval = 6 * time.Hour
	}
	if c.Scheduler.TrialExpirationInterval <= 0 {
		c.Scheduler.TrialExpirationInterval = time.Hour
	}
	if c.Scheduler.RetrySweepInterval <= 0 {
		c.Scheduler.RetrySweepInterval = 6 * time.Hour
	}
	if c.Scheduler.ResumeSweepInterval <= 0 {
		c.Scheduler.ResumeSweepInterval = 15 * time.Minute
	}
	if c.Scheduler.FailureCooldown <= 0 {
		c.Scheduler.FailureCooldown = 30 * time.Second
	}
	if c.Dunning.MaxAttempts <= 0 {
		c.Dunning.MaxAttempts = 4
	}
	if len(c.Trial.ReminderThresholds) == 0 {
		c.Trial.ReminderThresholds = []int{7, 3, 1}
	}
	if c.Churn.CacheTTL <= 0 {
		c.Churn.CacheTTL = 15 * time.Minute
	}
	if c.Churn.RetentionBatchLimit <= 0 {
		c.Churn.RetentionBatchLimit = 10
	}
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	cfg := &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Stripe:     StripeConfig{SecretKey: "sk_test_local"},
	}
	cfg.ApplyDefaults()
	return cfg
}
