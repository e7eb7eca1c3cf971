// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"tiernet.org/internal/network"
)

// Config holds all configuration for the service binaries.
type Config struct {
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	GRPCAddr       string `mapstructure:"GRPC_ADDR"`
	AuthSecret     string `mapstructure:"AUTH_SECRET"`
	AMQPURL        string `mapstructure:"AMQP_URL"`
	NotifyExchange string `mapstructure:"NOTIFY_EXCHANGE"`
	TiersFile      string `mapstructure:"TIERS_FILE"`

	SchedulerEnabled     bool   `mapstructure:"SCHEDULER_ENABLED"`
	StalePaymentSchedule string `mapstructure:"STALE_PAYMENT_SCHEDULE"`
	UpgradeSchedule      string `mapstructure:"UPGRADE_SCHEDULE"`
	SubscriptionSchedule string `mapstructure:"SUBSCRIPTION_SCHEDULE"`
	QuotaSchedule        string `mapstructure:"QUOTA_SCHEDULE"`
	DormantSchedule      string `mapstructure:"DORMANT_SCHEDULE"`

	PaymentTimeout     time.Duration `mapstructure:"PAYMENT_TIMEOUT"`
	UpgradeGrace       time.Duration `mapstructure:"UPGRADE_GRACE"`
	DormantGrace       time.Duration `mapstructure:"DORMANT_GRACE"`
	ReassignCooldown   time.Duration `mapstructure:"REASSIGN_COOLDOWN"`
	SubscriptionAmount int64         `mapstructure:"SUBSCRIPTION_AMOUNT"`
	DefaultEntryAmount int64         `mapstructure:"DEFAULT_ENTRY_AMOUNT"`
	SubscriptionTier   int           `mapstructure:"SUBSCRIPTION_TIER"`

	RateBurst  int     `mapstructure:"RATE_BURST"`
	RatePerSec float64 `mapstructure:"RATE_PER_SEC"`
}

var keys = []string{
	"DATABASE_URL", "HTTP_ADDR", "GRPC_ADDR", "AUTH_SECRET", "AMQP_URL", "NOTIFY_EXCHANGE",
	"TIERS_FILE", "SCHEDULER_ENABLED", "STALE_PAYMENT_SCHEDULE", "UPGRADE_SCHEDULE",
	"SUBSCRIPTION_SCHEDULE", "QUOTA_SCHEDULE", "DORMANT_SCHEDULE", "PAYMENT_TIMEOUT",
	"UPGRADE_GRACE", "DORMANT_GRACE", "REASSIGN_COOLDOWN", "SUBSCRIPTION_AMOUNT",
	"DEFAULT_ENTRY_AMOUNT", "SUBSCRIPTION_TIER", "RATE_BURST", "RATE_PER_SEC",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	defaults := network.DefaultSettings()
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GRPC_ADDR", ":9090")
	viper.SetDefault("NOTIFY_EXCHANGE", "tiernet.notifications")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("STALE_PAYMENT_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("UPGRADE_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("SUBSCRIPTION_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("QUOTA_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("DORMANT_SCHEDULE", "0 3 * * *") // At 03:00 every day.
	viper.SetDefault("PAYMENT_TIMEOUT", defaults.PaymentTimeout)
	viper.SetDefault("UPGRADE_GRACE", defaults.UpgradeGrace)
	viper.SetDefault("DORMANT_GRACE", defaults.DormantGrace)
	viper.SetDefault("REASSIGN_COOLDOWN", defaults.ReassignCooldown)
	viper.SetDefault("SUBSCRIPTION_AMOUNT", defaults.SubscriptionAmount)
	viper.SetDefault("DEFAULT_ENTRY_AMOUNT", defaults.DefaultEntryAmount)
	viper.SetDefault("SUBSCRIPTION_TIER", defaults.SubscriptionTier)
	viper.SetDefault("RATE_BURST", 20)
	viper.SetDefault("RATE_PER_SEC", 10)
	viper.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal.
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_SECRET is required"))
	}
	for name, d := range map[string]time.Duration{
		"PAYMENT_TIMEOUT":   c.PaymentTimeout,
		"UPGRADE_GRACE":     c.UpgradeGrace,
		"DORMANT_GRACE":     c.DormantGrace,
		"REASSIGN_COOLDOWN": c.ReassignCooldown,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.SubscriptionAmount <= 0 || c.DefaultEntryAmount <= 0 {
		errs = append(errs, errors.New("SUBSCRIPTION_AMOUNT and DEFAULT_ENTRY_AMOUNT must be positive"))
	}
	if c.SubscriptionTier < 1 {
		errs = append(errs, errors.New("SUBSCRIPTION_TIER must be >= 1"))
	}
	if c.RateBurst < 1 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("RATE_BURST and RATE_PER_SEC must be positive"))
	}
	return errors.Join(errs...)
}

// Settings returns the business constants for the network service.
func (c *Config) Settings() network.Settings {
	return network.Settings{
		SubscriptionAmount: c.SubscriptionAmount,
		DefaultEntryAmount: c.DefaultEntryAmount,
		SubscriptionTier:   c.SubscriptionTier,
		PaymentTimeout:     c.PaymentTimeout,
		UpgradeGrace:       c.UpgradeGrace,
		DormantGrace:       c.DormantGrace,
		ReassignCooldown:   c.ReassignCooldown,
	}
}

// Schedules maps each sweep to its cron expression.
func (c *Config) Schedules() map[network.SweepKind]string {
	return map[network.SweepKind]string{
		network.SweepStalePayments: c.StalePaymentSchedule,
		network.SweepUpgrades:      c.UpgradeSchedule,
		network.SweepSubscriptions: c.SubscriptionSchedule,
		network.SweepQuota:         c.QuotaSchedule,
		network.SweepDormant:       c.DormantSchedule,
	}
}
