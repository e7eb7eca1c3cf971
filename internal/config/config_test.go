package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiernet.org/internal/network"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTH_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "tiernet.notifications", cfg.NotifyExchange)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, "*/5 * * * *", cfg.StalePaymentSchedule)
	assert.Equal(t, "0 3 * * *", cfg.DormantSchedule)
	assert.Equal(t, network.DefaultSettings(), cfg.Settings())
	assert.Len(t, cfg.Schedules(), len(network.SweepKinds))
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTH_SECRET", "s3cret")
	t.Setenv("PAYMENT_TIMEOUT", "5m")
	t.Setenv("SUBSCRIPTION_TIER", "3")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("DATABASE_URL", "postgres://tiernet@localhost/tiernet")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 3, cfg.SubscriptionTier)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, "postgres://tiernet@localhost/tiernet", cfg.DatabaseURL)
}

func TestLoadRequiresSecret(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTH_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "AUTH_SECRET"))
}

func TestValidateRejectsNonPositiveValues(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTH_SECRET", "s3cret")
	t.Setenv("DORMANT_GRACE", "0s")
	t.Setenv("SUBSCRIPTION_AMOUNT", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DORMANT_GRACE")
	assert.Contains(t, err.Error(), "SUBSCRIPTION_AMOUNT")
}
