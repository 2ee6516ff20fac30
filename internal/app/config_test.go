package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PG_DSN", "postgres://stock@localhost/stock")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3*time.Second, cfg.DBLockTimeout)
	require.Equal(t, time.Duration(0), cfg.ReservationDefaultTTL)
	require.Equal(t, 500, cfg.ReservationSweepBatch)
	require.Equal(t, "*/5 * * * *", cfg.ReservationSweepCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("RESERVATION_DEFAULT_TTL", "45m")
	t.Setenv("DB_LOCK_TIMEOUT", "500ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 45*time.Minute, cfg.ReservationDefaultTTL)
	require.Equal(t, 500*time.Millisecond, cfg.DBLockTimeout)
}

func TestConfigValidate(t *testing.T) {
	base := Config{PGDSN: "postgres://x", DBLockTimeout: time.Second, ReservationSweepBatch: 10}
	require.NoError(t, base.Validate())

	bad := base
	bad.ReservationDefaultTTL = -time.Minute
	require.Error(t, bad.Validate())

	bad = base
	bad.ReservationSweepBatch = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.PGDSN = ""
	require.Error(t, bad.Validate())
}

func TestSkipStartup(t *testing.T) {
	for value, want := range map[string]bool{"": false, "1": true, "true": true, "no": false, "0": false} {
		t.Setenv(SkipStartupEnv, value)
		require.Equal(t, want, SkipStartup(), value)
	}
}
