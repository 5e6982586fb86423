package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0.80, cfg.UrgencyThresholds.Critical)
	assert.Equal(t, 0.60, cfg.UrgencyThresholds.High)
	assert.Equal(t, int64(90_000), cfg.Delivery.FocusDetectionWindowMs)
	assert.Equal(t, 3, cfg.Delivery.MinCalls)
	assert.Equal(t, int64(600_000), cfg.Feedback.ActionWindowMs)
	assert.Equal(t, 20, cfg.Feedback.MinObservations)
	assert.Equal(t, "report", cfg.Feedback.LowValuePolicy)
}

func TestLoadFileMergesOverrides(t *testing.T) {
	path := writeConfig(t, `
session_id: s-42
poll_intervals_ms:
  ci: 15000
staleness_thresholds_ms:
  ci: 60000
urgency_thresholds:
  critical: 0.9
delivery:
  batch_max_size: 4
  digest_cron: "0 * * * *"
feedback:
  low_value_policy: demote
sources:
  - id: ci
    kind: json
    url: http://ci.local/status
    poll_interval_ms: 30000
keywords:
  ci: [rerun, retry]
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s-42", cfg.SessionID)
	assert.Equal(t, 0.9, cfg.UrgencyThresholds.Critical)
	assert.Equal(t, 0.60, cfg.UrgencyThresholds.High, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Delivery.BatchMaxSize)
	assert.Equal(t, int64(300_000), cfg.Delivery.BatchWindowMs)
	assert.Equal(t, "0 * * * *", cfg.Delivery.DigestCron)
	assert.Equal(t, "demote", cfg.Feedback.LowValuePolicy)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, []string{"rerun", "retry"}, cfg.Keywords["ci"])

	assert.Equal(t, 15*time.Second, cfg.PollInterval(cfg.Sources[0]), "poll_intervals_ms wins")
	assert.Equal(t, time.Minute, cfg.Staleness()["ci"])
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "delivery: [unclosed"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(databaseDriverEnv, "POSTGRES")
	t.Setenv(databaseDSNEnv, "postgres://localhost/insights")
	t.Setenv(slackChannelEnv, "#alerts")
	t.Setenv(logLevelEnv, "warn")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/insights", cfg.Database.DSN)
	assert.Equal(t, "#alerts", cfg.Notifications.Slack.Channel)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()
	assert.Equal(t, 10, cfg.Delivery.BatchMaxSize)
}
