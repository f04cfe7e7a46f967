package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 300, c.Scheduler.BaseIntervalSec)
	require.NotEmpty(t, c.Protect.PreHours)
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	body := `
scheduler:
  base_interval_sec: 600
alerts:
  cooldown_sec: 120
  webhook:
    enabled: true
    url: https://hooks.example.com/T000/B000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 600, c.Scheduler.BaseIntervalSec)
	require.Equal(t, 60, c.Scheduler.HotIntervalSec, "unset field picks up default")
	require.Equal(t, 120, c.Alerts.CooldownSec)
	require.True(t, c.Alerts.Webhook.Enabled)
	require.NotEmpty(t, c.Assess.TimeBands, "component defaults filled in")
}

func TestLoadRejectsIncoherentScheduler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	body := `
scheduler:
  base_interval_sec: 30
  hot_interval_sec: 60
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTierTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	body := `
protect:
  pre_hours:
    low: 2
  post_hours:
    low: 1
  rules_by_tier:
    low:
      buying_power_fraction: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	_, err := Load(path)
	require.Error(t, err, "partial tier table must fail fast")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
