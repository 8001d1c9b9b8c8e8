package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_BuiltinDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Settings.Mode)
	assert.Equal(t, 120*time.Second, cfg.Settings.LLM.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Settings.CreditTimeout)
	assert.Equal(t, 10*time.Second, cfg.Settings.PollInterval)

	snow, ok := cfg.Scenarios.ByName("snow")
	require.True(t, ok)
	assert.Equal(t, 0, snow.Flag)
	assert.Equal(t, []string{"qms", "bic"}, snow.Models)
	assert.Equal(t, 17.2, snow.DefaultFrequencyGHz)

	soil, ok := cfg.Scenarios.ByFlag(1)
	require.True(t, ok)
	assert.Equal(t, "soil", soil.Name)
	assert.Equal(t, "aiem", soil.DefaultModel())

	assert.Equal(t, "DMRT-QMS", cfg.Scenarios.ModelDisplayName("qms"))
	assert.Equal(t, "unknown", cfg.Scenarios.ModelDisplayName("unknown"))
}

func TestInitialize_EnvOverrides(t *testing.T) {
	t.Setenv("DEPLOYMENT_MODE", "production")
	t.Setenv("LLM_TIMEOUT", "90")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("RSHUB_POLL_TIMEOUT", "45s")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Settings.Production())
	assert.Equal(t, 90*time.Second, cfg.Settings.LLM.Timeout)
	assert.Equal(t, 0.2, cfg.Settings.LLM.Temperature)
	assert.Equal(t, 45*time.Second, cfg.Settings.PollTimeout)
}

func TestInitialize_InvalidMode(t *testing.T) {
	t.Setenv("DEPLOYMENT_MODE", "staging")

	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEPLOYMENT_MODE")
}

func TestInitialize_ScenariosYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := `
scenarios:
  snow:
    default_frequency_ghz: 13.5
  ice:
    flag: 3
    name: ice
    display_name: 海冰
    models: [mems]
    default_frequency_ghz: 10.5
model_names:
  mems: MEMLS
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenarios.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	t.Run("override merges over builtin", func(t *testing.T) {
		snow, ok := cfg.Scenarios.ByName("snow")
		require.True(t, ok)
		assert.Equal(t, 13.5, snow.DefaultFrequencyGHz)
		// Untouched fields survive the merge.
		assert.Equal(t, []string{"qms", "bic"}, snow.Models)
	})

	t.Run("new scenario is registered", func(t *testing.T) {
		ice, ok := cfg.Scenarios.ByFlag(3)
		require.True(t, ok)
		assert.Equal(t, "ice", ice.Name)
		assert.Equal(t, "MEMLS", cfg.Scenarios.ModelDisplayName("mems"))
	})
}

func TestInitialize_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenarios.yaml"), []byte("scenarios: ["), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestScenarioRegistry_ParamKeys(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	keys := cfg.Scenarios.ParamKeys()
	for _, k := range []string{"fGHz", "sm", "theta_i_deg", "ks", "kl", "depth", "scatters", "angle"} {
		assert.True(t, keys[k], "missing param key %s", k)
	}
}
