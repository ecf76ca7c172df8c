package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitas/explainer-adapters/config"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, `
python: /opt/py/bin/python
loader: joblib
log:
  level: debug
platform:
  base_url: https://ml.example.com
  project: churn
`)
	cfg, err := config.Load(p, envMap(map[string]string{
		"EXPLAINER_PLATFORM_TOKEN": "s3cret",
		"EXPLAINER_PYTHON":         "/usr/bin/python3.12",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/python3.12", cfg.Python)
	assert.Equal(t, "joblib", cfg.Loader)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "s3cret", cfg.Platform.Token)

	assert.Equal(t, map[string]string{
		"base_url": "https://ml.example.com",
		"token":    "s3cret",
		"project":  "churn",
	}, cfg.PlatformConfig())
	assert.Equal(t, map[string]string{
		"python": "/usr/bin/python3.12",
		"conda":  "conda",
		"loader": "joblib",
	}, cfg.SklearnConfig())
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	_, err := config.Load(writeConfig(t, "loader: dill\n"), envMap(nil))
	assert.ErrorContains(t, err, "Config.Loader")

	_, err = config.Load("", envMap(map[string]string{"EXPLAINER_LOG_LEVEL": "loud"}))
	assert.ErrorContains(t, err, "Config.Log.Level")

	_, err = config.Load(writeConfig(t, "platform: [1, 2]\n"), envMap(nil))
	assert.ErrorContains(t, err, "parse")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
