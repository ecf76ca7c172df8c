// Package config loads CLI settings from an optional YAML file overlaid by
// EXPLAINER_* environment variables.
//
// Adapters never read the process environment; the CLI turns a Config into
// explicit per-call config maps.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXPLAINER_"

// Colorize modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config is the CLI configuration.
type Config struct {
	Python string `yaml:"python"`
	Conda  string `yaml:"conda"`
	Loader string `yaml:"loader" validate:"omitempty,oneof=pickle joblib"`
	Color  string `yaml:"color" validate:"omitempty,oneof=auto always never"`

	Log      Log      `yaml:"log"`
	Platform Platform `yaml:"platform"`
	Storage  Storage  `yaml:"storage"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Platform configures the hosted ML platform adapter.
type Platform struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Token   string `yaml:"token"`
	Project string `yaml:"project"`
}

// Storage configures cloud model sources.
type Storage struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Python: "python3",
		Conda:  "conda",
		Loader: "pickle",
		Color:  ColorAuto,
		Log:    Log{Level: "info", Format: "console"},
	}
}

var validate = validator.New()

// Load reads path (skipped when empty), applies environment overrides from
// getenv and validates the result.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	applyEnv(&cfg, getenv)

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %q is not a valid value (%s)", fe.Namespace(), fe.Value(), fe.Tag()))
			}
			return Config{}, fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"python", &cfg.Python},
		{"conda", &cfg.Conda},
		{"loader", &cfg.Loader},
		{"color", &cfg.Color},
		{"log_level", &cfg.Log.Level},
		{"log_format", &cfg.Log.Format},
		{"platform_base_url", &cfg.Platform.BaseURL},
		{"platform_token", &cfg.Platform.Token},
		{"platform_project", &cfg.Platform.Project},
		{"storage_credentials_file", &cfg.Storage.CredentialsFile},
	}
	for _, o := range overrides {
		if v := getenv(EnvPrefix + strings.ToUpper(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// SklearnConfig returns the scikitlearn adapter config map.
func (c Config) SklearnConfig() map[string]string {
	return compact(map[string]string{
		"python":           c.Python,
		"conda":            c.Conda,
		"loader":           c.Loader,
		"credentials_file": c.Storage.CredentialsFile,
	})
}

// PlatformConfig returns the platform adapter config map.
func (c Config) PlatformConfig() map[string]string {
	return compact(map[string]string{
		"base_url": c.Platform.BaseURL,
		"token":    c.Platform.Token,
		"project":  c.Platform.Project,
	})
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
