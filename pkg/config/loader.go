package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the complete, validated runtime configuration.
type Config struct {
	Settings  *Settings
	Scenarios *ScenarioRegistry
}

// scenariosYAML represents the scenarios.yaml file structure.
type scenariosYAML struct {
	Scenarios  map[string]*ScenarioConfig `yaml:"scenarios"`
	ModelNames map[string]string          `yaml:"model_names"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read settings from the environment
//  2. Load scenarios.yaml from configDir (optional)
//  3. Merge user-defined scenarios over built-ins
//  4. Build the scenario registry
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Environment settings
	settings := LoadSettings()

	// 2. Optional scenarios.yaml
	userCfg, err := loadScenariosYAML(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios.yaml: %w", err)
	}

	// 3. Merge user-defined over built-in
	scenarios := builtinScenarios()
	modelNames := builtinModelNames()
	if userCfg != nil {
		for name, sc := range userCfg.Scenarios {
			base, ok := scenarios[name]
			if !ok {
				scenarios[name] = sc
				continue
			}
			if err := mergo.Merge(base, sc, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge scenario %q: %w", name, err)
			}
		}
		if err := mergo.Merge(&modelNames, userCfg.ModelNames, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge model names: %w", err)
		}
	}

	// 4. Build registry
	registry := NewScenarioRegistry(scenarios, modelNames)

	cfg := &Config{
		Settings:  settings,
		Scenarios: registry,
	}

	// 5. Validate
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"mode", settings.Mode,
		"scenarios", len(scenarios),
		"llm_model", settings.LLM.Model)

	return cfg, nil
}

// loadScenariosYAML reads configDir/scenarios.yaml. A missing file is not an
// error; built-ins are complete on their own.
func loadScenariosYAML(configDir string) (*scenariosYAML, error) {
	path := filepath.Join(configDir, "scenarios.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg scenariosYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	s := cfg.Settings
	if s.Mode != ModeProduction && s.Mode != ModeLocal {
		return fmt.Errorf("invalid DEPLOYMENT_MODE %q: must be %q or %q", s.Mode, ModeProduction, ModeLocal)
	}
	if s.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL must not be empty")
	}
	if s.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if s.LLMCostFactor < 0 || s.RSHubTaskCostFactor < 0 {
		return fmt.Errorf("cost factors must be non-negative")
	}

	seenFlags := make(map[int]string)
	for name, sc := range cfg.Scenarios.scenarios {
		if len(sc.Models) == 0 {
			return fmt.Errorf("scenario %q has no models", name)
		}
		if sc.DefaultFrequencyGHz <= 0 {
			return fmt.Errorf("scenario %q has non-positive default frequency", name)
		}
		if prev, dup := seenFlags[sc.Flag]; dup {
			return fmt.Errorf("scenario %q reuses flag %d of %q", name, sc.Flag, prev)
		}
		seenFlags[sc.Flag] = name
	}
	return nil
}
