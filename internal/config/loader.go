package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ProjectConfigDir is the workspace-local state/config directory.
const ProjectConfigDir = ".workflow"

// ProjectConfigFile is the project-local config file name.
const ProjectConfigFile = "config.json"

// EnvPrefix is the prefix for environment-variable overrides.
const EnvPrefix = "LOOPFORGE"

// ErrValidation wraps the first out-of-range field detected after load.
type ErrValidation struct {
	Field string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("config validation: %s", e.Field)
}

// LoadConfig loads configuration from files, environment, and any flags
// already bound to v. Precedence (later overrides earlier):
//  1. Default() values
//  2. <project>/.workflow/config.json
//  3. Explicit --config path, if set
//  4. LOOPFORGE_* environment variables
//  5. CLI flags (already bound to v)
//
// A missing project config file is silently ignored; a missing explicit
// --config path is an error.
func LoadConfig(v *viper.Viper, projectDir string) (*Config, error) {
	cfg := Default()

	defaultMap, err := structToMap(cfg)
	if err != nil {
		return nil, err
	}
	if err := v.MergeConfigMap(defaultMap); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	projectPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFile)
	if _, err := os.Stat(projectPath); err == nil {
		if err := loadConfigFile(v, projectPath); err != nil {
			return nil, err
		}
	}

	if explicitPath := v.GetString("config"); explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, err
		}
		if err := loadConfigFile(v, explicitPath); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg, viperDecodeHook()); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadConfigFile reads a JSON config file and merges it into v.
func loadConfigFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	fileViper := viper.New()
	fileViper.SetConfigType("json")
	if err := fileViper.ReadConfig(file); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}

	return v.MergeConfigMap(fileViper.AllSettings())
}

// validate returns the first detected out-of-range field, wrapped in
// ErrValidation, or nil if the config is sound.
func validate(cfg *Config) error {
	switch {
	case cfg.Limits.MaxIterations <= 0:
		return &ErrValidation{Field: "limits.max_iterations"}
	case cfg.Limits.IterationTimeout <= 0:
		return &ErrValidation{Field: "limits.iteration_timeout"}
	case cfg.Limits.PerIterationCostCap <= 0:
		return &ErrValidation{Field: "limits.per_iteration_cost_cap"}
	case cfg.Limits.TotalCostCap <= 0:
		return &ErrValidation{Field: "limits.total_cost_cap"}
	case cfg.Stagnation.Window <= 0:
		return &ErrValidation{Field: "stagnation.window"}
	case cfg.Retry.MaxAttempts <= 0:
		return &ErrValidation{Field: "retry.max_attempts"}
	case cfg.Retry.BaseDelay <= 0:
		return &ErrValidation{Field: "retry.base_delay"}
	case len(cfg.Completion.Markers) == 0:
		return &ErrValidation{Field: "completion.markers"}
	}
	return nil
}

// viperDecodeHook returns the decoder config with the duration hook
// needed because JSON has no native duration type.
func viperDecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// structToMap converts a struct to a map for viper.MergeConfigMap.
func structToMap(cfg *Config) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  &result,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationToStringHook(),
		),
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	return result, nil
}

// durationToStringHook converts time.Duration to string for JSON
// round-tripping through viper's map representation.
func durationToStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return data.(time.Duration).String(), nil
	}
}
