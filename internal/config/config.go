// Package config resolves the thresholds consumed by the cleaning and
// detection pipeline. Values come from built-in defaults, an optional YAML
// file, WHEELSLIP_* environment variables and CLI flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of environment overrides, e.g. WHEELSLIP_SLIP_THRESHOLD
const EnvPrefix = "WHEELSLIP"

// ErrInvalid wraps every configuration validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds pipeline parameters. It is passed by value into each stage.
type Config struct {
	ZThreshold        float64 `yaml:"z_threshold" envconfig:"Z_THRESHOLD" validate:"gte=0"`
	WindowSize        int     `yaml:"window_size" envconfig:"WINDOW_SIZE" validate:"gte=1"`
	DiffThreshold     float64 `yaml:"diff_threshold" envconfig:"DIFF_THRESHOLD" validate:"gt=0"`
	SlipThreshold     float64 `yaml:"slip_threshold" envconfig:"SLIP_THRESHOLD" validate:"gt=0"`
	TimeBinSize       float64 `yaml:"time_bin_size" envconfig:"TIME_BIN_SIZE" validate:"gt=0"`
	MaxTimeDifference float64 `yaml:"max_time_difference" envconfig:"MAX_TIME_DIFFERENCE" validate:"gt=0"`
	MinRPM            float64 `yaml:"min_rpm" envconfig:"MIN_RPM"`
	MaxRPM            float64 `yaml:"max_rpm" envconfig:"MAX_RPM" validate:"gtfield=MinRPM"`
}

// Default returns the thresholds used when nothing else is configured
func Default() Config {
	return Config{
		ZThreshold:        2.5, // ~99% of a normal distribution
		WindowSize:        25,
		DiffThreshold:     100,
		SlipThreshold:     200,
		TimeBinSize:       0.1,
		MaxTimeDifference: 0.05,
		MinRPM:            0,
		MaxRPM:            3000,
	}
}

// Load resolves a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Fields without a matching variable are left untouched.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate reports every field that breaks its constraint, wrapped in ErrInvalid
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	name := yamlName(fe.StructField())
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be > %s (got %v)", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s (got %v)", name, fe.Param(), fe.Value())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s (got %v)", name, yamlName(fe.Param()), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}

var yamlNames = map[string]string{
	"ZThreshold":        "z_threshold",
	"WindowSize":        "window_size",
	"DiffThreshold":     "diff_threshold",
	"SlipThreshold":     "slip_threshold",
	"TimeBinSize":       "time_bin_size",
	"MaxTimeDifference": "max_time_difference",
	"MinRPM":            "min_rpm",
	"MaxRPM":            "max_rpm",
}

func yamlName(field string) string {
	if n, ok := yamlNames[field]; ok {
		return n
	}
	return field
}

// FilterEnabled reports whether the z-score stage does anything
func (c Config) FilterEnabled() bool {
	return c.ZThreshold > 0
}

// YAML renders the config as stored alongside a run
func (c Config) YAML() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return string(out)
}
