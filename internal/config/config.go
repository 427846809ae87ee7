package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sentriapp/shift-engine/pkg/core/engine"
	"github.com/sentriapp/shift-engine/pkg/core/scorer"
)

const configFileName = "shift_engine_config.yaml"

// ScoringConfig holds the candidate scoring weights. The three weight
// shares should sum to 1.0 but the engine does not enforce it; deployments
// that want a different total simply rescale every score.
type ScoringConfig struct {
	CertificationWeight    float64 `yaml:"certificationWeight" validate:"gte=0"`
	RatingWeight           float64 `yaml:"ratingWeight" validate:"gte=0"`
	VenueFamiliarityWeight float64 `yaml:"venueFamiliarityWeight" validate:"gte=0"`
	UtilizationWindowDays  int     `yaml:"utilizationWindowDays" validate:"min=1"`
}

// Config represents the application configuration
type Config struct {
	DatabaseURL string `yaml:"databaseURL" validate:"required"`

	OfferTTLSeconds        int     `yaml:"offerTTLSeconds" validate:"min=5,max=600"`
	EarlyCheckInWindowMins int     `yaml:"earlyCheckInWindowMins" validate:"min=0"`
	NoShowGraceMins        int     `yaml:"noShowGraceMins" validate:"min=0"`
	ReadTimeoutSeconds     int     `yaml:"readTimeoutSeconds" validate:"min=1"`
	RetryBackoffMillis     int     `yaml:"retryBackoffMillis" validate:"min=0"`
	DefaultGeofenceRadiusM float64 `yaml:"defaultGeofenceRadiusM" validate:"gt=0"`

	Scoring ScoringConfig `yaml:"scoring"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Default returns a Config populated with the documented policy defaults.
// DatabaseURL must still be supplied.
func Default() *Config {
	return &Config{
		OfferTTLSeconds:        45,
		EarlyCheckInWindowMins: 30,
		NoShowGraceMins:        15,
		ReadTimeoutSeconds:     3,
		RetryBackoffMillis:     250,
		DefaultGeofenceRadiusM: 100,
		Scoring: ScoringConfig{
			CertificationWeight:    scorer.DefaultWeightCertification,
			RatingWeight:           scorer.DefaultWeightRating,
			VenueFamiliarityWeight: scorer.DefaultWeightVenueFamiliarity,
			UtilizationWindowDays:  28,
		},
	}
}

// Load loads and validates the configuration from shift_engine_config.yaml.
// It looks for the config file in the current directory first, then in the
// user's home directory.
func Load() (*Config, error) {
	configPath, err := findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
// Fields absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration struct
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// OfferTTL returns the offer countdown window.
func (c *Config) OfferTTL() time.Duration {
	return time.Duration(c.OfferTTLSeconds) * time.Second
}

// ReadTimeout returns the per-call bound for collaborator reads.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// RetryBackoff returns the pause before retrying a timed-out read.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

// Policy converts the config's lifecycle settings to an engine.Policy.
func (c *Config) Policy() engine.Policy {
	return engine.Policy{
		EarlyCheckInWindow: time.Duration(c.EarlyCheckInWindowMins) * time.Minute,
		NoShowGrace:        time.Duration(c.NoShowGraceMins) * time.Minute,
	}
}

// Weights converts the config's scoring settings to scorer.Weights.
func (c *Config) Weights() scorer.Weights {
	return scorer.Weights{
		Certification:     c.Scoring.CertificationWeight,
		Rating:            c.Scoring.RatingWeight,
		VenueFamiliarity:  c.Scoring.VenueFamiliarityWeight,
		UtilizationWindow: time.Duration(c.Scoring.UtilizationWindowDays) * 24 * time.Hour,
	}
}

// findConfigFile looks for the config file in cwd, then the home directory
func findConfigFile() (string, error) {
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(home, configFileName)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", configFileName)
}
