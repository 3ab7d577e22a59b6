// Package config loads the moody command configuration from an optional file
// and MOODY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jacentio/moody/internal/logging"
	"github.com/jacentio/moody/model"
	"github.com/jacentio/moody/store"
)

// EnvPrefix prefixes environment variables, e.g. MOODY_DYNAMODB_ENDPOINT.
const EnvPrefix = "MOODY"

// Config is the command configuration.
type Config struct {
	DynamoDB DynamoDB `mapstructure:"dynamodb"`
	Log      Log      `mapstructure:"log"`

	// MaxConcurrent bounds in-flight store calls of bulk actions and scenario cycles.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// ForceScan disables index selection.
	ForceScan bool `mapstructure:"force_scan"`

	// Memory runs against the in-process store instead of DynamoDB.
	Memory bool `mapstructure:"memory"`
}

// DynamoDB configures the DynamoDB client and tables.
type DynamoDB struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// TablePrefix is prepended to model names to form table names.
	TablePrefix string `mapstructure:"table_prefix"`

	RateLimit  float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
	SoftDelete bool    `mapstructure:"soft_delete"`
	Timestamps bool    `mapstructure:"timestamps"`
}

// Log configures logging.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"dynamodb.region":       "us-east-1",
	"dynamodb.endpoint":     "",
	"dynamodb.table_prefix": "",
	"dynamodb.rate_limit":   0.0,
	"dynamodb.rate_burst":   0,
	"dynamodb.soft_delete":  false,
	"dynamodb.timestamps":   true,
	"log.level":             "info",
	"log.format":            logging.FormatConsole,
	"max_concurrent":        8,
	"force_scan":            false,
	"memory":                false,
}

// New returns a viper instance with defaults and environment binding.
// Command flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file (YAML or JSON) into v and decodes it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", file, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config: max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.DynamoDB.RateLimit < 0 {
		return fmt.Errorf("config: dynamodb.rate_limit must not be negative")
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("config: log.format must be %s or %s, got %q", logging.FormatJSON, logging.FormatConsole, c.Log.Format)
	}
	return nil
}

// Store returns the table configuration for a model keyed on idField.
func (c *Config) Store(idField string) store.Config {
	sc := store.DefaultConfig()
	sc.IDField = idField
	sc.SoftDelete = c.DynamoDB.SoftDelete
	sc.Timestamps = c.DynamoDB.Timestamps
	sc.RateLimit = c.DynamoDB.RateLimit
	sc.RateBurst = c.DynamoDB.RateBurst
	return sc
}

// Options returns the registry options.
func (c *Config) Options() model.Options {
	opts := model.DefaultOptions()
	opts.MaxConcurrent = c.MaxConcurrent
	opts.ForceScan = c.ForceScan
	return opts
}

// TableName returns the table backing a model.
func (c *Config) TableName(modelName string) string {
	return c.DynamoDB.TablePrefix + modelName
}
