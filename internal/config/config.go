// Package config loads process configuration from a YAML file and
// LINKSTORE_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/linkstore/internal/logging"
	"github.com/jacentio/linkstore/store"
)

// PathEnv names the variable holding the config file path.
const PathEnv = "LINKSTORE_CONFIG"

// Config is the process configuration shared by the commands.
type Config struct {
	// Environment selects the physical tables, {table}_{environment}.
	Environment string `yaml:"environment"`

	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"` // e.g. DynamoDB Local

	PageSize           int32  `yaml:"page_size"`
	ScanSegments       int    `yaml:"scan_segments"`
	CounterTableSuffix string `yaml:"counter_table_suffix"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sc := store.DefaultConfig()
	return Config{
		Environment:        "dev",
		PageSize:           sc.PageSize,
		ScanSegments:       sc.ScanSegments,
		CounterTableSuffix: sc.CounterTableSuffix,
		LogLevel:           "info",
		LogFormat:          logging.FormatJSON,
	}
}

// Load reads path (if not empty) over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if c, err = parse(c, b); err != nil {
			return Config{}, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Parse decodes YAML over the defaults.
func Parse(b []byte) (Config, error) {
	return parse(Default(), b)
}

func parse(c Config, b []byte) (Config, error) {
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LINKSTORE_ENV":        &c.Environment,
		"LINKSTORE_REGION":     &c.Region,
		"LINKSTORE_PROFILE":    &c.Profile,
		"LINKSTORE_ENDPOINT":   &c.Endpoint,
		"LINKSTORE_LOG_LEVEL":  &c.LogLevel,
		"LINKSTORE_LOG_FORMAT": &c.LogFormat,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("LINKSTORE_PAGE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: LINKSTORE_PAGE_SIZE: %w", err)
		}
		c.PageSize = int32(n)
	}
	if v, ok := lookup("LINKSTORE_SCAN_SEGMENTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LINKSTORE_SCAN_SEGMENTS: %w", err)
		}
		c.ScanSegments = n
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.Environment == "" {
		return errors.New("config: environment is required")
	}
	if c.PageSize < 0 || c.ScanSegments < 0 {
		return errors.New("config: page_size and scan_segments must not be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatText, logging.FormatPretty:
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Logging returns the logger options.
func (c Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat}
}

// Store returns the store settings. Out-of-range values are clamped by store.New.
func (c Config) Store() store.Config {
	return store.Config{
		PageSize:           c.PageSize,
		CounterTableSuffix: c.CounterTableSuffix,
		ScanSegments:       c.ScanSegments,
	}
}

// DynamoDB builds a client from the default AWS credential chain.
func (c Config) DynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}
