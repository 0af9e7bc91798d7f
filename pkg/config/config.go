package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML encodes as a string like "30s"
// or "15m". Plain time.Duration fields reject those values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a standard time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration options for the Twitter handler
type Config struct {
	// Twitter API credentials and request settings
	Twitter TwitterConfig `yaml:"twitter" json:"twitter"`

	// Elasticsearch knowledge-base settings
	Elastic ElasticConfig `yaml:"elastic" json:"elastic"`

	// Redis work-queue settings
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Quota backoff settings
	Quota QuotaConfig `yaml:"quota" json:"quota"`

	// Harvest run settings
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// LinkedPipes enrichment pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TwitterConfig holds the default API credential set and request settings
type TwitterConfig struct {
	ConsumerKey    string   `yaml:"consumer_key" json:"consumer_key"`
	ConsumerSecret string   `yaml:"consumer_secret" json:"consumer_secret"`
	AccessToken    string   `yaml:"access_token" json:"access_token"`
	AccessSecret   string   `yaml:"access_secret" json:"access_secret"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
	// PageSize is the per-request item count (the API caps it at 200)
	PageSize int `yaml:"page_size" json:"page_size"`
}

// ElasticConfig holds the indexed-store connection settings
type ElasticConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Index    string `yaml:"index" json:"index"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RedisConfig holds the work-queue connection settings
type RedisConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	ServicesList string `yaml:"services_list" json:"services_list"`
}

// QuotaConfig holds rate-limit backoff settings
type QuotaConfig struct {
	// MaxWait caps the cumulative quota wait per subject; 0 means unlimited
	MaxWait Duration `yaml:"max_wait" json:"max_wait"`
}

// HarvestConfig holds run-level settings
type HarvestConfig struct {
	// Workers is the number of subjects processed concurrently.
	// Subjects sharing a credential set serialize regardless.
	Workers int `yaml:"workers" json:"workers"`
	// SubjectTimeout bounds one subject's scan; 0 disables the bound
	SubjectTimeout Duration `yaml:"subject_timeout" json:"subject_timeout"`
	// RunTimeout bounds the whole queue drain; 0 disables the bound
	RunTimeout Duration `yaml:"run_timeout" json:"run_timeout"`
	// MaxStoreRetries is the retry cap for transient store write failures
	MaxStoreRetries int `yaml:"max_store_retries" json:"max_store_retries"`
}

// PipelineConfig holds the enrichment forwarder settings
type PipelineConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Endpoint       string   `yaml:"endpoint" json:"endpoint"`
	PipelineID     string   `yaml:"pipeline_id" json:"pipeline_id"`
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Twitter: TwitterConfig{
			RequestTimeout: Duration(30 * time.Second),
			PageSize:       200,
		},
		Elastic: ElasticConfig{
			Index: "kb_twitter_raw",
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			ServicesList: "twitter_feed_services",
		},
		Quota: QuotaConfig{
			MaxWait: Duration(time.Hour),
		},
		Harvest: HarvestConfig{
			Workers:         1,
			SubjectTimeout:  0,
			RunTimeout:      0,
			MaxStoreRetries: 3,
		},
		Pipeline: PipelineConfig{
			Enabled:        false,
			RequestTimeout: Duration(2 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// .env files are optional; missing files are not an error
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".twitterhandler.env"))

	if v := os.Getenv("TWH_CONSUMER_KEY"); v != "" {
		c.Twitter.ConsumerKey = v
	}
	if v := os.Getenv("TWH_CONSUMER_SECRET"); v != "" {
		c.Twitter.ConsumerSecret = v
	}
	if v := os.Getenv("TWH_ACCESS_TOKEN"); v != "" {
		c.Twitter.AccessToken = v
	}
	if v := os.Getenv("TWH_ACCESS_SECRET"); v != "" {
		c.Twitter.AccessSecret = v
	}
	if v := os.Getenv("TWH_PAGE_SIZE"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val > 0 {
			c.Twitter.PageSize = val
		}
	}

	if v := os.Getenv("TWH_ELASTIC_ENDPOINT"); v != "" {
		c.Elastic.Endpoint = v
	}
	if v := os.Getenv("TWH_ELASTIC_INDEX"); v != "" {
		c.Elastic.Index = v
	}
	if v := os.Getenv("TWH_ELASTIC_USERNAME"); v != "" {
		c.Elastic.Username = v
	}
	if v := os.Getenv("TWH_ELASTIC_PASSWORD"); v != "" {
		c.Elastic.Password = v
	}

	if v := os.Getenv("TWH_REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("TWH_REDIS_PORT"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val > 0 {
			c.Redis.Port = val
		}
	}
	if v := os.Getenv("TWH_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TWH_REDIS_SERVICES_LIST"); v != "" {
		c.Redis.ServicesList = v
	}

	if v := os.Getenv("TWH_QUOTA_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Quota.MaxWait = Duration(d)
		}
	}
	if v := os.Getenv("TWH_WORKERS"); v != "" {
		var val int
		fmt.Sscanf(v, "%d", &val)
		if val > 0 {
			c.Harvest.Workers = val
		}
	}

	if v := os.Getenv("TWH_PIPELINE_ENABLED"); v != "" {
		c.Pipeline.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("TWH_PIPELINE_ENDPOINT"); v != "" {
		c.Pipeline.Endpoint = v
	}
	if v := os.Getenv("TWH_PIPELINE_ID"); v != "" {
		c.Pipeline.PipelineID = v
	}

	if v := os.Getenv("TWH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".twitterhandler.yaml",
		".twitterhandler.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "twitterhandler", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "twitterhandler", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".twitterhandler.yaml"),
		filepath.Join(os.Getenv("HOME"), ".twitterhandler.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Load builds the effective configuration: defaults, then file, then env
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Twitter.ConsumerKey == "" {
		errs = append(errs, errors.New("twitter consumer key is required"))
	}
	if c.Twitter.ConsumerSecret == "" {
		errs = append(errs, errors.New("twitter consumer secret is required"))
	}
	if c.Twitter.AccessToken == "" {
		errs = append(errs, errors.New("twitter access token is required"))
	}
	if c.Twitter.AccessSecret == "" {
		errs = append(errs, errors.New("twitter access secret is required"))
	}
	if c.Twitter.PageSize <= 0 || c.Twitter.PageSize > 200 {
		errs = append(errs, errors.New("page size must be between 1 and 200"))
	}
	if c.Twitter.RequestTimeout <= 0 {
		errs = append(errs, errors.New("twitter request timeout must be positive"))
	}

	if c.Elastic.Endpoint == "" {
		errs = append(errs, errors.New("elasticsearch endpoint is required"))
	}
	if c.Elastic.Index == "" {
		errs = append(errs, errors.New("elasticsearch index is required"))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("redis host is required"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, errors.New("redis port must be positive"))
	}
	if c.Redis.ServicesList == "" {
		errs = append(errs, errors.New("redis services list is required"))
	}

	if c.Harvest.Workers <= 0 {
		errs = append(errs, errors.New("harvest workers must be positive"))
	}
	if c.Harvest.MaxStoreRetries < 0 {
		errs = append(errs, errors.New("max store retries cannot be negative"))
	}

	if c.Pipeline.Enabled {
		if c.Pipeline.Endpoint == "" {
			errs = append(errs, errors.New("pipeline endpoint is required when the pipeline is enabled"))
		}
		if c.Pipeline.PipelineID == "" {
			errs = append(errs, errors.New("pipeline id is required when the pipeline is enabled"))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
