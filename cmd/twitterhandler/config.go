package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SoCaTel/data-handlers/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage Twitter handler configuration files.

Configuration is resolved in order:
  - Environment variables (TWH_*, highest priority)
  - Configuration file
  - Default values`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as '.twitterhandler.yaml' in the current directory
unless a different path is given with the --config flag.`,
	RunE: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after merging the file, environment
variables and defaults. Credential values are masked.`,
	RunE: runConfigShow,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the effective configuration and report every invalid or missing
value at once.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".twitterhandler.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	exampleConfig := `# Twitter handler configuration file
#
# Every value can also be set through environment variables prefixed
# with TWH_, for example TWH_CONSUMER_KEY or TWH_ELASTIC_ENDPOINT.
# Environment variables take priority over this file.

# Twitter application credentials. Leave empty to use credentials
# stored with 'twitterhandler auth login' or TWH_* variables.
twitter:
  consumer_key: ""
  consumer_secret: ""
  access_token: ""
  access_secret: ""

  # HTTP timeout for each API request
  request_timeout: 30s

  # Tweets fetched per request, capped at 200 by the API
  page_size: 200

# Elasticsearch knowledge base
elastic:
  endpoint: "http://localhost:9200"
  index: "kb_twitter_raw"
  username: ""
  password: ""

# Redis work queue holding the subjects to harvest
redis:
  host: "localhost"
  port: 6379
  password: ""
  db: 0
  services_list: "twitter_feed_services"

# Rate-limit backoff
quota:
  # Cap on the cumulative wait per subject; 0 means wait forever
  max_wait: 1h

# Harvest run settings
harvest:
  # Subjects processed concurrently. Subjects sharing a credential
  # set serialize regardless.
  workers: 1

  # Wall-clock bound for one subject's scan; 0 disables it
  subject_timeout: 0s

  # Wall-clock bound for the whole queue drain; 0 disables it
  run_timeout: 0s

  # Retries for transient Elasticsearch write failures
  max_store_retries: 3

# LinkedPipes enrichment pipeline
pipeline:
  enabled: false
  endpoint: ""
  pipeline_id: ""
  request_timeout: 2m

# Logging
logging:
  # debug, info, warn or error
  level: "info"
`

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	fmt.Println("Configuration file created:", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the file and point it at your Redis and Elasticsearch instances")
	fmt.Println("2. Store API credentials with 'twitterhandler auth login'")
	fmt.Println("3. Check the result with 'twitterhandler config validate'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	displayCfg := *cfg
	displayCfg.Twitter.ConsumerKey = maskValue(displayCfg.Twitter.ConsumerKey)
	displayCfg.Twitter.ConsumerSecret = maskValue(displayCfg.Twitter.ConsumerSecret)
	displayCfg.Twitter.AccessToken = maskValue(displayCfg.Twitter.AccessToken)
	displayCfg.Twitter.AccessSecret = maskValue(displayCfg.Twitter.AccessSecret)
	displayCfg.Elastic.Password = maskValue(displayCfg.Elastic.Password)
	displayCfg.Redis.Password = maskValue(displayCfg.Redis.Password)

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	fmt.Println("Effective configuration:")
	fmt.Println()
	fmt.Print(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid:\n%w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Println("\nSummary:")
	fmt.Printf("  Elasticsearch: %s (index %s)\n", cfg.Elastic.Endpoint, cfg.Elastic.Index)
	fmt.Printf("  Redis queue: %s:%d (%s)\n", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.ServicesList)
	fmt.Printf("  Workers: %d\n", cfg.Harvest.Workers)
	fmt.Printf("  Pipeline enabled: %v\n", cfg.Pipeline.Enabled)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// maskValue masks all but the first 4 and last 4 characters of a value
func maskValue(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
