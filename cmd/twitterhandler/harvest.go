package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SoCaTel/data-handlers/internal/runner"
	"github.com/SoCaTel/data-handlers/pkg/auth"
	"github.com/SoCaTel/data-handlers/pkg/config"
	"github.com/SoCaTel/data-handlers/pkg/elastic"
	"github.com/SoCaTel/data-handlers/pkg/harvester"
	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/pipeline"
	"github.com/SoCaTel/data-handlers/pkg/queue"
)

var (
	// Harvest command flags
	accountLabel string
	workers      int
)

// feedCmd harvests the subjects' own timeline tweets
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Harvest the subjects' own tweets",
	Long: `Drain the Redis work queue and harvest each subject's timeline.

For every subject, the handler looks up the newest timeline tweet
already indexed and fetches only what the API holds beyond it. Fetched
tweets are written to Elasticsearch keyed by their id, so a rerun
never duplicates documents.`,
	Example: `  # Harvest with settings from .twitterhandler.yaml and TWH_* env vars
  twitterhandler feed

  # Use stored credentials and four concurrent subjects
  twitterhandler feed --account socatel --workers 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHarvest(cmd, harvester.FlowTimeline)
	},
}

// repliesCmd harvests tweets directed at the subjects
var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "Harvest tweets directed at the subjects",
	Long: `Drain the Redis work queue and harvest the replies sent to each
subject.

A subject must already have at least one of its own tweets indexed;
the reply lookup needs the subject's numeric user id, which is read
from an indexed tweet rather than spent on an extra API call. Subjects
without one are skipped with a warning.`,
	Example: `  # Harvest replies for every queued subject
  twitterhandler replies`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHarvest(cmd, harvester.FlowReplies)
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(repliesCmd)

	for _, cmd := range []*cobra.Command{feedCmd, repliesCmd} {
		cmd.Flags().StringVarP(&accountLabel, "account", "a", "", "use a specific stored credential set")
		cmd.Flags().IntVar(&workers, "workers", 0, "number of subjects processed concurrently")
	}
}

// runHarvest wires configuration, stores and the engine, then drains the queue
func runHarvest(cmd *cobra.Command, kind harvester.FlowKind) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if workers > 0 {
		cfg.Harvest.Workers = workers
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("twitter handler starting")

	if err := applyStoredCredentials(cfg, log); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := elastic.NewStore(elastic.Config{
		Endpoint:   cfg.Elastic.Endpoint,
		Index:      cfg.Elastic.Index,
		Username:   cfg.Elastic.Username,
		Password:   cfg.Elastic.Password,
		MaxRetries: cfg.Harvest.MaxStoreRetries,
	}, log)
	if err != nil {
		return err
	}

	q := queue.New(queue.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		List:     cfg.Redis.ServicesList,
	}, log)
	defer q.Close()

	var forwarder harvester.BatchForwarder
	if cfg.Pipeline.Enabled {
		forwarder = pipeline.NewForwarder(cfg.Pipeline.Endpoint, cfg.Pipeline.PipelineID, cfg.Pipeline.RequestTimeout.Std(), log)
		log.WithField("pipeline", cfg.Pipeline.PipelineID).Info("enrichment forwarding enabled")
	}

	h := harvester.New(cfg, store, forwarder, log)

	r := runner.New(q, func(ctx context.Context, subject *models.Subject) error {
		_, err := h.HarvestSubject(ctx, kind, subject)
		return err
	}, cfg.Harvest.Workers, cfg.Harvest.SubjectTimeout.Std(), cfg.Harvest.RunTimeout.Std(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("harvest run failed: %w", err)
	}

	log.WithField("flow", string(kind)).Info("harvest run completed")
	return nil
}

// applyStoredCredentials fills missing API credentials from the credential
// manager. Config and environment values win when present.
func applyStoredCredentials(cfg *config.Config, log logger.Logger) error {
	if accountLabel == "" && cfg.Twitter.ConsumerKey != "" && cfg.Twitter.ConsumerSecret != "" {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var account *auth.Account
	if accountLabel != "" {
		account, err = manager.Retrieve(accountLabel)
		if err != nil {
			return fmt.Errorf("stored credentials not found for %q, run 'twitterhandler auth login %s' first", accountLabel, accountLabel)
		}
	} else {
		account, err = manager.RetrieveDefault()
		if err != nil {
			return fmt.Errorf("no Twitter API credentials found: set TWH_CONSUMER_KEY and TWH_CONSUMER_SECRET or run 'twitterhandler auth login'")
		}
	}

	cfg.Twitter.ConsumerKey = account.ConsumerKey
	cfg.Twitter.ConsumerSecret = account.ConsumerSecret
	cfg.Twitter.AccessToken = account.AccessToken
	cfg.Twitter.AccessSecret = account.AccessSecret

	log.WithField("account", account.Label).Info("using stored credentials")
	return nil
}
