package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zaphod7777/Phishfindr/internal/auth"
	"github.com/zaphod7777/Phishfindr/internal/collector"
	"github.com/zaphod7777/Phishfindr/internal/feed"
	"github.com/zaphod7777/Phishfindr/internal/logging"
	"github.com/zaphod7777/Phishfindr/internal/metrics"
	"github.com/zaphod7777/Phishfindr/internal/pipeline"
	"github.com/zaphod7777/Phishfindr/internal/sink"
)

var (
	sinkKind string
	once     bool
	batch    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect audit events and deliver them to a sink",
	Long: `Starts the poll loop against the audit feed. With --once a single
poll cycle runs and the process exits; otherwise the loop runs until
interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&sinkKind, "sink", "file", "delivery target: file, search or relational")
	runCmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	runCmd.Flags().BoolVar(&batch, "batch", false, "deliver each poll cycle as one batch when the sink supports it")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With("service", "phishfindr")
	logging.SetDefault(log)

	if err := cfg.ValidateFeed(); err != nil {
		return fmt.Errorf("invalid feed configuration: %w", err)
	}
	if err := cfg.ValidateSink(sinkKind); err != nil {
		return fmt.Errorf("invalid sink configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				log.Error("metrics listener failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		log.Info("metrics listener enabled", "addr", cfg.Metrics.Addr)
	}

	tokens := auth.NewClientCredentials(
		cfg.Feed.TokenURL(),
		cfg.Feed.ClientID,
		cfg.Feed.ClientSecret,
		cfg.Feed.Scope,
	)
	feedClient := feed.New(cfg.Feed.BaseURL(), tokens, cfg.Feed.Timeout, log)

	target, err := sink.Open(ctx, sinkKind, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}

	c := collector.New(feedClient, tokens, cfg.Feed.ContentTypes, cfg.Feed.Interval, log)
	p := pipeline.New(c, target, batch, cfg.Feed.Interval, log)

	log.Info("collector configured",
		"tenant", cfg.Feed.TenantID,
		"content_types", cfg.Feed.ContentTypes,
		"interval", cfg.Feed.Interval,
		"sink", sinkKind,
	)

	if once {
		return p.RunOnce(ctx)
	}
	return p.Run(ctx)
}
