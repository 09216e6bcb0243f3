package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/logger"
	"github.com/wardenlabs/warden/internal/metrics"
	"github.com/wardenlabs/warden/internal/observability"
	"github.com/wardenlabs/warden/pkg/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the warden runtime in the foreground",
	Long: `Run the warden runtime in the foreground until interrupted.
Agents are spawned on demand by clients of the runtime; SIGINT or
SIGTERM drains in-flight tasks and shuts everything down.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	m := metrics.New()

	rt, err := runtime.New(cfg.Runtime, runtime.WithLogger(log), runtime.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		return err
	}

	var monitor *observability.Server
	if cfg.Monitor.Enabled {
		monitor = observability.NewServer(cfg.Monitor.Addr, m, rt.Statistics, log)
		monitor.Start()
	}

	log.Info().Str("version", version).Msg("Warden running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if monitor != nil {
		if err := monitor.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Monitoring server shutdown failed")
		}
	}
	if err := rt.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
