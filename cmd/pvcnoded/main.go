// Command pvcnoded is the PVC node daemon: one instance runs on every
// hypervisor in the cluster, symmetric in capability, coordinating
// through ZooKeeper rather than through a leader RPC protocol.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parallelvirtualcluster/pvc/pkg/config"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/metrics"
	"github.com/parallelvirtualcluster/pvc/pkg/node"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:     "pvcnoded",
	Short:   "PVC node daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pvcnoded version %s (%s)\n", Version, Commit))
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to node configuration file (defaults to $PVC_CONFIG_FILE)")
}

func run(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		var err error
		path, err = config.Path()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logLevel := log.InfoLevel
	if cfg.Logging.DebugLogging {
		logLevel = log.DebugLevel
	}
	log.Init(log.Config{Level: logLevel, JSONOutput: !cfg.Logging.LogColours})

	logger := log.WithNode(cfg.NodeHostname)
	logger.Info().Str("config", path).Msg("starting pvcnoded")

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing node daemon: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Subsystem.EnablePrometheus && cfg.API.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.API.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- n.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-runErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("node daemon exited unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := n.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete cleanly")
	}

	if metricsSrv != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		metricsSrv.Shutdown(stopCtx)
	}

	logger.Info().Msg("pvcnoded stopped")
	return nil
}
