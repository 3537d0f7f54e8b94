package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/config"
)

var metricsAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governance pipeline",
	Long:  `Load the configuration, wire the pipeline, and run until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer logger.Sync()

		p, err := buildPipeline(cfg, logger)
		if err != nil {
			return err
		}
		defer p.store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Warn("metrics server stopped", zap.Error(err))
				}
			}()
			defer srv.Close()
			logger.Info("metrics listening", zap.String("addr", metricsAddr))
		}

		go p.scheduler.Run(ctx)
		if err := p.governor.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		p.governor.Stop()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	rootCmd.AddCommand(runCmd)
}
