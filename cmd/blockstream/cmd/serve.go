package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/onflow/flow-blockstream/config"
	"github.com/onflow/flow-blockstream/engine/execution/streaming"
	"github.com/onflow/flow-blockstream/module/blockstream/writer"
	"github.com/onflow/flow-blockstream/module/metrics"
)

var (
	flagListenAddr  string
	flagMetricsAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagListenAddr, "listen", "0.0.0.0:9540", "address the block stream service listens on")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address prometheus metrics are served on, empty disables them")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a block node receiving block streams and persisting them with the configured writer",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if cfg.WriterKind == config.WriterGRPC {
			log.Fatal().Msg("a block node cannot forward to another block node, choose a local writer")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		registry := prometheus.NewRegistry()
		collector := metrics.NewBlockStreamCollector(registry)

		writers, closeWriters, err := streaming.NewWriterFactory(ctx, log.Logger, collector, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create writer factory")
		}
		defer func() {
			if err := closeWriters(); err != nil {
				log.Error().Err(err).Msg("could not close writer factory")
			}
		}()

		listener, err := net.Listen("tcp", flagListenAddr)
		if err != nil {
			log.Fatal().Err(err).Str("address", flagListenAddr).Msg("could not listen")
		}
		server := grpc.NewServer()
		writer.NewBlockStreamServer(log.Logger, writers).Register(server)

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info().
				Str("address", listener.Addr().String()).
				Str("writer", cfg.WriterKind).
				Msg("block stream service started")
			return server.Serve(listener)
		})

		var metricsServer *http.Server
		if flagMetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			metricsServer = &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				err := metricsServer.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
		}

		g.Go(func() error {
			<-gCtx.Done()
			log.Info().Msg("shutting down block stream service")
			server.GracefulStop()
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			log.Fatal().Err(err).Msg("block stream service failed")
		}
	},
}
