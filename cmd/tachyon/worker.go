package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/paveg/tachyon/internal/distributed"
	"github.com/paveg/tachyon/internal/io"
	"github.com/paveg/tachyon/internal/logging"
	"github.com/paveg/tachyon/internal/monitoring"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newWorkerCmd(a *app) *cobra.Command {
	var (
		addr        string
		name        string
		concurrency int
		memoryLimit int64
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve distributed tasks over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("concurrency") {
				cfg.Distributed.Concurrency = concurrency
			}
			if cmd.Flags().Changed("memory-limit") {
				cfg.Distributed.MemoryLimit = memoryLimit
			}
			logger := logging.Get()

			store, err := io.NewObjectStore(cfg.ObjectStore)
			if err != nil {
				return err
			}
			metrics := monitoring.NewMetrics()
			collector := monitoring.NewMetricsCollector(cfg.Metrics.Enabled)
			opts := []distributed.WorkerOption{
				distributed.WithOpener(&io.Opener{Objects: store}),
				distributed.WithWorkerMetrics(metrics),
				distributed.WithWorkerCollector(collector),
				distributed.WithWorkerLogger(logger),
			}
			if name != "" {
				opts = append(opts, distributed.WithWorkerName(name))
			}
			worker, err := distributed.NewWorker(cfg, opts...)
			if err != nil {
				return err
			}
			srv, err := distributed.NewServer(worker, cfg.Distributed.Concurrency, metrics)
			if err != nil {
				return err
			}

			if cfg.Metrics.Enabled {
				mon := monitoring.NewMonitoringServer(collector, metrics, cfg.Metrics.Address)
				go func() {
					if err := mon.Start(); err != nil {
						logger.Debug("metrics server stopped", "error", err)
					}
				}()
				defer mon.Stop()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe(addr) }()

			select {
			case err := <-errc:
				srv.Close()
				if err != nil {
					return fmt.Errorf("serving on %s: %w", addr, err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down worker", "worker", worker.Name())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8470", "listen address")
	f.StringVar(&name, "name", "", "worker name reported to coordinators (default: hostname)")
	f.IntVar(&concurrency, "concurrency", 0, "tasks run at once (0 = CPU count)")
	f.Int64Var(&memoryLimit, "memory-limit", 0, "bytes of range data accepted at once (0 = unlimited)")
	return cmd
}
