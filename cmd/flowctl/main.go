// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Command flowctl is a thin CLI entry point that wires a decoded
// configuration, a zap.Logger, and a topology.Supervisor together. It
// deliberately stops short of flags for every adapter type, file
// watching, or a config file format, but gives the supervisor a real
// process to run inside.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/flowcore/pipeline/config"
	"github.com/flowcore/pipeline/sinks/grpcsink"
	"github.com/flowcore/pipeline/sinks/kafkasink"
	"github.com/flowcore/pipeline/sources/gensource"
	"github.com/flowcore/pipeline/topology"
	"github.com/flowcore/pipeline/transforms/remap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string
	var metricsAddr string
	var shutdownDeadline time.Duration

	cmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Run a flowcore pipeline topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), dataDir, metricsAddr, shutdownDeadline)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/flowcore", "topology data directory")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	cmd.Flags().DurationVar(&shutdownDeadline, "shutdown-deadline", 60*time.Second, "how long to wait for components to drain on shutdown")
	// Accept underscore spellings (--data_dir) alongside the canonical
	// dashed forms.
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	return cmd
}

// registry returns the component type registry every flowctl-driven
// topology uses: the four example components this repository ships.
func registry() *config.Registry {
	r := config.NewRegistry()
	r.Register("gen_source", config.TypeFactory{
		NewSpec: func() any { return &gensource.Spec{} },
		Builder: gensource.Builder,
	})
	r.Register("remap", config.TypeFactory{
		NewSpec: func() any { return &remap.Spec{} },
		Builder: remap.Builder,
	})
	r.Register("grpc_sink", config.TypeFactory{
		NewSpec: func() any { return &grpcsink.Spec{} },
		Builder: grpcsink.Builder,
	})
	r.Register("kafka_sink", config.TypeFactory{
		NewSpec: func() any { return &kafkasink.Spec{} },
		Builder: kafkasink.Builder,
	})
	return r
}

func run(ctx context.Context, dataDir, metricsAddr string, shutdownDeadline time.Duration) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("flowctl: build logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	serveMetrics(logger, metricsAddr, reg)

	sup := topology.New(dataDir, topology.WithLogger(logger), topology.WithShutdownDeadline(shutdownDeadline))

	// flowctl has no config file format; it starts from an empty
	// topology and relies on entries an embedding process supplies via
	// config.Registry.Decode.
	entries := []config.Entry{}
	configs, err := registry().Decode(entries)
	if err != nil {
		return fmt.Errorf("flowctl: decode config: %w", err)
	}
	if err := sup.Build(ctx, configs, false); err != nil {
		return fmt.Errorf("flowctl: build topology: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("flowctl: shutdown signal received")
	case err := <-sup.Aborted():
		logger.Error("flowctl: topology aborted", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	return sup.Shutdown(shutdownCtx)
}

func serveMetrics(logger *zap.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("flowctl: metrics server stopped", zap.Error(err))
		}
	}()
}
