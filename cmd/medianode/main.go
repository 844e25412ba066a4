package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/config"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/element"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/grpcsrv"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/metrics"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/node"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "medianode",
		Short:   "MarchProxy media node runtime",
		Long:    `Per-node runtime for the media-processing daemon: state machine, port/link bookkeeping, poll-driven worker thread, event-driven buffer forwarding, and clock-update protocol.`,
		Version: version,
		Run:     run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/marchproxy/medianode.yaml)")
	rootCmd.PersistentFlags().String("node-handle", "medianode-0", "node handle")
	rootCmd.PersistentFlags().Int("poll-capacity", 16, "max poll items per node")
	rootCmd.PersistentFlags().Duration("idle-timeout", 3*time.Second, "idle timeout before auto-suspend")
	rootCmd.PersistentFlags().String("element-host", "0.0.0.0", "element listener host")
	rootCmd.PersistentFlags().Int("element-port", 9935, "element listener port")
	rootCmd.PersistentFlags().Int("element-max-input", 8, "max element input ports")
	rootCmd.PersistentFlags().Int("element-max-output", 8, "max element output ports")
	rootCmd.PersistentFlags().String("grpc-host", "0.0.0.0", "gRPC status server host")
	rootCmd.PersistentFlags().Int("grpc-port", 50060, "gRPC status server port")
	rootCmd.PersistentFlags().String("metrics-host", "0.0.0.0", "Prometheus metrics host")
	rootCmd.PersistentFlags().Int("metrics-port", 9095, "Prometheus metrics port")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlags(rootCmd.PersistentFlags())

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("failed to execute command")
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	log := logrus.WithField("node", cfg.NodeHandle)
	log.WithFields(logrus.Fields{
		"version":      version,
		"element_addr": fmt.Sprintf("%s:%d", cfg.ElementHost, cfg.ElementPort),
		"grpc_addr":    fmt.Sprintf("%s:%d", cfg.GRPCHost, cfg.GRPCPort),
		"metrics_addr": fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort),
	}).Info("starting medianode")

	el := element.New(element.Config{
		Host:      cfg.ElementHost,
		Port:      cfg.ElementPort,
		MaxInput:  uint32(cfg.ElementMaxInput),
		MaxOutput: uint32(cfg.ElementMaxOutput),
		Log:       log,
	})

	reg := registry.New()

	n, err := node.New(node.Config{
		Handle:       cfg.NodeHandle,
		Name:         cfg.NodeHandle,
		Element:      el,
		Observer:     reg,
		PollCapacity: cfg.PollCapacity,
		IdleTimeout:  cfg.IdleTimeout,
		Log:          log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to construct node")
	}
	reg.Add(n)

	if err := el.Start(); err != nil {
		log.WithError(err).Fatal("failed to start element listener")
	}

	metricsSrv := metrics.New(cfg.MetricsHost, cfg.MetricsPort, log)
	if err := metricsSrv.Start(); err != nil {
		log.WithError(err).Fatal("failed to start metrics server")
	}

	statusSrv := grpcsrv.New(cfg.GRPCHost, cfg.GRPCPort, reg, log)

	errChan := make(chan error, 1)
	go func() {
		if err := statusSrv.Start(); err != nil {
			errChan <- fmt.Errorf("grpc status server error: %w", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	log.Info("all servers started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.WithError(err).Error("server error")
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("received shutdown signal")
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statusSrv.Stop()
	n.Remove()
	if err := el.Stop(); err != nil {
		log.WithError(err).Warn("error stopping element listener")
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("error stopping metrics server")
	}

	log.Info("shutdown complete")
}
