package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"validator/internal/broker"
	"validator/internal/config"
	"validator/internal/logger"
)

var log = logger.NewNamed("main")

var rootCmd = &cobra.Command{
	Use:           "validator",
	Short:         "Replica-vote validator: fan requests out to replicas and return the majority answer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to yaml config file")
	rootCmd.PersistentFlags().String("broker", "", "broker kind: memory or amqp")
	rootCmd.PersistentFlags().String("broker-url", "", "amqp url")
	rootCmd.AddCommand(serveCmd, replicaCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies shared flag overrides and
// installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if kind, _ := cmd.Flags().GetString("broker"); kind != "" {
		cfg.Broker.Kind = kind
	}
	if url, _ := cmd.Flags().GetString("broker-url"); url != "" {
		cfg.Broker.URL = url
	}
	if err := cfg.Logger.ApplyGlobal(); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, nil
}

func newBroker(cfg *config.Config) broker.Broker {
	if cfg.Broker.Kind == "amqp" {
		return broker.NewAMQP(cfg.Broker.URL, cfg.Broker.Prefetch)
	}
	return broker.NewMemory()
}

// declareWithRetry retries topology declaration until the broker is up.
func declareWithRetry(ctx context.Context, cfg *config.Config, what string, declare func() error) error {
	backoff := broker.NewBackoff(cfg.Broker.ReconnectMin, cfg.Broker.ReconnectMax)
	for {
		err := declare()
		if err == nil {
			return nil
		}
		log.Warn("broker not ready", zap.String("component", what), zap.Error(err))
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
}

const shutdownTimeout = 10 * time.Second
