package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"validator/internal/broker"
	"validator/internal/config"
	"validator/internal/coordinator"
	"validator/internal/correlation"
	"validator/internal/events"
	"validator/internal/httpapi"
	"validator/internal/metrics"
	"validator/internal/node"
	"validator/internal/replica"
	"validator/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator with HTTP and gRPC ingress",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http", "", "HTTP listen address")
	serveCmd.Flags().String("grpc", "", "gRPC listen address")
	serveCmd.Flags().String("events", "", "event log path")
	serveCmd.Flags().String("name", "", "coordinator name; gives this coordinator its own reply tag and queue")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("http"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v, _ := cmd.Flags().GetString("grpc"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v, _ := cmd.Flags().GetString("events"); v != "" {
		cfg.Events.Path = v
	}
	if v, _ := cmd.Flags().GetString("name"); v != "" {
		cfg.SetName(v)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	instance := uuid.NewString()
	log.Info("starting validator",
		zap.String("instance", instance),
		zap.String("name", cfg.Coordinator.Name),
		zap.String("replyQueue", cfg.Broker.ReplyQueue),
		zap.String("broker", cfg.Broker.Kind),
		zap.String("replicas", cfg.Replicas))

	br := newBroker(cfg)
	defer br.Close()

	ev := events.Nop()
	if cfg.Events.Path != "" {
		if ev, err = events.Open(cfg.Events.Path, instance); err != nil {
			return err
		}
	}
	defer ev.Close()

	store := correlation.NewStore()
	m := metrics.New(store.Len)
	coord, err := coordinator.New(cfg, br, store, ev, m)
	if err != nil {
		return err
	}
	defer coord.Close()
	if err := declareWithRetry(ctx, cfg, "coordinator", coord.Declare); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := coord.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Broker.Kind == "memory" {
		if err := startLocalReplicas(ctx, g, cfg, br); err != nil {
			return err
		}
	}

	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: httpapi.New(coord, m.Handler()).Handler()}
	g.Go(func() error {
		log.Info("http ingress listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grpcNode := node.NewNode(cfg.GRPC.Addr, coord)
	g.Go(grpcNode.Start)

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcNode.Stop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// startLocalReplicas runs every configured replica in-process over the
// memory broker so a single binary can serve requests.
func startLocalReplicas(ctx context.Context, g *errgroup.Group, cfg *config.Config, br broker.Broker) error {
	replicas, err := config.ParseReplicas(cfg.Replicas)
	if err != nil {
		return err
	}
	for _, r := range replicas {
		store := storage.NewInMemoryStore()
		if _, err := storage.Seed(store, storage.DefaultProducts()); err != nil {
			return err
		}
		w := replica.NewWorker(replica.Config{
			ID:               r.ID,
			RequestExchange:  cfg.Broker.RequestExchange,
			ResponseExchange: cfg.Broker.ResponseExchange,
			Route:            r.Route,
			ProcessingTime:   cfg.Replica.ProcessingTime,
			DriftRate:        cfg.Replica.DriftRate,
			ReconnectMin:     cfg.Broker.ReconnectMin,
			ReconnectMax:     cfg.Broker.ReconnectMax,
		}, br, store)
		if err := w.Declare(); err != nil {
			return err
		}
		log.Info("started local replica", zap.String("replica", r.ID))
		g.Go(func() error {
			if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return nil
}
