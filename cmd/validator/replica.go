package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"validator/internal/config"
	"validator/internal/replica"
	"validator/internal/storage"
)

var replicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Run one inventory replica worker",
	RunE:  runReplica,
}

func init() {
	f := replicaCmd.Flags()
	f.String("id", "", "replica id (must appear in the replicas list)")
	f.String("addr", "", "health endpoint listen address")
	f.String("store", "", "bolt database path; in-memory when empty")
	f.Duration("processing-time", 0, "simulated processing time")
	f.Float64("drift", -1, "probability of answering from a stale stock level")
	f.Bool("seed", false, "insert the default products when missing")
}

func runReplica(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	rc := &cfg.Replica
	if v, _ := f.GetString("id"); v != "" {
		rc.ID = v
	}
	if v, _ := f.GetString("addr"); v != "" {
		rc.Addr = v
	}
	if v, _ := f.GetString("store"); v != "" {
		rc.StorePath = v
	}
	if v, _ := f.GetDuration("processing-time"); v > 0 {
		rc.ProcessingTime = v
	}
	if v, _ := f.GetFloat64("drift"); v >= 0 {
		rc.DriftRate = v
	}
	if f.Changed("seed") {
		rc.Seed, _ = f.GetBool("seed")
	}

	replicas, err := config.ParseReplicas(cfg.Replicas)
	if err != nil {
		return err
	}
	route, ok := config.Routes(replicas)[rc.ID]
	if !ok {
		return fmt.Errorf("replica %q is not in the replicas list", rc.ID)
	}

	store, err := openStore(rc)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	br := newBroker(cfg)
	defer br.Close()

	w := replica.NewWorker(replica.Config{
		ID:               rc.ID,
		RequestExchange:  cfg.Broker.RequestExchange,
		ResponseExchange: cfg.Broker.ResponseExchange,
		Route:            route,
		ProcessingTime:   rc.ProcessingTime,
		DriftRate:        rc.DriftRate,
		ReconnectMin:     cfg.Broker.ReconnectMin,
		ReconnectMax:     cfg.Broker.ReconnectMax,
	}, br, store)
	if err := declareWithRetry(ctx, cfg, "replica", w.Declare); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	srv := &http.Server{Addr: rc.Addr, Handler: replica.HealthHandler(rc.ID)}
	g.Go(func() error {
		log.Info("replica health listening", zap.String("replica", rc.ID), zap.String("addr", rc.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(rc *config.ReplicaWorker) (storage.Store, error) {
	var store storage.Store = storage.NewInMemoryStore()
	if rc.StorePath != "" {
		bs, err := storage.OpenBolt(rc.StorePath)
		if err != nil {
			return nil, err
		}
		store = bs
	}
	// an in-memory store starts empty and is always seeded
	if rc.Seed || rc.StorePath == "" {
		added, err := storage.Seed(store, storage.DefaultProducts())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed store: %w", err)
		}
		log.Info("seeded inventory", zap.String("replica", rc.ID), zap.Int("added", added))
	}
	return store, nil
}
