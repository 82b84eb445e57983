package it

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"time"

	"validator/internal/broker"
	"validator/internal/config"
	"validator/internal/coordinator"
	"validator/internal/correlation"
	"validator/internal/events"
	"validator/internal/httpapi"
	"validator/internal/metrics"
	"validator/internal/replica"
	"validator/internal/storage"
)

// Cluster represents an in-process deployment.
type Cluster struct {
	Config      *config.Config
	Broker      *broker.Memory
	Store       *correlation.Store
	Coordinator *coordinator.Coordinator
	Metrics     *metrics.Metrics
	HTTP        *httptest.Server
	EventsPath  string

	events   *events.Log
	cancel   context.CancelFunc
	ctx      context.Context
	mu       sync.Mutex
	replicas map[string]*Replica
	done     sync.WaitGroup
}

// Replica represents a single replica worker in the cluster.
type Replica struct {
	ID     string
	Store  *storage.InMemoryStore
	worker *replica.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// ReplicaOptions tune one replica.
type ReplicaOptions struct {
	ProcessingTime time.Duration
	DriftRate      float64
}

// FastConfig returns a configuration with short timings for tests.
func FastConfig() *config.Config {
	cfg := config.Default()
	cfg.Coordinator.Grace = 20 * time.Millisecond
	cfg.Coordinator.Timeout = 500 * time.Millisecond
	cfg.Coordinator.PollInterval = 10 * time.Millisecond
	cfg.Coordinator.RepairTimeout = time.Second
	cfg.Broker.ReconnectMin = time.Millisecond
	cfg.Broker.ReconnectMax = 10 * time.Millisecond
	return cfg
}

// NewCluster creates a coordinator with an event log in dir. Replicas are
// started separately.
func NewCluster(cfg *config.Config, dir string) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cluster{
		Config:     cfg,
		Broker:     broker.NewMemory(),
		Store:      correlation.NewStore(),
		EventsPath: filepath.Join(dir, "events.jsonl"),
		replicas:   make(map[string]*Replica),
	}
	ev, err := events.Open(c.EventsPath, "")
	if err != nil {
		return nil, err
	}
	c.events = ev
	c.Metrics = metrics.New(c.Store.Len)

	c.Coordinator, err = coordinator.New(cfg, c.Broker, c.Store, ev, c.Metrics)
	if err != nil {
		ev.Close()
		return nil, err
	}
	if err := c.Coordinator.Declare(); err != nil {
		ev.Close()
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.Coordinator.Run(c.ctx)
	}()
	c.HTTP = httptest.NewServer(httpapi.New(c.Coordinator, c.Metrics.Handler()).Handler())
	return c, nil
}

// StartReplica starts a seeded replica worker for id.
func (c *Cluster) StartReplica(id string, opts ReplicaOptions) (*Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.replicas[id]; ok && r.cancel != nil {
		return nil, fmt.Errorf("replica %s already running", id)
	}

	replicas, err := config.ParseReplicas(c.Config.Replicas)
	if err != nil {
		return nil, err
	}
	route, ok := config.Routes(replicas)[id]
	if !ok {
		return nil, fmt.Errorf("replica %s not configured", id)
	}

	r, ok := c.replicas[id]
	if !ok {
		store := storage.NewInMemoryStore()
		if _, err := storage.Seed(store, storage.DefaultProducts()); err != nil {
			return nil, err
		}
		r = &Replica{ID: id, Store: store}
		c.replicas[id] = r
	}

	r.worker = replica.NewWorker(replica.Config{
		ID:               id,
		RequestExchange:  c.Config.Broker.RequestExchange,
		ResponseExchange: c.Config.Broker.ResponseExchange,
		Route:            route,
		ProcessingTime:   opts.ProcessingTime,
		DriftRate:        opts.DriftRate,
		ReconnectMin:     c.Config.Broker.ReconnectMin,
		ReconnectMax:     c.Config.Broker.ReconnectMax,
	}, c.Broker, r.Store)
	if err := r.worker.Declare(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.worker.Run(ctx)
	}(r.done)
	return r, nil
}

// StartReplicas starts every configured replica with default options.
func (c *Cluster) StartReplicas() error {
	replicas, err := config.ParseReplicas(c.Config.Replicas)
	if err != nil {
		return err
	}
	for _, r := range replicas {
		if _, err := c.StartReplica(r.ID, ReplicaOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// KillReplica stops a replica. Requests routed to it stay queued until it
// is started again.
func (c *Cluster) KillReplica(id string) error {
	c.mu.Lock()
	r, ok := c.replicas[id]
	c.mu.Unlock()
	if !ok || r.cancel == nil {
		return fmt.Errorf("replica %s not running", id)
	}
	r.cancel()
	<-r.done
	c.mu.Lock()
	r.cancel = nil
	c.mu.Unlock()
	return nil
}

// GetReplica returns a replica by id.
func (c *Cluster) GetReplica(id string) *Replica {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicas[id]
}

// Stop shuts everything down and flushes the event log.
func (c *Cluster) Stop() {
	c.HTTP.Close()
	c.cancel()
	c.mu.Lock()
	for _, r := range c.replicas {
		if r.cancel != nil {
			<-r.done
			r.cancel = nil
		}
	}
	c.mu.Unlock()
	c.done.Wait()
	c.Coordinator.Close()
	c.Broker.Close()
	c.events.Close()
}
