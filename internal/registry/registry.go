// Package registry is the service registry (C6): it owns the lifecycle of
// every host collaborator (storage, embedding, LLM, queue, ingestion
// pipeline, retrieval engine) in dependency order, the generalization of the
// teacher's kernel.Kernel Start/Stop/isRunning lifecycle to this spec's
// component set.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/crypto"
	"github.com/memorall/core/internal/embedding"
	"github.com/memorall/core/internal/ingestion"
	"github.com/memorall/core/internal/llm"
	"github.com/memorall/core/internal/queue"
	"github.com/memorall/core/internal/retrieval"
	"github.com/memorall/core/internal/sharedstore"
	"github.com/memorall/core/internal/storage"
	"github.com/memorall/core/internal/transport/broadcast"
)

// Config holds every collaborator's connection settings.
type Config struct {
	Storage storage.Config

	NATSAddress string

	EmbeddingURL   string
	EmbeddingModel string

	LLMBaseURL string

	RedisAddress string

	// MasterKeyPassphrase keys the encryption-at-rest box for the
	// `encryption` table (runner API keys, §4.1). Must be at least 16 bytes.
	MasterKeyPassphrase string

	MaxConcurrentJobs int
}

// DefaultConfig mirrors the teacher's DefaultConfig shape, defaults sourced
// from SPEC_FULL.md's component table.
func DefaultConfig() Config {
	return Config{
		Storage:           storage.DefaultConfig(),
		NATSAddress:       "nats://localhost:4222",
		EmbeddingURL:      "http://localhost:8081",
		EmbeddingModel:    "local-embedding",
		LLMBaseURL:        "http://localhost:8082",
		RedisAddress:      "localhost:6379",
		MaxConcurrentJobs: queue.DefaultMaxConcurrentJobs,
	}
}

// Registry is the host's top-level component owner. Only the host process
// constructs one; clients never do.
type Registry struct {
	config Config
	logger *zap.Logger

	Store     *storage.Store
	Bus       *broadcast.Bus
	Embedding embedding.Service
	LLM       llm.Service
	Queue     *queue.Queue
	Pipeline  *ingestion.Pipeline
	Retrieval *retrieval.Engine
	Shared    *sharedstore.Store
	Secrets   *crypto.Box

	redis     *redis.Client
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// New builds an unstarted Registry.
func New(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{config: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Start constructs every collaborator in dependency order and starts the
// background queue loop. Idempotent, matching the teacher's isRunning guard.
func (r *Registry) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.logger.Info("starting service registry")

	store, err := storage.New(r.ctx, r.config.Storage, r.logger)
	if err != nil {
		return err
	}
	r.Store = store

	bus, err := broadcast.Connect(r.config.NATSAddress, r.logger)
	if err != nil {
		store.Close()
		return err
	}
	r.Bus = bus

	r.Embedding = embedding.NewHTTPService(embedding.Config{
		BaseURL: r.config.EmbeddingURL,
		Model:   r.config.EmbeddingModel,
	}, r.logger)

	r.LLM = llm.NewHTTPService(llm.Config{BaseURL: r.config.LLMBaseURL}, r.logger)

	if r.config.MasterKeyPassphrase != "" {
		box, err := crypto.New(r.config.MasterKeyPassphrase, r.logger)
		if err != nil {
			bus.Close()
			store.Close()
			return err
		}
		r.Secrets = box
	}

	r.redis = redis.NewClient(&redis.Options{Addr: r.config.RedisAddress})
	if err := r.redis.Ping(r.ctx).Err(); err != nil {
		bus.Close()
		store.Close()
		return err
	}
	r.Shared = sharedstore.New(r.redis, bus, r.logger)

	repo := storage.NewRepo(store)
	r.Queue = queue.New(store.Pool(), bus, r.config.MaxConcurrentJobs, r.logger)
	r.Retrieval = retrieval.NewEngine(repo, r.Embedding, r.logger)
	r.Pipeline = ingestion.NewPipeline(repo, r.Embedding, r.LLM, r.Retrieval, r.logger)

	ingestion.RegisterHandlers(r.Queue, r.Store, repo, r.Pipeline, r.Secrets, r.logger)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Queue.Run(r.ctx); err != nil {
			r.logger.Error("queue loop exited", zap.Error(err))
		}
	}()

	r.mu.Lock()
	r.isRunning = true
	r.mu.Unlock()

	r.logger.Info("service registry started")
	return nil
}

// Stop gracefully tears every collaborator down, idempotent like Start.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.logger.Info("stopping service registry")
	r.cancel()
	r.wg.Wait()

	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Store != nil {
		r.Store.Close()
	}

	r.mu.Lock()
	r.isRunning = false
	r.mu.Unlock()

	r.logger.Info("service registry stopped")
	return nil
}

// WaitReady blocks until the store answers a ping or timeout elapses.
func (r *Registry) WaitReady(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()
	return r.Store.WaitReady(ctx)
}
