// Package control assembles the resilience core into a single client with
// a managed lifecycle.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/taskhive/syncd/internal/core/config"
	"github.com/taskhive/syncd/internal/core/domain"
	"github.com/taskhive/syncd/internal/infra/backend"
	"github.com/taskhive/syncd/internal/infra/cache"
	"github.com/taskhive/syncd/internal/infra/journal"
	"github.com/taskhive/syncd/internal/infra/realtime"
	"github.com/taskhive/syncd/internal/sync/health"
	"github.com/taskhive/syncd/internal/sync/mutate"
	"github.com/taskhive/syncd/internal/sync/queue"
	"github.com/taskhive/syncd/internal/sync/reconcile"
	"github.com/taskhive/syncd/internal/sync/recovery"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

// Client wires the cache, backend, mutation queue, recovery machine and
// reconciler together and manages their lifecycle.
type Client struct {
	cfg   *config.AppConfig
	tiers timeout.Tiers

	tasks      *cache.Store
	backend    backend.Service
	queue      *queue.Queue
	machine    *recovery.Machine
	suspend    *recovery.SuspendWatcher
	reconciler *reconcile.Reconciler
	frontend   *mutate.Frontend
	registry   *journal.Registry

	journalStore journal.Store
	pg           *journal.PostgresStore
	sub          realtime.Subscriber
	prober       health.Prober
	server       *Server
	log          *slog.Logger

	cancel context.CancelFunc
}

// NewClient creates a client with all dependencies initialized. Nothing
// runs until Start.
func NewClient(cfg *config.AppConfig) (*Client, error) {
	log := slog.Default()
	tiers := timeout.Tiers{
		Initial:  cfg.Sync.InitialDeadline.Std(),
		Recovery: cfg.Sync.RecoveryDeadline.Std(),
		Health:   cfg.Sync.HealthDeadline.Std(),
	}

	tasks := cache.NewStore()
	svc := backend.NewHTTPService(cfg.Backend)

	// Journal storage: Postgres when configured, memory otherwise.
	var store journal.Store
	var pg *journal.PostgresStore
	if cfg.Database.URL != "" {
		var err error
		pg, err = journal.NewPostgresStore(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init journal db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(pg.DB().DB, "migrations"); err != nil {
			return nil, fmt.Errorf("migrate journal db: %w", err)
		}
		store = pg
		slog.Info("Using PostgreSQL mutation journal")
	} else {
		store = journal.NewMemoryStore()
		slog.Info("Using in-memory mutation journal")
	}

	q := queue.New(queue.Config{
		BaseDelay: cfg.Sync.RetryBaseDelay.Std(),
		Store:     store,
	}, log)

	// Prefer the gRPC health endpoint when one is configured; fall back to
	// the session check over HTTP.
	var prober health.Prober
	if cfg.Backend.GRPCEndpoint != "" {
		grpcProber, err := health.NewGRPCProber(cfg.Backend.GRPCEndpoint, tiers.Health)
		if err != nil {
			return nil, fmt.Errorf("init grpc prober: %w", err)
		}
		prober = grpcProber
	} else {
		prober = health.NewSessionProber(svc, tiers.Health)
	}

	machine := recovery.NewMachine(recovery.Config{
		MinBackground:      cfg.Sync.MinBackground.Std(),
		ForegroundDebounce: cfg.Sync.ForegroundDebounce.Std(),
	}, prober, q, log)

	// Push transport: Redis pub/sub when configured, a process-local hub
	// otherwise.
	var sub realtime.Subscriber
	if cfg.Redis.URL != "" {
		redisSub, err := realtime.NewRedisSubscriber(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis subscriber: %w", err)
		}
		sub = redisSub
	} else {
		sub = realtime.NewMemoryHub()
	}

	fetch := func(ctx context.Context) ([]domain.Task, error) {
		return svc.ListTasks(ctx, cfg.Sync.ListID)
	}
	reconciler := reconcile.New(tasks, sub, fetch, cfg.Sync.ListID, tiers.Recovery, log)

	c := &Client{
		cfg:          cfg,
		tiers:        tiers,
		tasks:        tasks,
		backend:      svc,
		queue:        q,
		machine:      machine,
		suspend:      recovery.NewSuspendWatcher(machine, time.Second, log),
		reconciler:   reconciler,
		registry:     journal.NewRegistry(),
		journalStore: store,
		pg:           pg,
		sub:          sub,
		prober:       prober,
		log:          log,
	}
	c.frontend = mutate.NewFrontend(machine, q, tiers, queuedLogger{log: log}, log)
	c.registerCommands()
	c.server = NewServer(c, cfg.Server.Port)
	return c, nil
}

// Start launches the background components and rehydrates any journaled
// mutations from a previous run.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.machine.Start(runCtx)

	go func() {
		if err := c.server.Start(); err != nil {
			c.log.Error("Diagnostics server failed", "error", err)
		}
	}()

	go c.suspend.Run(runCtx)

	go func() {
		if err := c.reconciler.Run(runCtx); err != nil && runCtx.Err() == nil {
			c.log.Error("Reconciler stopped", "error", err)
		}
	}()

	if err := c.rehydrate(runCtx); err != nil {
		c.log.Warn("Failed to rehydrate mutation journal", "error", err)
	}

	go c.initialLoad(runCtx)
	return nil
}

// Stop shuts the client down. Pending queued mutations stay journaled for
// the next run.
func (c *Client) Stop(ctx context.Context) error {
	c.log.Info("Stopping sync client")
	if c.cancel != nil {
		c.cancel()
	}
	c.machine.Stop()

	if err := c.sub.Close(); err != nil {
		c.log.Warn("Failed to close push subscriber", "error", err)
	}
	if closer, ok := c.prober.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			c.log.Warn("Failed to close health prober", "error", err)
		}
	}
	if c.pg != nil {
		if err := c.pg.Close(); err != nil {
			c.log.Warn("Failed to close journal db", "error", err)
		}
	}
	return c.server.Stop(ctx)
}

// Tasks returns the local task cache.
func (c *Client) Tasks() *cache.Store { return c.tasks }

// Recovery returns the recovery state machine.
func (c *Client) Recovery() *recovery.Machine { return c.machine }

// Queue returns the mutation queue.
func (c *Client) Queue() *queue.Queue { return c.queue }

// NewMutation wraps a mutation with timeout, queueing and rollback
// handling.
func (c *Client) NewMutation(m mutate.Mutation) *mutate.Wrapped {
	return c.frontend.Wrap(m)
}

// Logout discards all pending mutations. Queued writes belong to the dead
// session and must not replay under the next one.
func (c *Client) Logout() {
	c.queue.Clear()
	c.log.Info("Logged out, pending mutations discarded")
}

// initialLoad fetches the task list once at startup so the cache starts
// populated. A failed load leaves the cache invalidated for the
// reconciler to repair after recovery.
func (c *Client) initialLoad(ctx context.Context) {
	tasks, err := timeout.Run(ctx, c.tiers.Initial, func(ctx context.Context) ([]domain.Task, error) {
		return c.backend.ListTasks(ctx, c.cfg.Sync.ListID)
	})
	if err != nil {
		c.log.Warn("Initial task load failed", "list", c.cfg.Sync.ListID, "error", err)
		c.machine.ReportTimeout(err)
		c.tasks.Invalidate()
		return
	}
	c.tasks.ReplaceAll(tasks)
	c.log.Info("Initial task load complete", "list", c.cfg.Sync.ListID, "count", len(tasks))
}

// rehydrate re-queues journaled mutations from a previous run.
func (c *Client) rehydrate(ctx context.Context) error {
	records, err := c.journalStore.List(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, rec := range records {
		op, err := c.registry.Build(rec.Command)
		if err != nil {
			// An unknown kind stays journaled; a future build may know it.
			c.log.Warn("Skipping journaled mutation", "id", rec.ID, "kind", rec.Command.Kind, "error", err)
			continue
		}
		c.queue.Restore(rec, op, nil)
		restored++
	}
	if restored > 0 {
		c.log.Info("Restored journaled mutations", "count", restored)
	}
	return nil
}

// Command kinds journaled by the built-in task mutations.
const (
	cmdTaskCreate = "task.create"
	cmdTaskUpdate = "task.update"
	cmdTaskDelete = "task.delete"
)

type updatePayload struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type deletePayload struct {
	ID string `json:"id"`
}

func (c *Client) registerCommands() {
	c.registry.Register(cmdTaskCreate, func(payload json.RawMessage) (func(ctx context.Context) error, error) {
		var task domain.Task
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			created, err := c.backend.CreateTask(ctx, task)
			if err != nil {
				return err
			}
			c.tasks.Upsert(created)
			return nil
		}, nil
	})

	c.registry.Register(cmdTaskUpdate, func(payload json.RawMessage) (func(ctx context.Context) error, error) {
		var p updatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			updated, err := c.backend.UpdateTask(ctx, p.ID, p.Fields)
			if err != nil {
				return err
			}
			c.tasks.Upsert(updated)
			return nil
		}, nil
	})

	c.registry.Register(cmdTaskDelete, func(payload json.RawMessage) (func(ctx context.Context) error, error) {
		var p deletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			if err := c.backend.DeleteTask(ctx, p.ID); err != nil {
				return err
			}
			c.tasks.Delete(p.ID)
			return nil
		}, nil
	})
}

// queuedLogger surfaces the queued-for-later notice the UI layer would
// show as a toast.
type queuedLogger struct {
	log *slog.Logger
}

func (n queuedLogger) MutationQueued(description string) {
	n.log.Info("Changes will sync when the connection returns", "description", description)
}
