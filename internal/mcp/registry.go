package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/simple-efficient/toolfactory/internal/config"
	"github.com/simple-efficient/toolfactory/internal/telemetry"
)

const defaultShutdownGrace = time.Second

// Registry owns every live session and the single worker goroutine all
// session I/O runs on. Callers get synchronous semantics through a
// submit-and-wait primitive; the worker itself never blocks on callers.
type Registry struct {
	observer *telemetry.Observer
	grace    time.Duration

	mu        sync.RWMutex
	clients   map[string]*Session
	processes []*os.Process

	tasks     chan *registryTask
	stop      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	started   atomic.Bool

	pending      atomic.Int64
	closed       atomic.Bool
	shutdownOnce sync.Once
}

type registryTask struct {
	ctx context.Context
	run func(ctx context.Context) (any, error)
	out chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver attaches telemetry to registry operations.
func WithObserver(observer *telemetry.Observer) Option {
	return func(r *Registry) { r.observer = observer }
}

// WithShutdownGrace overrides the wait before shutdown escalates to killing
// tracked server processes.
func WithShutdownGrace(grace time.Duration) Option {
	return func(r *Registry) {
		if grace > 0 {
			r.grace = grace
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		grace:   defaultShutdownGrace,
		clients: make(map[string]*Session),
		tasks:   make(chan *registryTask),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, created on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func (r *Registry) ensureWorker() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.worker()
	})
}

func (r *Registry) worker() {
	defer close(r.stopped)
	for {
		select {
		case task := <-r.tasks:
			value, err := task.run(task.ctx)
			r.pending.Add(-1)
			task.out <- taskResult{value: value, err: err}
		case <-r.stop:
			return
		}
	}
}

// submit schedules fn on the worker and blocks until it finishes, the
// context is done, or the registry shuts down.
func (r *Registry) submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	r.ensureWorker()

	task := &registryTask{ctx: ctx, run: fn, out: make(chan taskResult, 1)}
	r.pending.Add(1)
	select {
	case r.tasks <- task:
	case <-r.stop:
		r.pending.Add(-1)
		return nil, ErrRegistryClosed
	case <-ctx.Done():
		r.pending.Add(-1)
		return nil, ctx.Err()
	}

	select {
	case result := <-task.out:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Initialize connects one session per declared server and returns the
// flattened adapter set, synthetic resource tools included. The first connect
// failure aborts; sessions established before it stay registered.
func (r *Registry) Initialize(ctx context.Context, doc *config.ServersDocument) ([]*Tool, error) {
	if doc == nil || len(doc.Servers) == 0 {
		return nil, fmt.Errorf("no servers declared")
	}

	names := make([]string, 0, len(doc.Servers))
	for name := range doc.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var adapters []*Tool
	for _, name := range names {
		serverCfg := doc.Servers[name]
		clientID := name + "_" + uuid.NewString()

		value, err := r.submit(ctx, func(ctx context.Context) (any, error) {
			session, err := connectSession(ctx, name, clientID, serverCfg)
			if err != nil {
				return nil, err
			}
			r.register(clientID, session)
			return session, nil
		})
		if err != nil {
			return nil, err
		}
		session := value.(*Session)

		for _, def := range session.Tools() {
			adapters = append(adapters, newTool(r, clientID, name, def))
		}
		if session.HasResources() {
			adapters = append(adapters, syntheticResourceTools(r, clientID, name)...)
		}
		slog.Info("registered mcp server", "server", name, "client_id", clientID, "tools", len(session.Tools()))
	}
	return adapters, nil
}

func (r *Registry) register(clientID string, session *Session) {
	r.mu.Lock()
	r.clients[clientID] = session
	if proc := session.Process(); proc != nil {
		r.processes = append(r.processes, proc)
	}
	r.mu.Unlock()
}

// Session looks up the live session for a client identifier.
func (r *Registry) Session(clientID string) (*Session, bool) {
	r.mu.RLock()
	session, ok := r.clients[clientID]
	r.mu.RUnlock()
	return session, ok
}

// CallTool executes one operation on the worker loop. A failed liveness probe
// triggers exactly one reconnect attempt with a replacement session; if the
// replacement also fails the caller gets the failure as a result string, not
// an error, matching the soft-failure contract of adapted tools.
func (r *Registry) CallTool(ctx context.Context, clientID, toolName string, args map[string]any) (string, error) {
	value, err := r.submit(ctx, func(ctx context.Context) (any, error) {
		session, ok := r.Session(clientID)
		if !ok {
			return nil, fmt.Errorf("unknown client %q", clientID)
		}

		if pingErr := session.Ping(ctx); pingErr != nil {
			slog.Info("session is not alive, attempting reconnect",
				"server", session.ServerName(), "client_id", clientID, "error", pingErr)
			r.observer.RecordProbeFailure(ctx, session.ServerName())

			replacement, reconnectErr := connectSession(ctx, session.ServerName(), clientID, session.Descriptor())
			r.observer.RecordReconnect(ctx, session.ServerName(), reconnectErr == nil)
			if reconnectErr != nil {
				slog.Warn("session reconnect failed",
					"server", session.ServerName(), "client_id", clientID, "error", reconnectErr)
				return fmt.Sprintf("Session reconnect (client creation) exception: %v", reconnectErr), nil
			}

			r.mu.Lock()
			r.clients[clientID] = replacement
			if proc := replacement.Process(); proc != nil {
				r.processes = append(r.processes, proc)
			}
			r.mu.Unlock()
			session.Close()
			session = replacement
		}

		ctx, finish := r.observer.ObserveInvocation(ctx, session.ServerName(), toolName)
		result, execErr := session.Execute(ctx, toolName, args)
		finish(execErr)
		return result, execErr
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Shutdown closes every session with a bounded grace period, kills any still
// tracked server process if work remains outstanding, then stops the worker.
// After it returns no further task runs on the loop.
func (r *Registry) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)

		r.mu.Lock()
		sessions := make([]*Session, 0, len(r.clients))
		for _, session := range r.clients {
			sessions = append(sessions, session)
		}
		r.clients = make(map[string]*Session)
		processes := r.processes
		r.processes = nil
		r.mu.Unlock()

		if r.started.Load() {
			for _, session := range sessions {
				r.enqueueClose(session)
			}
		} else {
			for _, session := range sessions {
				session.Close()
			}
		}

		deadline := time.Now().Add(r.grace)
		for r.pending.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if r.pending.Load() > 0 {
			slog.Warn("graceful close incomplete, terminating tracked processes", "outstanding", r.pending.Load())
			for _, proc := range processes {
				if proc != nil {
					_ = proc.Kill()
				}
			}
		}

		close(r.stop)
		if r.started.Load() {
			<-r.stopped
		}
		slog.Debug("mcp registry stopped")
	})
}

// enqueueClose schedules a session close without blocking on its result.
func (r *Registry) enqueueClose(session *Session) {
	task := &registryTask{
		ctx: context.Background(),
		run: func(context.Context) (any, error) {
			return nil, session.Close()
		},
		out: make(chan taskResult, 1),
	}
	r.pending.Add(1)
	select {
	case r.tasks <- task:
	case <-r.stop:
		r.pending.Add(-1)
		session.Close()
	case <-time.After(r.grace):
		r.pending.Add(-1)
		session.Close()
	}
}
