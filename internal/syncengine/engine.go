package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dwnsync/internal/did"
	"github.com/roach88/dwnsync/internal/state"
)

// Direction is the direction of transfer for a tuple.
type Direction string

const (
	// Push transfers events from the local replica to a remote endpoint.
	Push Direction = "push"

	// Pull transfers events from a remote endpoint to the local replica.
	Pull Direction = "pull"
)

// ParseDirection parses "push", "pull", or "" (both).
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Push, Pull:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("invalid direction %q: want push or pull", s)
	}
}

const (
	// DefaultBatchSize is the page size for event enumeration.
	DefaultBatchSize = 100

	// DefaultConcurrency bounds concurrently processed tuples per direction.
	DefaultConcurrency = 8
)

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the event page size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds the tuples processed at once in each direction.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine orchestrates push and pull passes. It owns no data beyond the
// watermarks and registrations kept in its state store.
//
// Thread-safety: all methods are safe for concurrent use. Overlapping
// passes are prevented by the Scheduler, not by the Engine.
type Engine struct {
	state    state.Store
	resolver did.Resolver

	mu    sync.RWMutex
	agent Agent

	batchSize   int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Engine. agent may be nil and attached later with
// SetAgent; passes fail with ErrNoAgent until then.
func New(st state.Store, resolver did.Resolver, agent Agent, opts ...Option) *Engine {
	e := &Engine{
		state:       st,
		resolver:    resolver,
		agent:       agent,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAgent attaches the agent used for all message processing.
func (e *Engine) SetAgent(a Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agent = a
}

func (e *Engine) currentAgent() Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agent
}

// RegisterIdentity adds did to the sync set. Idempotent; no network effect.
func (e *Engine) RegisterIdentity(ctx context.Context, didURI string) error {
	if _, err := did.Parse(didURI); err != nil {
		return err
	}
	return e.state.RegisterIdentity(ctx, didURI)
}

// DeregisterIdentity removes did from the sync set.
func (e *Engine) DeregisterIdentity(ctx context.Context, didURI string) error {
	return e.state.DeregisterIdentity(ctx, didURI)
}

// Identities returns the registered DIDs.
func (e *Engine) Identities(ctx context.Context) ([]string, error) {
	return e.state.Identities(ctx)
}

// Clear wipes all watermarks and registrations.
func (e *Engine) Clear(ctx context.Context) error {
	return e.state.Clear(ctx)
}

// Push runs one push pass.
func (e *Engine) Push(ctx context.Context) (*Report, error) {
	return e.Sync(ctx, Push)
}

// Pull runs one pull pass.
func (e *Engine) Pull(ctx context.Context) (*Report, error) {
	return e.Sync(ctx, Pull)
}

// Sync runs one pass in the given direction, or both when dir is empty.
//
// Sync returns once every tuple has been attempted. Failures inside the pass
// are logged and recorded in the Report; the returned error is non-nil only
// for an invalid direction, ErrNoAgent, or when the registry itself cannot
// be read.
func (e *Engine) Sync(ctx context.Context, dir Direction) (*Report, error) {
	if _, err := ParseDirection(string(dir)); err != nil {
		return nil, err
	}
	agent := e.currentAgent()
	if agent == nil {
		return nil, ErrNoAgent
	}

	report := &Report{Started: e.now()}
	dids, err := e.state.Identities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	report.Identities = len(dids)
	if len(dids) == 0 {
		report.Finished = e.now()
		return report, nil
	}

	targets := e.resolveAll(ctx, dids, report)

	var directions []Direction
	switch dir {
	case "":
		directions = []Direction{Push, Pull}
	default:
		directions = []Direction{dir}
	}

	var mu sync.Mutex
	var phases sync.WaitGroup
	for _, d := range directions {
		phases.Add(1)
		go func(d Direction) {
			defer phases.Done()
			results := e.runPhase(ctx, agent, d, targets)
			mu.Lock()
			report.Tuples = append(report.Tuples, results...)
			mu.Unlock()
		}(d)
	}
	phases.Wait()

	report.sortTuples()
	report.Finished = e.now()
	e.logger.Info("sync pass complete",
		"direction", directionLabel(dir),
		"identities", report.Identities,
		"tuples", len(report.Tuples),
		"applied", report.Applied(),
		"rejected", report.Rejected(),
		"failed", len(report.Failed()),
		"duration", report.Finished.Sub(report.Started),
	)
	return report, nil
}

// target is an identity with its resolved endpoints.
type target struct {
	did       string
	endpoints []string
}

// resolveAll resolves every identity, recording failures in the report.
// Identities that fail resolution are skipped for this pass.
func (e *Engine) resolveAll(ctx context.Context, dids []string, report *Report) []target {
	resolved := make([]*target, len(dids))
	failures := make([]*SyncError, len(dids))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, d := range dids {
		i, d := i, d
		g.Go(func() error {
			endpoints, err := did.DwnEndpoints(ctx, e.resolver, d)
			if err != nil {
				failures[i] = &SyncError{Code: ErrCodeResolutionFailed, DID: d, Err: err}
				if errors.Is(err, did.ErrNoEndpoints) {
					e.logger.Info("skipping identity without dwn endpoints", "did", d)
				} else {
					e.logger.Warn("skipping identity: resolution failed", "did", d, "error", err)
				}
				return nil
			}
			resolved[i] = &target{did: d, endpoints: endpoints}
			return nil
		})
	}
	_ = g.Wait()

	var out []target
	for i := range dids {
		if resolved[i] != nil {
			out = append(out, *resolved[i])
		}
		if failures[i] != nil {
			report.Resolution = append(report.Resolution, failures[i])
		}
	}
	return out
}

// runPhase processes every (identity, endpoint) tuple for one direction
// as a concurrent batch. Tuples share no mutable state.
func (e *Engine) runPhase(ctx context.Context, agent Agent, dir Direction, targets []target) []*TupleResult {
	var results []*TupleResult
	for _, t := range targets {
		for _, ep := range t.endpoints {
			results = append(results, &TupleResult{DID: t.did, Endpoint: ep, Direction: dir})
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, res := range results {
		res := res
		g.Go(func() error {
			e.syncTuple(ctx, agent, res)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func directionLabel(dir Direction) string {
	if dir == "" {
		return "both"
	}
	return string(dir)
}
