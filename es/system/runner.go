package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunnerStarted indicates Start was called twice.
var ErrRunnerStarted = errors.New("runner already started")

// Runner drives a system's followers.
type Runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// SingleThreadedRunner processes a system cooperatively on the caller's
// goroutine. It is deterministic and meant for tests, tools and
// request-scoped processing: write through a leader, then Drain.
type SingleThreadedRunner struct {
	system  *System
	started bool
}

// NewSingleThreadedRunner creates a single-threaded runner for the system.
func NewSingleThreadedRunner(system *System) *SingleThreadedRunner {
	return &SingleThreadedRunner{system: system}
}

// Start implements Runner. It connects the graph; no goroutines start.
func (r *SingleThreadedRunner) Start(_ context.Context) error {
	if r.started {
		return ErrRunnerStarted
	}
	r.started = true
	r.system.Connect()
	return nil
}

// Stop implements Runner.
func (r *SingleThreadedRunner) Stop() error {
	r.started = false
	return nil
}

// Drain processes the whole graph to quiescence: it sweeps all edges in
// pipe order, repeatedly, until a full sweep processes nothing. Events a
// follower produces during a sweep are picked up by the next sweep, so one
// Drain settles multi-stage pipelines.
func (r *SingleThreadedRunner) Drain(ctx context.Context) error {
	for {
		total := 0
		for _, edge := range r.system.Edges() {
			follower := r.system.Node(edge.FollowerName).(Follower)
			processed, err := follower.PullAndProcess(ctx, edge.UpstreamName)
			if err != nil {
				return fmt.Errorf("edge %s->%s: %w", edge.UpstreamName, edge.FollowerName, err)
			}
			total += processed
		}
		if total == 0 {
			return nil
		}
	}
}

// MultiThreadedRunner runs one goroutine per edge of the system. Each
// worker pulls when its leader prompts it and on a fallback poll interval,
// so followers catch up even when a prompt is missed (e.g. events written
// by another process against the same database).
//
// Any worker error stops the whole runner; Stop returns the first error.
type MultiThreadedRunner struct {
	system       *System
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errChan chan error
	prompts map[Edge]chan struct{}
}

// MultiThreadedRunnerConfig contains configuration for a
// MultiThreadedRunner.
type MultiThreadedRunnerConfig struct {
	// PollInterval is the fallback pull period per edge.
	PollInterval time.Duration
}

// DefaultMultiThreadedRunnerConfig returns a runner configuration with
// default values.
func DefaultMultiThreadedRunnerConfig() MultiThreadedRunnerConfig {
	return MultiThreadedRunnerConfig{PollInterval: time.Second}
}

// RunnerOption is a functional option for configuring a
// MultiThreadedRunner.
type RunnerOption func(*MultiThreadedRunnerConfig)

// WithPollInterval sets the fallback pull period.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(c *MultiThreadedRunnerConfig) {
		c.PollInterval = interval
	}
}

// NewMultiThreadedRunner creates a concurrent runner for the system.
func NewMultiThreadedRunner(system *System, opts ...RunnerOption) *MultiThreadedRunner {
	config := DefaultMultiThreadedRunnerConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &MultiThreadedRunner{
		system:       system,
		pollInterval: config.PollInterval,
		prompts:      make(map[Edge]chan struct{}),
	}
}

// Start implements Runner. It connects the graph, subscribes to every
// leader, and launches one worker per edge.
func (r *MultiThreadedRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}
	r.started = true

	r.system.Connect()

	edges := r.system.Edges()
	ctx, r.cancel = context.WithCancel(ctx)
	r.errChan = make(chan error, len(edges))

	for _, edge := range edges {
		// Capacity 1: a prompt during a pull coalesces into one more pull.
		prompt := make(chan struct{}, 1)
		r.prompts[edge] = prompt

		upstream := r.system.Node(edge.UpstreamName)
		upstream.Subscribe(func() {
			select {
			case prompt <- struct{}{}:
			default:
			}
		})

		r.wg.Add(1)
		go r.work(ctx, edge, prompt)
	}
	return nil
}

// work pulls one edge until the context is canceled. A pull that started
// before cancellation finishes its in-flight commits; the context is only
// honored between notifications.
func (r *MultiThreadedRunner) work(ctx context.Context, edge Edge, prompt <-chan struct{}) {
	defer r.wg.Done()

	follower := r.system.Node(edge.FollowerName).(Follower)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	pull := func() bool {
		_, err := follower.PullAndProcess(ctx, edge.UpstreamName)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.errChan <- fmt.Errorf("edge %s->%s: %w", edge.UpstreamName, edge.FollowerName, err)
			r.cancel()
			return false
		}
		return err == nil
	}

	// Catch up on whatever predates this runner.
	if !pull() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-prompt:
			if !pull() {
				return
			}
		case <-ticker.C:
			if !pull() {
				return
			}
		}
	}
}

// Stop implements Runner. It cancels all workers, waits for in-flight
// commits to finish, and returns the first worker error, if any.
func (r *MultiThreadedRunner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false

	r.cancel()
	r.wg.Wait()
	close(r.errChan)

	for err := range r.errChan {
		if err != nil {
			return err
		}
	}
	return nil
}
