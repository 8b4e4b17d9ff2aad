// Package application assembles the persistence components of one event-
// sourced application: its mapper, recorder, event store, repositories and
// notification log, under a stable application name.
package application

import (
	"context"
	"sync"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/eventstore"
	"github.com/getpup/pupflow/es/mapper"
	"github.com/getpup/pupflow/es/notificationlog"
	"github.com/getpup/pupflow/es/recorder"
	"github.com/getpup/pupflow/es/repository"
)

// Application is a named unit of event-sourced state. All of its aggregates
// share one recorder, one mapper configuration and one notification log.
type Application struct {
	name     string
	store    *eventstore.EventStore
	recorder recorder.ApplicationRecorder
	log      *notificationlog.Log
	logger   es.Logger

	mu          sync.Mutex
	subscribers []func()
}

// Config contains configuration for an Application.
type Config struct {
	// Logger is passed to the event store and repositories; nil disables
	// logging.
	Logger es.Logger

	// SectionSize is the notification log page size.
	SectionSize int
}

// DefaultConfig returns an application configuration with default values.
func DefaultConfig() Config {
	return Config{SectionSize: notificationlog.DefaultSectionSize}
}

// Option is a functional option for configuring an Application.
type Option func(*Config)

// WithLogger sets a logger for the application and its components.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSectionSize sets the notification log page size.
func WithSectionSize(size int) Option {
	return func(c *Config) {
		c.SectionSize = size
	}
}

// New creates an application over the given mapper and recorder.
func New(name string, m *mapper.Mapper, rec recorder.ApplicationRecorder, opts ...Option) *Application {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	var storeOpts []eventstore.Option
	if config.Logger != nil {
		storeOpts = append(storeOpts, eventstore.WithLogger(config.Logger))
	}

	return &Application{
		name:     name,
		store:    eventstore.New(m, rec, storeOpts...),
		recorder: rec,
		log:      notificationlog.New(rec, notificationlog.WithSectionSize(config.SectionSize)),
		logger:   config.Logger,
	}
}

// Name returns the application's stable name, used in tracking records.
func (a *Application) Name() string {
	return a.name
}

// EventStore returns the application's event store.
func (a *Application) EventStore() *eventstore.EventStore {
	return a.store
}

// Recorder returns the application's recorder.
func (a *Application) Recorder() recorder.ApplicationRecorder {
	return a.recorder
}

// NotificationLog returns the application's outward-facing log.
func (a *Application) NotificationLog() *notificationlog.Log {
	return a.log
}

// Repository builds a repository for one aggregate type, sharing the
// application's event store and firing the application's subscriber hooks
// after every save.
func (a *Application) Repository(newRoot func() es.Root, opts ...repository.Option) *repository.Repository {
	base := []repository.Option{repository.WithAfterSave(a.Notify)}
	if a.logger != nil {
		base = append(base, repository.WithLogger(a.logger))
	}
	return repository.New(a.store, newRoot, append(base, opts...)...)
}

// Save collects and persists the pending events of the given aggregates in
// one atomic batch, then notifies subscribers.
func (a *Application) Save(ctx context.Context, roots ...es.Root) error {
	var events []es.DomainEvent
	for _, root := range roots {
		events = append(events, root.CollectPendingEvents()...)
	}
	if len(events) == 0 {
		return nil
	}
	if err := a.store.Put(ctx, events); err != nil {
		return err
	}
	a.Notify()
	return nil
}

// Subscribe registers a hook that runs whenever the application commits new
// events. Runners use it to prompt followers without polling.
func (a *Application) Subscribe(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Notify fires all subscriber hooks. Hooks must be fast and non-blocking.
func (a *Application) Notify() {
	a.mu.Lock()
	subscribers := make([]func(), len(a.subscribers))
	copy(subscribers, a.subscribers)
	a.mu.Unlock()

	for _, fn := range subscribers {
		fn()
	}
}
