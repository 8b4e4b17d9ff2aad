// Package process implements exactly-once event processing. A process
// application follows the notification logs of upstream applications,
// applies a policy to each notification, and commits the resulting events
// together with a tracking record in one atomic write.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/application"
	"github.com/getpup/pupflow/es/mapper"
	"github.com/getpup/pupflow/es/notificationlog"
	"github.com/getpup/pupflow/es/recorder"
)

// ErrUnknownUpstream indicates a pull for an upstream that was never
// registered with Follow.
var ErrUnknownUpstream = errors.New("unknown upstream")

// ProcessEvent collects the downstream events produced while processing one
// upstream notification. Everything collected is committed atomically with
// the notification's tracking record.
type ProcessEvent struct {
	notification es.Notification
	pending      []es.DomainEvent
}

// Notification returns the upstream notification being processed.
func (p *ProcessEvent) Notification() es.Notification {
	return p.notification
}

// Collect drains the pending events of the given aggregates into the
// processing batch.
func (p *ProcessEvent) Collect(roots ...es.Root) {
	for _, root := range roots {
		p.pending = append(p.pending, root.CollectPendingEvents()...)
	}
}

// CollectEvents adds bare domain events to the processing batch.
func (p *ProcessEvent) CollectEvents(events ...es.DomainEvent) {
	p.pending = append(p.pending, events...)
}

// Handler is the policy of a process application: the reaction to one
// upstream domain event. Handlers must be deterministic and side-effect
// free outside the collector; a redelivered notification may invoke the
// handler again, and only the first commit wins.
type Handler interface {
	HandleEvent(ctx context.Context, event es.DomainEvent, proc *ProcessEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event es.DomainEvent, proc *ProcessEvent) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event es.DomainEvent, proc *ProcessEvent) error {
	return f(ctx, event, proc)
}

// Application is an event-processing application. It is itself a full
// application: the events it produces feed its own notification log, so
// process applications compose into pipelines.
type Application struct {
	*application.Application

	recorder   recorder.ProcessRecorder
	handler    Handler
	pipelineID int
	logger     es.Logger

	mu        sync.Mutex
	upstreams map[string]*notificationlog.Reader
}

// Config contains configuration for a process Application.
type Config struct {
	// Logger is passed through to the underlying application.
	Logger es.Logger

	// SectionSize is the page size of this application's own log.
	SectionSize int

	// PipelineID distinguishes parallel deployments of the same system.
	PipelineID int
}

// DefaultConfig returns a process application configuration with default
// values.
func DefaultConfig() Config {
	return Config{SectionSize: notificationlog.DefaultSectionSize}
}

// Option is a functional option for configuring a process Application.
type Option func(*Config)

// WithLogger sets a logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSectionSize sets the page size of the application's own log.
func WithSectionSize(size int) Option {
	return func(c *Config) {
		c.SectionSize = size
	}
}

// WithPipelineID sets the pipeline id written into tracking records.
func WithPipelineID(id int) Option {
	return func(c *Config) {
		c.PipelineID = id
	}
}

// New creates a process application with the given policy handler.
func New(name string, m *mapper.Mapper, rec recorder.ProcessRecorder, handler Handler, opts ...Option) *Application {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	appOpts := []application.Option{application.WithSectionSize(config.SectionSize)}
	if config.Logger != nil {
		appOpts = append(appOpts, application.WithLogger(config.Logger))
	}

	return &Application{
		Application: application.New(name, m, rec, appOpts...),
		recorder:    rec,
		handler:     handler,
		pipelineID:  config.PipelineID,
		logger:      config.Logger,
		upstreams:   make(map[string]*notificationlog.Reader),
	}
}

// Follow registers an upstream notification log under the upstream
// application's name. Processing resumes from the durable tracking
// position, so following is repeatable across restarts.
func (a *Application) Follow(upstreamName string, log *notificationlog.Log) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upstreams[upstreamName] = notificationlog.NewReader(log)
}

// Upstreams lists the names of all followed applications.
func (a *Application) Upstreams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.upstreams))
	for name := range a.upstreams {
		names = append(names, name)
	}
	return names
}

// PullAndProcess reads all unseen notifications from the named upstream and
// processes them in notification order. It returns the number of
// notifications processed. The context is only checked between
// notifications; a notification that started processing runs to its commit.
func (a *Application) PullAndProcess(ctx context.Context, upstreamName string) (int, error) {
	a.mu.Lock()
	reader, ok := a.upstreams[upstreamName]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUpstream, upstreamName)
	}

	cursor, err := a.recorder.MaxTrackingID(ctx, upstreamName)
	if err != nil {
		return 0, fmt.Errorf("failed to read tracking position for %q: %w", upstreamName, err)
	}

	notifications, err := reader.Read(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to read notifications from %q: %w", upstreamName, err)
	}

	processed := 0
	for _, notification := range notifications {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := a.processNotification(ctx, upstreamName, notification); err != nil {
			return processed, err
		}
		processed++
	}

	if processed > 0 && a.logger != nil {
		a.logger.Debug(ctx, "notifications processed",
			"application", a.Name(),
			"upstream", upstreamName,
			"count", processed)
	}
	return processed, nil
}

// processNotification applies the policy to one notification and commits
// the reaction atomically with its tracking record. A notification whose
// tracking record already exists commits nothing.
func (a *Application) processNotification(ctx context.Context, upstreamName string, notification es.Notification) error {
	event, err := a.EventStore().Mapper().ToDomainEvent(notification.StoredEvent)
	if err != nil {
		return fmt.Errorf("notification %d from %q: %w", notification.ID, upstreamName, err)
	}

	proc := &ProcessEvent{notification: notification}
	if err := a.handler.HandleEvent(ctx, event, proc); err != nil {
		return fmt.Errorf("policy failed on notification %d from %q: %w", notification.ID, upstreamName, err)
	}

	stored, err := a.EventStore().MapEvents(proc.pending)
	if err != nil {
		return err
	}

	tracking := es.Tracking{
		ApplicationName: a.Name(),
		UpstreamName:    upstreamName,
		PipelineID:      a.pipelineID,
		NotificationID:  notification.ID,
	}
	if err := a.recorder.InsertEventsAndTracking(ctx, stored, tracking); err != nil {
		if errors.Is(err, recorder.ErrIntegrity) {
			// A duplicate tracking record means another pass already
			// committed this notification; the redelivery is dropped.
			// Any other integrity conflict is a real error.
			done, herr := a.recorder.HasTrackingRecord(ctx, upstreamName, a.pipelineID, notification.ID)
			if herr == nil && done {
				if a.logger != nil {
					a.logger.Debug(ctx, "notification already processed",
						"application", a.Name(),
						"upstream", upstreamName,
						"notification_id", notification.ID)
				}
				return nil
			}
		}
		return fmt.Errorf("failed to commit notification %d from %q: %w", notification.ID, upstreamName, err)
	}

	if len(stored) > 0 {
		a.Notify()
	}
	return nil
}
