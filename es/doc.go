// Package es provides core event sourcing infrastructure.
//
// # Overview
//
// This package defines the fundamental types and interfaces:
//   - DomainEvent / EventMeta: immutable domain events
//   - Aggregate / Root: event-sourced consistency boundaries
//   - StoredEvent / Notification / Tracking: persisted record shapes
//   - DBTX: database transaction abstraction for the SQL adapters
//   - Logger: optional structured logging hook
//
// # Design Philosophy
//
// Clean Architecture: Core interfaces are database-agnostic. Infrastructure
// concerns (like PostgreSQL) are isolated in adapter packages.
//
// Explicit wiring: Components receive the collaborators they call (a
// Mapper, a Recorder, a NotificationLog). There is no ambient publish/
// subscribe bus and no reflection-based type discovery; event topics are
// registered explicitly at startup.
//
// Immutability: Events are value objects. They don't have identity until
// persisted; notifiable events are then assigned a notification id by the
// recorder.
//
// # Quick Start
//
// 1. Define an aggregate with a closed set of event variants:
//
//	type Opened struct {
//	    es.EventMeta
//	    Owner string `json:"owner"`
//	}
//
//	type Account struct {
//	    es.Aggregate
//	    Owner   string
//	    Balance int64
//	}
//
//	func (a *Account) Mutate(event es.DomainEvent) error {
//	    if err := a.Advance(event.Meta()); err != nil {
//	        return err
//	    }
//	    switch e := event.(type) {
//	    case *Opened:
//	        a.Owner = e.Owner
//	    // ... one case per variant
//	    }
//	    return nil
//	}
//
// 2. Register topics and build an event store:
//
//	registry := mapper.NewRegistry()
//	registry.RegisterEvent("Account.Opened", func() es.DomainEvent { return &Opened{} })
//
//	m := mapper.New(registry)
//	rec := sqlite.NewStore(db, sqlite.DefaultStoreConfig())
//	store := eventstore.New(m, rec)
//
// 3. Save and load:
//
//	store.Put(ctx, account.CollectPendingEvents())
//	events, err := store.Get(ctx, account.AggregateID(), nil, nil, false, 0)
//
// # Optimistic Concurrency
//
// Every stored event carries the aggregate version it produced. A unique
// constraint on (originator_id, originator_version) rejects concurrent
// writers; the event store surfaces this as ErrConcurrency. The core never
// retries; callers re-fetch the aggregate and reapply intent.
//
// # Notifications and Process Applications
//
// Recorders assign a gapless, strictly increasing notification id to every
// notifiable event of an application. The notification log paginates that
// total order; a process application consumes it exactly once by writing
// its own events and a tracking record in one atomic transaction. See the
// notificationlog, process and system packages.
package es
