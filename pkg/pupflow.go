// Package pupflow provides event sourcing capabilities for Go applications.
//
// This package serves as the main entry point for the pupflow library.
// For the core event sourcing functionality, see the es package and its subpackages:
//
//	es                 - Core types and interfaces
//	es/mapper          - Event serialization, compression and encryption
//	es/recorder        - Recorder interfaces and guarantees
//	es/eventstore      - Mapper + recorder composition
//	es/repository      - Aggregate reconstruction and snapshotting
//	es/notificationlog - Outward-facing event pagination
//	es/process         - Exactly-once event processing
//	es/system          - Pipelines and runners
//	es/adapters/...    - Memory, SQLite, PostgreSQL and MySQL recorders
//	es/migrations      - Migration generation
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/getpup/pupflow/cmd/migrate-gen -adapter sqlite -output migrations
//
//  2. Build an application and save an aggregate:
//     app := application.New("bank", estest.NewMapper(), sqlite.NewStore(db, sqlite.DefaultStoreConfig()))
//     repo := app.Repository(func() es.Root { return &estest.BankAccount{} })
//     account, _ := estest.OpenAccount("Alice Example")
//     repo.Save(ctx, account)
//
//  3. Process its events downstream:
//     audit := process.New("audit", auditMapper, auditStore, process.HandlerFunc(policy))
//     audit.Follow(app.Name(), app.NotificationLog())
//     audit.PullAndProcess(ctx, app.Name())
//
// See the examples directory for complete working examples.
package pupflow

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
