// Package store provides the embedded document database behind every
// account-scoped persistence adapter.
//
// # Architecture
//
// The database is a single SQLite file with one table per domain:
//
//   - sessions: chat sessions (key sessionId)
//   - drafts: capability-builder drafts (key draftId)
//   - installed: installed capabilities (key capId)
//   - files: stored file metadata (key fileId)
//   - memories: semantic memory records (key memoryId)
//   - accounts: account credential bundles (key did)
//   - settings: per-user settings (key settingId)
//
// Every table has the same row layout, the entity row:
//
//	(<keyField> TEXT, accountId TEXT, data TEXT, updatedAt INTEGER)
//	PRIMARY KEY (<keyField>, accountId)
//
// data is the opaque JSON payload of the entity and updatedAt is unix
// milliseconds. Table.MarshalRow renders a row in this wire format.
//
// The DocumentStore interface is deliberately narrow: list, replace, delete
// and count rows for one account (or for the whole table). There are no
// predicate queries and no transactions spanning tables. ReplaceRows is the
// workhorse: delete every row of the account, then insert the new set, in a
// single transaction.
//
// # SQLite Configuration
//
// Two drivers are supported:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// File databases run in WAL mode with a 5s busy timeout. ":memory:" gives a
// throwaway database pinned to a single connection.
//
// # Migrations
//
// The schema is versioned with PRAGMA user_version. Migrations run at open,
// in order, each in its own transaction. A database newer than the code is
// refused.
//
// # Testing
//
// Use NewMockStore() for unit tests; it implements DocumentStore in memory and
// can inject a failure into the next call with FailNext.
//
// Use NewSQLiteStore(":memory:", Options{}) for integration tests with real SQLite.
package store
