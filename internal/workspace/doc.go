// Package workspace assembles the hearth persistence engine.
//
// A Workspace owns one document store and registers these stores with a
// rehydration coordinator:
//
//   - identity: account records, kept in the accounts table under each
//     record's own DID rather than the active account
//   - sessions: chat sessions (only the sessions map is persisted)
//   - capbuilder: capability drafts and installed capabilities, two tables
//     presented as one blob
//   - files: metadata of attached files
//   - settings: per-account key/value settings
//
// plus the semantic memory index.
//
// # Identity Sources
//
// The active account comes from one of three sources, selected by
// identity.source in the config:
//
//   - store: the account record marked active in the identity store
//   - file: the first line of a file, watched for changes
//   - token: the subject of a signed JWT read from a file
//
// # Hydration
//
// Hydrate loads every store concurrently. Stores scoped to the active account
// resolve it through the shared Resolver, which waits for the identity store
// to finish rehydrating when no account is known yet. A store that loads
// before identity is ready therefore still sees the right account.
//
// SwitchAccount and Logout drop the in-memory state of the account-scoped
// stores; SwitchAccount then hydrates them again for the new account.
// Persisted rows are never deleted by a switch or logout. Wipe deletes the
// active account's rows.
package workspace
