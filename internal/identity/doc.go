// Package identity answers "which account is active right now".
//
// A Resolver wraps one Source and may be queried before the identity
// subsystem has finished loading. When the source has no answer yet, the
// resolver waits (bounded, 2s by default) for the identity store to be marked
// rehydrated and asks once more. Concurrent callers share that wait.
//
// Resolution never fails loudly: source errors and panics are logged and the
// resolver reports no account, because persistence must not crash the state
// updates that trigger it.
//
// Sources:
//
//   - SourceFunc: adapts an in-process identity store.
//   - StaticSource: settable value, used by tests and account switching.
//   - FileSource: active account read from a file, optionally watched.
//   - TokenSource: account taken from the sub claim of an HS256 session token.
package identity
