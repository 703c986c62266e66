// Package rehydrate tracks whether each persisted store has loaded its state.
//
// # Overview
//
// Stores are defined independently and have no shared parent, so a single
// Coordinator acts as the meeting point: every store registers itself when its
// persistence config is built and marks itself rehydrated once its first load
// callback fires. Consumers ask IsAllRehydrated, wait on one store with
// WaitFor, or Subscribe to be told about every change.
//
// # Ordering
//
// A store must call RegisterStore at construction time, before any consumer
// asks IsAllRehydrated. With nothing registered IsAllRehydrated is true, so
// early-boot consumers are never blocked forever, but a store that registers
// late can be raced past.
//
// # Lifetime
//
// Registrations live for the process lifetime and a rehydrated store is never
// un-marked. Default returns the process-wide instance; tests call Reset on it
// (or build their own with New) to start from a clean registry.
package rehydrate
