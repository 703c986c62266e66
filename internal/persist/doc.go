// Package persist builds persistence configs for domain stores and provides
// the reactive Store that consumes them.
//
// NewConfig registers the store with the rehydration coordinator the moment
// it is called, so it must run where the store is constructed. The config's
// OnRehydrateStorage hook marks the store rehydrated after every hydration,
// including a first run with nothing persisted; "no data yet" is never
// mistaken for "still loading".
//
// Store.Set persists only what Partialize selects, wrapped as
//
//	{"state": <partialized state>, "version": <n>}
//
// through the config's adapter.Storage.
package persist
