// Package adapter translates a store's flat persistence contract into entity
// rows of the document store, partitioned by the active account.
//
// An Adapter is generic over the collection shape a domain store keeps in
// memory. The Codec decides how that collection explodes into rows and how it
// is reassembled:
//
//   - MapCodec: map[string]T, entity id is the map key
//   - ListCodec: []T, entity id taken from each element, order preserved
//
// The flat contract (Load, Save, Remove) speaks the persisted blob format,
//
//	{"state": {"<field>": <collection>}, "version": <n>}
//
// and never returns errors. No account means Load reports nothing persisted
// and Save does nothing. Database and decoding errors are logged and treated
// the same way, so persistence can never break a state update.
//
// Save is a full replace of the account's rows in one transaction. A missing
// or empty field is "nothing to persist yet" and leaves stored rows alone;
// use Remove or DeleteEntity to actually delete.
//
// The account-record table is the one exception to account scoping: with
// ScopeAllAccounts the adapter loads every row, Save replaces the whole table
// filing each row under its own entity id, and Remove clears every account.
package adapter
