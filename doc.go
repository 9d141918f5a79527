// Package funk implements a transactional, versioned key/value record store
// that lives in a fixed-size workspace region shared between processes.
//
// A store holds one canonical state (the last published transaction) and a
// tree of in-preparation transactions forked from it. Each in-preparation
// transaction is a copy-on-write overlay: a record it does not hold is seen
// through its ancestors.
//
// # Layout
//
// Everything a store owns lives in workspace allocations carrying the store
// tag: a small header, the transaction map and the record map. Links between
// transactions and records are uint32 indices into those maps, with
// NullIndex meaning "none". No Go pointers are stored, so any process that
// maps the same workspace can Join the store.
//
// # Transactions
//
//	txn, err := store.Prepare(nil, funk.NewXID())  // fork from canonical
//	child, err := store.Prepare(txn, funk.NewXID()) // txn is now frozen
//	n, err := store.Publish(child)                  // publishes txn, then child
//
// A transaction with children is frozen: its records can be read but not
// inserted, modified or removed. Publishing a transaction publishes its
// ancestors oldest first, cancels every competing history and makes its
// children children of the canonical state.
//
// # Records
//
// Records are addressed by (XID, Key). Query looks in one transaction only,
// QueryGlobal walks up to the canonical state. Remove with erase set on a
// branch record leaves a tombstone (FlagErase) when an ancestor still holds
// the key; publishing the branch deletes the ancestor copy.
//
// # Concurrency
//
// A store does no locking. Queries may run concurrently with each other;
// every mutation must be serialized by the caller.
//
// # Errors
//
// Usage errors are returned and wrap one of the Err* sentinels. Internal
// inconsistencies found while operating are fatal: the store logs them and
// panics with a *CorruptionError. Verify audits the whole structure without
// panicking.
package funk
