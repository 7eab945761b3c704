// Package store holds the durable collaborators behind the auction engine:
// the account directory, the auction catalog, the subscription index and the
// request sequence counter.
//
// Three backends implement the same Store interface: MemoryStore for tests
// and single-process runs, BoltStore for single-file durability, and
// PostgresStore for deployments that already operate Postgres. All of them
// honor the same contracts: names are unique case-insensitively, capacity
// ceilings are enforced at insert, the catalog's Update runs its closure
// atomically against the stored record, and Sequence.Next persists every
// allocation before returning it.
package store
