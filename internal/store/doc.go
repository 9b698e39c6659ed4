// Package store defines the shared persistence vocabulary used by every task and
// run store backend: sentinel errors, the StoreError wrapper, the DBTX abstraction
// and the transaction helper. Backends live in internal/task (in-memory) and
// internal/platform/sqlstore (PostgreSQL / SQLite).
package store
