// Package sqlstore provides the durable task.TaskStore and task.RunStore
// backends on top of database/sql. The same queries run against PostgreSQL
// (through pgx's stdlib driver) and SQLite (through modernc.org/sqlite).
//
// Each row carries a version column. Status and metadata updates read the row,
// apply the change in Go and write it back with a compare-and-swap on version,
// retrying on conflict. That keeps SetStatus atomic across several worker
// processes sharing one database without holding locks across the read.
package sqlstore
