// Package storage persists relay state: the user registry (served and
// banned users), message correlations, small settings, and the operator
// audit log.
//
// Drivers:
//   - "memory": process-local maps, nothing survives a restart
//   - "file": JSON Lines journal compacted into a snapshot
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": PostgreSQL through pgx
package storage
