package database

import "time"

// Config holds database connection settings.
// FUNCTIONAL DISCOVERY: SQLite-specific knobs grouped here so the manager
// and the migration tooling share one source of connection truth
type Config struct {
	DatabasePath    string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}
