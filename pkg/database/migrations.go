package database

import (
	"database/sql"
	"fmt"
)

// Migration is one ordered schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are applied in slice order; versions already recorded in
// schema_migrations are skipped.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "session directory",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				room_key TEXT NOT NULL,
				name TEXT NOT NULL,
				begin_time DATETIME NOT NULL,
				end_time DATETIME NOT NULL,
				participant_types TEXT NOT NULL,
				metadata TEXT,
				status TEXT NOT NULL DEFAULT 'scheduled'
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_room_id ON sessions(room_key, id);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		`,
	},
	{
		Version:     "002",
		Description: "case-insensitive name search",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name COLLATE NOCASE);
		`,
	},
}

// MigrationManager applies pending migrations against one database.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies every migration not yet recorded, each inside
// its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

// ValidateSchema ensures the database matches what the directory
// expects before the application starts serving.
func (m *MigrationManager) ValidateSchema() error {
	for _, table := range []string{"sessions", "schema_migrations"} {
		exists, err := m.tableExists(table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	for _, index := range []string{"idx_sessions_room_id", "idx_sessions_status", "idx_sessions_name"} {
		exists, err := m.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MigrationManager) tableExists(name string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	return count > 0, err
}

func (m *MigrationManager) indexExists(name string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", name,
	).Scan(&count)
	return count > 0, err
}
