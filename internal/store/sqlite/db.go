// Package sqlite provides the relational store backend over an
// embedded SQLite database. System tables use the s_ prefix and
// relationship tables the _rel suffix; schema evolution runs through
// versioned, checksummed migrations recorded in s_schema_version.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// DB wraps the sql handle.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Serialized access; modernc's driver is not safe for concurrent
	// writers on one connection.
	handle.SetMaxOpenConns(1)

	if _, err := handle.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		handle.Close()
		return nil, err
	}

	db := &DB{sql: handle}
	if err := db.Migrate(ctx); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Migration is one versioned schema change. Down is optional.
type Migration struct {
	Version     string
	Description string
	Up          string
	Down        string
}

// Checksum returns the migration's content checksum.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.Up))
	return hex.EncodeToString(sum[:])[:16]
}

// Migrate applies all pending migrations in version order.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS s_schema_version (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			version     TEXT    NOT NULL UNIQUE,
			description TEXT,
			checksum    TEXT,
			applied_at  TEXT    NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("create s_schema_version: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.sql.QueryContext(ctx, "SELECT version FROM s_schema_version")
	if err != nil {
		return err
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.sql.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO s_schema_version (version, description, checksum) VALUES (?, ?, ?)",
			migration.Version, migration.Description, migration.Checksum()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		logging.Info().Str("version", migration.Version).
			Str("description", migration.Description).Msg("applied migration")
	}
	return nil
}

// Rollback reverts the most recent migration, when it defines a Down.
func (db *DB) Rollback(ctx context.Context) error {
	var version string
	err := db.sql.QueryRowContext(ctx,
		"SELECT version FROM s_schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var target *Migration
	for i := range migrations {
		if migrations[i].Version == version {
			target = &migrations[i]
			break
		}
	}
	if target == nil || target.Down == "" {
		return fmt.Errorf("migration %s has no rollback", version)
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, target.Down); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM s_schema_version WHERE version = ?", version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the latest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := db.sql.QueryRowContext(ctx,
		"SELECT version FROM s_schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return version, err
}

// migrations is the ordered migration list.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial schema: users, sessions, messages",
		Up: `
			CREATE TABLE s_user (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id      TEXT NOT NULL UNIQUE,
				username     TEXT,
				display_name TEXT,
				user_source  TEXT NOT NULL DEFAULT 'local',
				role         TEXT,
				status       TEXT NOT NULL DEFAULT 'active',
				created_at   TEXT NOT NULL
			);
			CREATE TABLE s_session (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id   TEXT NOT NULL UNIQUE,
				user_id      TEXT NOT NULL,
				assistant_id TEXT NOT NULL DEFAULT '',
				title        TEXT,
				state        TEXT,
				metadata     TEXT,
				archived     INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL,
				last_active  TEXT NOT NULL
			);
			CREATE INDEX idx_s_session_user ON s_session(user_id);
			CREATE TABLE s_message (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id TEXT NOT NULL UNIQUE,
				role       TEXT NOT NULL,
				content    TEXT,
				tool_calls TEXT,
				metadata   TEXT,
				created_at TEXT NOT NULL
			);
			CREATE TABLE s_session_message_rel (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id      TEXT    NOT NULL,
				message_id      TEXT    NOT NULL UNIQUE,
				sequence_number INTEGER NOT NULL,
				UNIQUE (session_id, sequence_number)
			);
			CREATE INDEX idx_s_session_message_rel_session ON s_session_message_rel(session_id);`,
		Down: `
			DROP TABLE IF EXISTS s_session_message_rel;
			DROP TABLE IF EXISTS s_message;
			DROP TABLE IF EXISTS s_session;
			DROP TABLE IF EXISTS s_user;`,
	},
	{
		Version:     "002",
		Description: "per-user MCP server configurations",
		Up: `
			CREATE TABLE s_mcp_server (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id      TEXT NOT NULL,
				server_name  TEXT NOT NULL,
				command      TEXT,
				args         TEXT,
				env          TEXT,
				url          TEXT,
				transport    TEXT,
				headers      TEXT,
				disabled     INTEGER NOT NULL DEFAULT 0,
				auto_approve TEXT,
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL,
				UNIQUE (user_id, server_name)
			);
			CREATE INDEX idx_s_mcp_server_user ON s_mcp_server(user_id);`,
		Down: `DROP TABLE IF EXISTS s_mcp_server;`,
	},
}
