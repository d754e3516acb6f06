// Package database provides schema instantiation
package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
// All statements are idempotent so the schema can be re-applied on every
// startup.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// heartbeats holds at most one hour of per-client state; everything else is
// PII-free aggregate data. Distribution columns are JSON blobs keyed by
// sanitized label.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS heartbeats (client_id TEXT PRIMARY KEY, version TEXT, browser TEXT, os TEXT, last_seen INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rollup_hours (window_start INTEGER PRIMARY KEY, online_users INTEGER NOT NULL, version_totals TEXT NOT NULL, browser_totals TEXT NOT NULL, os_totals TEXT NOT NULL, window_end INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rollup_days (window_start INTEGER PRIMARY KEY, online_users INTEGER NOT NULL, version_totals TEXT NOT NULL, browser_totals TEXT NOT NULL, os_totals TEXT NOT NULL, window_end INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rollup_weeks (window_start INTEGER PRIMARY KEY, online_users INTEGER NOT NULL, version_totals TEXT NOT NULL, browser_totals TEXT NOT NULL, os_totals TEXT NOT NULL, window_end INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rollup_months (window_start INTEGER PRIMARY KEY, online_users INTEGER NOT NULL, version_totals TEXT NOT NULL, browser_totals TEXT NOT NULL, os_totals TEXT NOT NULL, window_end INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS rollup_years (window_start INTEGER PRIMARY KEY, online_users INTEGER NOT NULL, version_totals TEXT NOT NULL, browser_totals TEXT NOT NULL, os_totals TEXT NOT NULL, window_end INTEGER NOT NULL)`,
}

// The rollup tables need no extra indexes: every scan filters and orders on
// window_start, which the primary key already covers.
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_heartbeats_last_seen ON heartbeats(last_seen)`,
}
