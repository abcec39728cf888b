package repository

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hyeonbin/stayscan/internal/database/migrations"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestStation is a helper to insert a test station directly.
func InsertTestStation(t *testing.T, db *sql.DB, id, name, line string, priority int) {
	t.Helper()
	query := `
		INSERT INTO stations (id, name, line, latitude, longitude, priority, created_at)
		VALUES (?, ?, ?, 37.5, 127.0, ?, datetime('now'))
	`
	if _, err := db.Exec(query, id, name, line, priority); err != nil {
		t.Fatalf("failed to insert test station: %v", err)
	}
}

// InsertTestListing is a helper to insert a test listing directly.
func InsertTestListing(t *testing.T, db *sql.DB, id, upstreamID, stationID, roomType string) {
	t.Helper()
	query := `
		INSERT INTO listings (id, upstream_id, nearest_station_id, room_type, first_seen, last_seen)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, upstreamID, stationID, roomType); err != nil {
		t.Fatalf("failed to insert test listing: %v", err)
	}
}
