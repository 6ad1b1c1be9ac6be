package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: migrateV1},
		{version: 2, name: "export_view", up: migrateV2},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates the runs and tenders tables. The current-state uniqueness
// index on (portal_key, tender_id_extracted) is what keeps reconciliation an
// upsert rather than an append.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			portal_name TEXT NOT NULL,
			portal_key TEXT NOT NULL,
			base_url TEXT NOT NULL,
			scope_mode TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			status TEXT NOT NULL DEFAULT 'running',
			expected_total INTEGER DEFAULT 0,
			extracted_total INTEGER DEFAULT 0,
			skipped_existing INTEGER DEFAULT 0,
			partial_saved INTEGER DEFAULT 0,
			output_file_path TEXT,
			output_file_type TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS tenders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			portal_name TEXT NOT NULL,
			portal_key TEXT NOT NULL,
			tender_id_extracted TEXT NOT NULL,
			raw_tender_id TEXT,
			department_name TEXT,
			published_date TEXT,
			closing_date TEXT,
			closing_date_norm TEXT,
			opening_date TEXT,
			organisation_chain TEXT,
			title_ref TEXT,
			direct_url TEXT,
			status_url TEXT,
			emd_raw TEXT,
			emd_amount REAL,
			lifecycle TEXT NOT NULL DEFAULT 'active',
			cancel_source TEXT,
			first_seen_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tenders_current
			ON tenders(portal_key, tender_id_extracted)`,
		`CREATE INDEX IF NOT EXISTS idx_tenders_run_id ON tenders(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tenders_tender_id ON tenders(tender_id_extracted)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_portal_key ON runs(portal_key)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 creates the export view consumed by the exporter
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE VIEW IF NOT EXISTS v_tender_export AS
	SELECT
		t.portal_key,
		t.run_id,
		t.department_name,
		t.published_date,
		t.closing_date,
		t.opening_date,
		t.organisation_chain,
		t.title_ref,
		t.tender_id_extracted,
		t.direct_url,
		t.status_url,
		t.lifecycle,
		r.portal_name,
		r.scope_mode,
		r.status AS run_status
	FROM tenders t
	JOIN runs r ON r.id = t.run_id`
	_, err := tx.ExecContext(ctx, query)
	return err
}
