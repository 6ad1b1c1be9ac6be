package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/tenderwatch/internal/models"
)

// StartRun creates a run record with status running. Serialized against
// finalization of the same portal via the portal lock.
func (s *TenderStorage) StartRun(ctx context.Context, portalName, baseURL string, scope models.ScopeMode) (int64, error) {
	key := portalKey(portalName)
	lock := s.portalLock(key)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.db.ExecContext(ctx, `
		INSERT INTO runs (portal_name, portal_key, base_url, scope_mode, started_at, status)
		VALUES (?, ?, ?, ?, ?, 'running')`,
		portalName, key, baseURL, string(scope), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	s.logger.Info().
		Str("portal", portalName).
		Str("scope", string(scope)).
		Int64("run_id", runID).
		Msg("Run started")
	return runID, nil
}

// FinalizeRun sets completed-at and writes the run counters atomically.
// Idempotent when called again with identical values: completed_at is only
// stamped the first time.
func (s *TenderStorage) FinalizeRun(ctx context.Context, runID int64, fin models.RunFinalization) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	lock := s.portalLock(portalKey(run.PortalName))
	lock.Lock()
	defer lock.Unlock()

	partial := 0
	if fin.PartialSaved {
		partial = 1
	}

	_, err = s.db.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			completed_at = COALESCE(completed_at, ?),
			expected_total = ?,
			extracted_total = ?,
			skipped_existing = ?,
			partial_saved = ?,
			output_file_path = ?,
			output_file_type = ?
		WHERE id = ?`,
		string(fin.Status), time.Now().Unix(),
		fin.ExpectedTotal, fin.ExtractedTotal, fin.SkippedExisting,
		partial, fin.OutputFilePath, fin.OutputFileType, runID)
	if err != nil {
		return fmt.Errorf("failed to finalize run %d: %w", runID, err)
	}

	s.logger.Info().
		Int64("run_id", runID).
		Str("status", string(fin.Status)).
		Int("extracted", fin.ExtractedTotal).
		Int("skipped", fin.SkippedExisting).
		Bool("partial", fin.PartialSaved).
		Msg("Run finalized")
	return nil
}

// GetRun retrieves a run by id
func (s *TenderStorage) GetRun(ctx context.Context, runID int64) (*models.Run, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, portal_name, base_url, scope_mode, started_at, completed_at,
		       status, expected_total, extracted_total, skipped_existing,
		       partial_saved, output_file_path, output_file_type
		FROM runs WHERE id = ?`, runID)

	var run models.Run
	var scope, status string
	var startedAt int64
	var completedAt sql.NullInt64
	var partial int
	var outPath, outType sql.NullString

	err := row.Scan(&run.ID, &run.PortalName, &run.BaseURL, &scope, &startedAt,
		&completedAt, &status, &run.ExpectedTotal, &run.ExtractedTotal,
		&run.SkippedExisting, &partial, &outPath, &outType)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}

	run.ScopeMode = models.ScopeMode(scope)
	run.Status = models.RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		run.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	run.PartialSaved = partial != 0
	run.OutputFilePath = outPath.String
	run.OutputFileType = outType.String
	return &run, nil
}

// ReplaceRunTenders removes any rows previously attached to this run and
// inserts the supplied list in one transaction. Rows colliding with another
// run's current row supersede it in place (the current-state index is keyed
// on the canonical pair, not the run).
func (s *TenderStorage) ReplaceRunTenders(ctx context.Context, runID int64, rows []models.Tender) (int, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	key := portalKey(run.PortalName)

	lock := s.portalLock(key)
	lock.Lock()
	defer lock.Unlock()

	inserted, err := s.replaceRunTendersTx(ctx, runID, run.PortalName, key, rows)
	if err != nil && isConflict(err) {
		time.Sleep(conflictRetryDelay)
		inserted, err = s.replaceRunTendersTx(ctx, runID, run.PortalName, key, rows)
	}
	if err != nil {
		return 0, err
	}

	s.logger.Debug().
		Int64("run_id", runID).
		Int("inserted", inserted).
		Msg("Run tenders replaced")
	return inserted, nil
}

func (s *TenderStorage) replaceRunTendersTx(ctx context.Context, runID int64, portalName, key string, rows []models.Tender) (int, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenders WHERE run_id = ?`, runID); err != nil {
		return 0, fmt.Errorf("failed to clear run tenders: %w", err)
	}

	now := time.Now().Unix()
	inserted := 0
	for _, row := range rows {
		if err := insertOrSupersede(ctx, tx, runID, portalName, key, row, now); err != nil {
			return 0, fmt.Errorf("failed to insert tender %s: %w", row.TenderID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run tenders: %w", err)
	}
	return inserted, nil
}

// insertOrSupersede writes one tender row, superseding the current row for
// the same canonical pair if one exists. Sticky cancel: an existing cancelled
// lifecycle is preserved.
func insertOrSupersede(ctx context.Context, tx *sql.Tx, runID int64, portalName, key string, row models.Tender, now int64) error {
	lifecycle := row.Lifecycle
	if lifecycle == "" {
		lifecycle = models.TenderActive
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenders (
			run_id, portal_name, portal_key, tender_id_extracted, raw_tender_id,
			department_name, published_date, closing_date, closing_date_norm,
			opening_date, organisation_chain, title_ref, direct_url, status_url,
			emd_raw, emd_amount, lifecycle, first_seen_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal_key, tender_id_extracted) DO UPDATE SET
			run_id = excluded.run_id,
			raw_tender_id = excluded.raw_tender_id,
			department_name = excluded.department_name,
			published_date = excluded.published_date,
			closing_date = excluded.closing_date,
			closing_date_norm = excluded.closing_date_norm,
			opening_date = excluded.opening_date,
			organisation_chain = excluded.organisation_chain,
			title_ref = excluded.title_ref,
			direct_url = excluded.direct_url,
			status_url = excluded.status_url,
			emd_raw = excluded.emd_raw,
			emd_amount = excluded.emd_amount,
			lifecycle = CASE WHEN tenders.lifecycle = 'cancelled' THEN 'cancelled' ELSE excluded.lifecycle END,
			last_seen_at = excluded.last_seen_at`,
		runID, portalName, key, row.TenderID, row.RawTenderID,
		row.DepartmentName, row.PublishedDate, row.ClosingDate,
		models.NormalizeClosingDate(row.ClosingDate),
		row.OpeningDate, row.OrganisationChain, row.TitleRef,
		row.DirectURL, row.StatusURL, row.EMDRaw, row.EMDAmount,
		string(lifecycle), now, now)
	return err
}

// DeleteRun deletes a run and its in-run tender rows (cascade)
func (s *TenderStorage) DeleteRun(ctx context.Context, runID int64) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %d: %w", runID, err)
	}
	return nil
}
