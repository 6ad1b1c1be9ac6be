package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/tenderwatch/internal/interfaces"
	"github.com/ternarybob/tenderwatch/internal/models"
)

// UpsertCurrentTenders applies the reconciliation rule to each row in one
// transaction per department batch:
//
//	absent                      -> insert, inserted-new
//	present, same closing date  -> touch last-seen, unchanged
//	present, date differs       -> update mutable attrs, updated-closing-date
//
// A cancelled lifecycle is sticky through updates. One retry on SQL-level
// conflict; persistent conflict surfaces as ErrStoreConflict.
func (s *TenderStorage) UpsertCurrentTenders(ctx context.Context, portalName string, rows []models.Tender) (models.UpsertCounters, error) {
	key := portalKey(portalName)
	lock := s.portalLock(key)
	lock.Lock()
	defer lock.Unlock()

	counters, err := s.upsertTx(ctx, portalName, key, rows)
	if err != nil && isConflict(err) {
		s.logger.Warn().Err(err).Str("portal", portalName).Msg("Upsert conflict, retrying once")
		time.Sleep(conflictRetryDelay)
		counters, err = s.upsertTx(ctx, portalName, key, rows)
		if err != nil && isConflict(err) {
			return counters, fmt.Errorf("%w: %v", interfaces.ErrStoreConflict, err)
		}
	}
	return counters, err
}

func (s *TenderStorage) upsertTx(ctx context.Context, portalName, key string, rows []models.Tender) (models.UpsertCounters, error) {
	var counters models.UpsertCounters

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return counters, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, row := range rows {
		var existingNorm string
		err := tx.QueryRowContext(ctx, `
			SELECT closing_date_norm FROM tenders
			WHERE portal_key = ? AND tender_id_extracted = ?`,
			key, row.TenderID).Scan(&existingNorm)

		switch {
		case err == sql.ErrNoRows:
			if err := insertOrSupersede(ctx, tx, row.RunID, portalName, key, row, now); err != nil {
				return counters, fmt.Errorf("failed to insert tender %s: %w", row.TenderID, err)
			}
			counters.InsertedNew++

		case err != nil:
			return counters, fmt.Errorf("failed to look up tender %s: %w", row.TenderID, err)

		case existingNorm == models.NormalizeClosingDate(row.ClosingDate):
			if _, err := tx.ExecContext(ctx, `
				UPDATE tenders SET last_seen_at = ?
				WHERE portal_key = ? AND tender_id_extracted = ?`,
				now, key, row.TenderID); err != nil {
				return counters, fmt.Errorf("failed to touch tender %s: %w", row.TenderID, err)
			}
			counters.Unchanged++

		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE tenders SET
					run_id = ?,
					raw_tender_id = ?,
					department_name = ?,
					published_date = ?,
					closing_date = ?,
					closing_date_norm = ?,
					opening_date = ?,
					organisation_chain = ?,
					title_ref = ?,
					direct_url = ?,
					status_url = ?,
					emd_raw = ?,
					emd_amount = ?,
					last_seen_at = ?
				WHERE portal_key = ? AND tender_id_extracted = ?`,
				row.RunID, row.RawTenderID, row.DepartmentName, row.PublishedDate,
				row.ClosingDate, models.NormalizeClosingDate(row.ClosingDate),
				row.OpeningDate, row.OrganisationChain, row.TitleRef,
				row.DirectURL, row.StatusURL, row.EMDRaw, row.EMDAmount,
				now, key, row.TenderID); err != nil {
				return counters, fmt.Errorf("failed to update tender %s: %w", row.TenderID, err)
			}
			counters.UpdatedClosingDate++
		}
	}

	if err := tx.Commit(); err != nil {
		return counters, fmt.Errorf("failed to commit upsert: %w", err)
	}

	s.logger.Debug().
		Str("portal", portalName).
		Int("inserted", counters.InsertedNew).
		Int("updated", counters.UpdatedClosingDate).
		Int("unchanged", counters.Unchanged).
		Msg("Tender batch reconciled")
	return counters, nil
}

// ExistingTenderIDsForPortal returns the set of canonical ids currently in
// the store for a portal. Used as the fast-path duplicate filter at the start
// of a portal run.
func (s *TenderStorage) ExistingTenderIDsForPortal(ctx context.Context, portalName string) (map[string]struct{}, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT tender_id_extracted FROM tenders WHERE portal_key = ?`,
		portalKey(portalName))
	if err != nil {
		return nil, fmt.Errorf("failed to load existing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ExistingTenderSnapshotForPortal maps canonical id to normalized closing
// date, letting the scraper decide whether a known id is actually unchanged.
func (s *TenderStorage) ExistingTenderSnapshotForPortal(ctx context.Context, portalName string) (map[string]string, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT tender_id_extracted, closing_date_norm FROM tenders WHERE portal_key = ?`,
		portalKey(portalName))
	if err != nil {
		return nil, fmt.Errorf("failed to load tender snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]string)
	for rows.Next() {
		var id string
		var norm sql.NullString
		if err := rows.Scan(&id, &norm); err != nil {
			return nil, err
		}
		snapshot[id] = norm.String
	}
	return snapshot, rows.Err()
}

// MarkCancelled transitions lifecycle to cancelled for each id that currently
// exists under the portal, recording the source tag. Returns the number of
// rows updated.
func (s *TenderStorage) MarkCancelled(ctx context.Context, portalName string, ids []string, sourceTag string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	key := portalKey(portalName)
	lock := s.portalLock(key)
	lock.Lock()
	defer lock.Unlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, string(models.TenderCancelled), sourceTag, key)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE tenders SET lifecycle = ?, cancel_source = ?
		WHERE portal_key = ? AND tender_id_extracted IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark cancelled: %w", err)
	}

	updated, _ := res.RowsAffected()
	s.logger.Info().
		Str("portal", portalName).
		Str("source", sourceTag).
		Int64("updated", updated).
		Msg("Tenders marked cancelled")
	return int(updated), nil
}

// CurrentTendersForPortal returns the portal's current-state rows in stable
// export order (department, then canonical id).
func (s *TenderStorage) CurrentTendersForPortal(ctx context.Context, portalName string) ([]models.Tender, error) {
	return s.queryTenders(ctx, `
		SELECT run_id, portal_name, tender_id_extracted, raw_tender_id,
		       department_name, published_date, closing_date, opening_date,
		       organisation_chain, title_ref, direct_url, status_url,
		       emd_raw, emd_amount, lifecycle, first_seen_at, last_seen_at
		FROM tenders WHERE portal_key = ?
		ORDER BY department_name, tender_id_extracted`,
		portalKey(portalName))
}

// TendersForRun returns the rows attached to one run, in insertion order
func (s *TenderStorage) TendersForRun(ctx context.Context, runID int64) ([]models.Tender, error) {
	return s.queryTenders(ctx, `
		SELECT run_id, portal_name, tender_id_extracted, raw_tender_id,
		       department_name, published_date, closing_date, opening_date,
		       organisation_chain, title_ref, direct_url, status_url,
		       emd_raw, emd_amount, lifecycle, first_seen_at, last_seen_at
		FROM tenders WHERE run_id = ?
		ORDER BY id`, runID)
}

func (s *TenderStorage) queryTenders(ctx context.Context, query string, arg interface{}) ([]models.Tender, error) {
	rows, err := s.db.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenders: %w", err)
	}
	defer rows.Close()

	var tenders []models.Tender
	for rows.Next() {
		var t models.Tender
		var lifecycle string
		var firstSeen, lastSeen int64
		var rawID, dept, pub, closing, opening, chain, title, direct, status, emdRaw sql.NullString
		var emdAmount sql.NullFloat64

		err := rows.Scan(&t.RunID, &t.PortalName, &t.TenderID, &rawID,
			&dept, &pub, &closing, &opening, &chain, &title, &direct, &status,
			&emdRaw, &emdAmount, &lifecycle, &firstSeen, &lastSeen)
		if err != nil {
			return nil, err
		}

		t.RawTenderID = rawID.String
		t.DepartmentName = dept.String
		t.PublishedDate = pub.String
		t.ClosingDate = closing.String
		t.OpeningDate = opening.String
		t.OrganisationChain = chain.String
		t.TitleRef = title.String
		t.DirectURL = direct.String
		t.StatusURL = status.String
		t.EMDRaw = emdRaw.String
		t.EMDAmount = emdAmount.Float64
		t.Lifecycle = models.TenderLifecycle(lifecycle)
		t.FirstSeenAt = time.Unix(firstSeen, 0)
		t.LastSeenAt = time.Unix(lastSeen, 0)
		tenders = append(tenders, t)
	}
	return tenders, rows.Err()
}
