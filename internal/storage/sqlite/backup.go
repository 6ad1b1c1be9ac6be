package sqlite

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup tier retention: daily keeps the configured retention (floor 7),
// the other tiers are fixed.
const (
	weeklyKeep  = 16
	monthlyKeep = 24
	yearlyKeep  = 7
)

// backupIfDue writes today's backup if the current day has none, placing a
// copy into every tier bucket the timestamp qualifies for. Buckets are
// computed at write time; pruning is a scan under the backup root.
func (s *SQLiteDB) backupIfDue() error {
	now := time.Now()
	root := s.config.BackupDirectory

	dailyDir := filepath.Join(root, "daily")
	dailyName := backupFileName(now)
	dailyPath := filepath.Join(dailyDir, dailyName)

	if _, err := os.Stat(dailyPath); err == nil {
		return nil // today's backup already exists
	}

	if err := s.vacuumInto(dailyPath); err != nil {
		return fmt.Errorf("failed to write daily backup: %w", err)
	}
	s.logger.Info().Str("path", dailyPath).Msg("Daily backup written")

	// First backup of the week/month/year also lands in the wider tiers;
	// these are plain copies of the fresh daily snapshot
	for _, tier := range []struct {
		dir    string
		bucket string
	}{
		{"weekly", weekBucket(now)},
		{"monthly", now.Format("2006-01")},
		{"yearly", now.Format("2006")},
	} {
		tierDir := filepath.Join(root, tier.dir)
		if hasBucket(tierDir, tier.bucket) {
			continue
		}
		tierPath := filepath.Join(tierDir, tier.bucket+"_"+dailyName)
		if err := copyFile(dailyPath, tierPath); err != nil {
			s.logger.Warn().Err(err).Str("tier", tier.dir).Msg("Tier backup failed")
		}
	}

	return s.PruneBackups()
}

// PruneBackups removes backups beyond each tier's retention. Also wired to a
// daily cron entry so long-running processes prune without reopening.
func (s *SQLiteDB) PruneBackups() error {
	root := s.config.BackupDirectory
	if root == "" {
		return nil
	}

	dailyKeep := s.config.BackupRetentionDays
	if dailyKeep < 7 {
		dailyKeep = 7
	}

	tiers := map[string]int{
		"daily":   dailyKeep,
		"weekly":  weeklyKeep,
		"monthly": monthlyKeep,
		"yearly":  yearlyKeep,
	}

	for dir, keep := range tiers {
		if err := pruneDir(filepath.Join(root, dir), keep); err != nil {
			s.logger.Warn().Err(err).Str("tier", dir).Msg("Backup prune failed")
		}
	}
	return nil
}

// BackupNow writes any due backups and prunes. Entry point for the daily
// maintenance cron; no-op without a configured backup directory.
func (s *SQLiteDB) BackupNow() error {
	if s.config.BackupDirectory == "" {
		return nil
	}
	return s.backupIfDue()
}

// vacuumInto snapshots the live database through the open connection. Under
// WAL journaling a plain file copy of the main database misses whatever still
// sits in the -wal file and can tear mid-write; VACUUM INTO produces a
// complete, consistent single-file copy.
func (s *SQLiteDB) vacuumInto(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

func backupFileName(t time.Time) string {
	return "tenders_" + t.Format("20060102") + ".db"
}

// weekBucket returns the ISO year-week bucket, e.g. "2026-W34"
func weekBucket(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// hasBucket reports whether any file in dir belongs to the given bucket
func hasBucket(dir, bucket string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), bucket+"_") {
			return true
		}
	}
	return false
}

// pruneDir keeps the newest keep files (lexicographic name order matches
// chronological order for our timestamped names)
func pruneDir(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
