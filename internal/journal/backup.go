package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BackupConfig controls periodic journal snapshots.
type BackupConfig struct {
	Dir           string
	Interval      time.Duration
	RetentionDays int
}

type BackupService struct {
	db     *DB
	config BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg BackupConfig, logger *zerolog.Logger) *BackupService {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &BackupService{db: db, config: cfg, logger: logger}
}

// Start snapshots the journal once and then every interval until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if s.config.Dir == "" {
		s.logger.Info().Msg("journal backup is disabled")
		return
	}
	s.logger.Info().Dur("interval", s.config.Interval).Str("dir", s.config.Dir).Msg("journal backup started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runOnce(ctx, now)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context, now time.Time) {
	path, err := s.PerformBackup(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal backup failed")
		return
	}
	s.logger.Info().Str("path", path).Msg("journal backup completed")

	deleted, err := s.CleanupOldBackups(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal backup cleanup failed")
	} else if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("cleaned up old journal backups")
	}
}

// PerformBackup writes a consistent copy of the journal with VACUUM INTO.
func (s *BackupService) PerformBackup(ctx context.Context, now time.Time) (string, error) {
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(s.config.Dir, fmt.Sprintf("journal_%s.db", now.Format("20060102_150405")))
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

// CleanupOldBackups removes snapshots older than the retention window.
func (s *BackupService) CleanupOldBackups(now time.Time) (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	files, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -s.config.RetentionDays)
	deleted := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "journal_") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.config.Dir, file.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
