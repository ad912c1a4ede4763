package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/storage"
)

// WriteRepository implements storage.TransferWriteRepository
// and stores transfer records in SQLite.
type WriteRepository struct {
	db         *sql.DB
	instanceID string
}

func NewWriteRepository(db *sql.DB, instanceID string) *WriteRepository {
	return &WriteRepository{db: db, instanceID: instanceID}
}

func (r *WriteRepository) Start(ctx context.Context, rec storage.TransferRecord) error {
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (job_id, chat_id, source_url, filename, status, size_bytes, locked_by, started_at)
		VALUES (?, ?, ?, ?, 'running', ?, ?, ?)`,
		rec.JobID, rec.ChatID, rec.SourceURL, rec.Filename, rec.SizeBytes, r.instanceID, startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer %s: %w", rec.JobID, err)
	}

	return nil
}

// Finish records the terminal state and releases the lock.
func (r *WriteRepository) Finish(ctx context.Context, jobID string, c storage.Completion) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers
		SET status = ?, stage = ?, provider = ?, link = ?, size_bytes = ?, error = ?, locked_by = NULL, finished_at = ?
		WHERE job_id = ?`,
		c.Status, c.Stage, c.Provider, c.Link, c.SizeBytes, c.Error, time.Now().UTC().Format(timeLayout), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish transfer %s: %w", jobID, err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("failed to finish transfer %s: %w", jobID, storage.ErrNotFound)
	}

	return nil
}

func (r *WriteRepository) InterruptOrphans(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers
		SET status = 'interrupted', locked_by = NULL, finished_at = ?
		WHERE status = 'running' AND (locked_by IS NULL OR locked_by != ?)`,
		time.Now().UTC().Format(timeLayout), r.instanceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to interrupt orphaned transfers: %w", err)
	}

	return res.RowsAffected()
}
