package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/storage"
)

const selectColumns = `job_id, chat_id, source_url, filename, status, stage, provider, link,
	size_bytes, error, locked_by, started_at, finished_at`

type ReadRepository struct {
	db *sql.DB
}

func NewReadRepository(dbConn *sql.DB) *ReadRepository {
	return &ReadRepository{db: dbConn}
}

func (r *ReadRepository) Recent(ctx context.Context, chatID int64, limit int) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transfers WHERE chat_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent transfers: %w", err)
	}

	return scanRecords(rows)
}

// Active returns transfers that are still running.
func (r *ReadRepository) Active(ctx context.Context) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transfers WHERE status = 'running' ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active transfers: %w", err)
	}

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]storage.TransferRecord, error) {
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		var (
			rec        storage.TransferRecord
			lockedBy   sql.NullString
			startedAt  string
			finishedAt sql.NullString
		)

		if err := rows.Scan(&rec.JobID, &rec.ChatID, &rec.SourceURL, &rec.Filename, &rec.Status, &rec.Stage,
			&rec.Provider, &rec.Link, &rec.SizeBytes, &rec.Error, &lockedBy, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}

		rec.LockedBy = lockedBy.String
		rec.StartedAt = parseTime(startedAt)

		if finishedAt.Valid {
			rec.FinishedAt = parseTime(finishedAt.String)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
