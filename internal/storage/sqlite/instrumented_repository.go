package sqlite

import (
	"context"
	"database/sql"

	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
)

// InstrumentedRepository wraps the read and write repositories with telemetry.
type InstrumentedRepository struct {
	read      *ReadRepository
	write     *WriteRepository
	telemetry *telemetry.Telemetry
}

var _ storage.TransferRepository = (*InstrumentedRepository)(nil)

// NewInstrumentedRepository creates a ledger repository owned by instanceID.
func NewInstrumentedRepository(dbConn *sql.DB, instanceID string, tel *telemetry.Telemetry) *InstrumentedRepository {
	return &InstrumentedRepository{
		read:      NewReadRepository(dbConn),
		write:     NewWriteRepository(dbConn, instanceID),
		telemetry: tel,
	}
}

func (r *InstrumentedRepository) Recent(ctx context.Context, chatID int64, limit int) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "recent_transfers", func(ctx context.Context) error {
		var err error

		result, err = r.read.Recent(ctx, chatID, limit)

		return err
	})

	return result, err
}

func (r *InstrumentedRepository) Active(ctx context.Context) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "active_transfers", func(ctx context.Context) error {
		var err error

		result, err = r.read.Active(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedRepository) Start(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_transfer", func(ctx context.Context) error {
		return r.write.Start(ctx, rec)
	})
}

func (r *InstrumentedRepository) Finish(ctx context.Context, jobID string, c storage.Completion) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_transfer", func(ctx context.Context) error {
		return r.write.Finish(ctx, jobID, c)
	})
}

func (r *InstrumentedRepository) InterruptOrphans(ctx context.Context) (int64, error) {
	var affected int64

	err := r.telemetry.InstrumentDBOperation(ctx, "interrupt_orphans", func(ctx context.Context) error {
		var err error

		affected, err = r.write.InterruptOrphans(ctx)

		return err
	})

	return affected, err
}
