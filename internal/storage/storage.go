package storage

import (
	"context"
	"errors"
	"time"
)

// Ledger statuses. A row starts as StatusRunning and ends in one of the
// terminal statuses.
const (
	StatusRunning     = "running"
	StatusInline      = "inline"
	StatusProvider    = "provider"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// TransferRecord is one job in the transfer ledger.
type TransferRecord struct {
	JobID      string
	ChatID     int64
	SourceURL  string
	Filename   string
	Status     string
	Stage      string
	Provider   string
	Link       string
	SizeBytes  int64
	Error      string
	LockedBy   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Completion is the terminal state written when a job ends.
type Completion struct {
	Status    string
	Stage     string
	Provider  string
	Link      string
	SizeBytes int64
	Error     string
}

type TransferReadRepository interface {
	// Recent returns the newest jobs of a chat, newest first.
	Recent(ctx context.Context, chatID int64, limit int) ([]TransferRecord, error)
	// Active returns jobs still marked running.
	Active(ctx context.Context) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	Start(ctx context.Context, rec TransferRecord) error
	Finish(ctx context.Context, jobID string, c Completion) error
	// InterruptOrphans marks running rows owned by other process instances as
	// interrupted and returns how many were touched.
	InterruptOrphans(ctx context.Context) (int64, error)
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}

// ErrNotFound is returned when a job id has no ledger row.
var ErrNotFound = errors.New("transfer not found")
