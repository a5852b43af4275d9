package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// ErrRunNotFound is returned when no sync run matches.
var ErrRunNotFound = errors.New("sync run not found")

// Run is one entry of the sync-run journal.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	ShopID     int64      `json:"shop_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	ItemCount  int        `json:"item_count"`
	ModelCount int        `json:"model_count"`
	Error      string     `json:"error,omitempty"`
}

// Runs records sync passes.
type Runs struct {
	db  *DB
	now func() time.Time
}

// NewRuns constructs a run journal.
func NewRuns(db *DB) *Runs { return &Runs{db: db, now: time.Now} }

// Start inserts a running entry for shopID.
func (r *Runs) Start(ctx context.Context, shopID int64) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		ShopID:    shopID,
		StartedAt: r.now().UTC(),
		Status:    RunRunning,
	}
	const q = `INSERT INTO sync_runs (id, shop_id, started_at, status) VALUES ($1,$2,$3,$4)`
	if _, err := r.db.Pool.Exec(ctx, q, run.ID, run.ShopID, run.StartedAt, run.Status); err != nil {
		return Run{}, fmt.Errorf("start sync run: %w", err)
	}
	return run, nil
}

// Finish closes run with its outcome. A nil runErr marks it succeeded.
func (r *Runs) Finish(ctx context.Context, run Run, runErr error) (Run, error) {
	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.Status = RunSucceeded
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}

	const q = `
UPDATE sync_runs
SET finished_at=$2, status=$3, item_count=$4, model_count=$5, error=$6
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, run.ID, finished, run.Status, run.ItemCount, run.ModelCount, run.Error)
	if err != nil {
		return run, fmt.Errorf("finish sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return run, ErrRunNotFound
	}
	return run, nil
}

// Latest returns the most recently started run for shopID.
func (r *Runs) Latest(ctx context.Context, shopID int64) (*Run, error) {
	const q = `
SELECT id::text, shop_id, started_at, finished_at, status, item_count, model_count, error
FROM sync_runs WHERE shop_id=$1
ORDER BY started_at DESC LIMIT 1`
	var (
		run Run
		id  string
	)
	err := r.db.Pool.QueryRow(ctx, q, shopID).Scan(
		&id, &run.ShopID, &run.StartedAt, &run.FinishedAt,
		&run.Status, &run.ItemCount, &run.ModelCount, &run.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	return &run, nil
}
