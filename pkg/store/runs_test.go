package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func fixedRuns(db *DB, at time.Time) *Runs {
	r := NewRuns(db)
	r.now = func() time.Time { return at }
	return r
}

func TestRuns_Start(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := fixedRuns(db, at)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sync_runs (id, shop_id, started_at, status) VALUES ($1,$2,$3,$4)`)).
		WithArgs(pgxmock.AnyArg(), int64(42), at, RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := r.Start(context.Background(), 42)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, run.ID)
	require.Equal(t, RunRunning, run.Status)
	require.Equal(t, at, run.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuns_Finish(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name       string
		runErr     error
		wantStatus string
		wantError  string
	}{
		{"succeeded", nil, RunSucceeded, ""},
		{"failed", errors.New("listing failed"), RunFailed, "listing failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newDB(t)
			defer mock.Close()
			r := fixedRuns(db, at)

			run := Run{ID: uuid.New(), ShopID: 42, ItemCount: 7, ModelCount: 3}
			mock.ExpectExec(`UPDATE sync_runs`).
				WithArgs(run.ID, at, tt.wantStatus, 7, 3, tt.wantError).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			got, err := r.Finish(context.Background(), run, tt.runErr)
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, got.Status)
			require.Equal(t, tt.wantError, got.Error)
			require.Equal(t, at, *got.FinishedAt)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRuns_Finish_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRuns(db)

	mock.ExpectExec(`UPDATE sync_runs`).
		WithArgs(argsWith(6, nil)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := r.Finish(context.Background(), Run{ID: uuid.New()}, nil)
	require.ErrorIs(t, err, ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuns_Latest(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRuns(db)

	id := uuid.New()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery(`SELECT id::text, shop_id, started_at`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "shop_id", "started_at", "finished_at", "status", "item_count", "model_count", "error",
		}).AddRow(id.String(), int64(42), started, &finished, RunSucceeded, 10, 4, ""))

	run, err := r.Latest(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, RunSucceeded, run.Status)
	require.Equal(t, 10, run.ItemCount)
	require.Equal(t, finished, *run.FinishedAt)
}

func TestRuns_Latest_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRuns(db)

	mock.ExpectQuery(`SELECT id::text, shop_id, started_at`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Latest(context.Background(), 42)
	require.ErrorIs(t, err, ErrRunNotFound)
}
