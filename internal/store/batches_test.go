package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelink/dpdbridge/internal/store"
)

func TestBatchStore_CreateBatch(t *testing.T) {
	db, mock := newMockDB(t)
	batches := store.NewBatchStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dpd_batches`)).
		WithArgs("batch-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dpd_jobs`)).
		WithArgs("job-a", "batch-1", 100, false, store.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dpd_jobs`)).
		WithArgs("job-b", "batch-1", 101, true, store.JobPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := batches.CreateBatch(context.Background(), "batch-1", []store.JobRecord{
		{CarrierJobID: "job-a", OrderID: 100},
		{CarrierJobID: "job-b", OrderID: 101, Retour: true},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchStore_CreateBatchRollsBackOnJobFailure(t *testing.T) {
	db, mock := newMockDB(t)
	batches := store.NewBatchStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dpd_batches`)).
		WithArgs("batch-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dpd_jobs`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := batches.CreateBatch(context.Background(), "batch-1", []store.JobRecord{
		{CarrierJobID: "job-a", OrderID: 100},
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchStore_UpdateJobStatus(t *testing.T) {
	db, mock := newMockDB(t)
	batches := store.NewBatchStore(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE dpd_jobs SET status`)).
		WithArgs(store.JobSuccess, "", "job-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, batches.UpdateJobStatus(context.Background(), "job-a", store.JobSuccess, ""))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE dpd_jobs SET status`)).
		WithArgs(store.JobFailed, "address rejected", "job-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := batches.UpdateJobStatus(context.Background(), "job-x", store.JobFailed, "address rejected")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestBatchStore_GetBatchDerivedStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all done", []string{store.JobSuccess, store.JobSuccess}, store.BatchDone},
		{"one pending", []string{store.JobSuccess, store.JobPending}, store.BatchPending},
		{"one failed", []string{store.JobPending, store.JobFailed}, store.BatchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			batches := store.NewBatchStore(db)
			now := time.Now()

			mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, expected, created_at FROM dpd_batches`)).
				WithArgs("batch-1").
				WillReturnRows(sqlmock.NewRows([]string{"id", "expected", "created_at"}).
					AddRow("batch-1", len(tt.statuses), now))

			jobRows := sqlmock.NewRows(
				[]string{"carrier_job_id", "batch_id", "order_id", "retour", "status", "message", "updated_at"})
			for i, status := range tt.statuses {
				jobRows.AddRow("job-"+string(rune('a'+i)), "batch-1", 100+i, false, status, "", now)
			}
			mock.ExpectQuery(regexp.QuoteMeta(`FROM dpd_jobs WHERE batch_id`)).
				WithArgs("batch-1").
				WillReturnRows(jobRows)

			view, err := batches.GetBatch(context.Background(), "batch-1")

			require.NoError(t, err)
			assert.Equal(t, tt.want, view.Status)
			assert.Len(t, view.Jobs, len(tt.statuses))
		})
	}
}

func TestBatchStore_GetBatchNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	batches := store.NewBatchStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, expected, created_at FROM dpd_batches`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{}))

	view, err := batches.GetBatch(context.Background(), "nope")

	assert.ErrorIs(t, err, store.ErrBatchNotFound)
	assert.Nil(t, view)
}
