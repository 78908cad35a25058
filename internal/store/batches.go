package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Job statuses. Jobs start pending and only the carrier callback moves
// them to success or failed.
const (
	JobPending = "pending"
	JobSuccess = "success"
	JobFailed  = "failed"
)

// Batch statuses, derived from the batch's jobs.
const (
	BatchPending = "pending"
	BatchDone    = "done"
	BatchFailed  = "failed"
)

var (
	// ErrBatchNotFound is returned for unknown batch ids.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrJobNotFound is returned for unknown carrier job ids.
	ErrJobNotFound = errors.New("job not found")
)

// JobRecord is one carrier async job within a batch.
type JobRecord struct {
	CarrierJobID string    `db:"carrier_job_id"`
	BatchID      string    `db:"batch_id"`
	OrderID      int       `db:"order_id"`
	Retour       bool      `db:"retour"`
	Status       string    `db:"status"`
	Message      string    `db:"message"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// BatchRecord is one async submission batch.
type BatchRecord struct {
	ID        string    `db:"id"`
	Expected  int       `db:"expected"`
	CreatedAt time.Time `db:"created_at"`
}

// BatchView is a batch with its jobs and the derived overall status.
type BatchView struct {
	Batch  BatchRecord
	Jobs   []JobRecord
	Status string
}

// BatchStore tracks async label batches and their carrier jobs.
type BatchStore struct {
	db *sqlx.DB
}

// NewBatchStore creates a batch store on the given pool.
func NewBatchStore(db *sqlx.DB) *BatchStore {
	return &BatchStore{db: db}
}

// CreateBatch records a batch and its jobs in one transaction so a
// batch is never visible without its job rows.
func (s *BatchStore) CreateBatch(ctx context.Context, batchID string, jobs []JobRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dpd_batches (id, expected) VALUES ($1, $2)`,
		batchID, len(jobs)); err != nil {
		return fmt.Errorf("inserting batch %s: %w", batchID, err)
	}

	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dpd_jobs (carrier_job_id, batch_id, order_id, retour, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			job.CarrierJobID, batchID, job.OrderID, job.Retour, JobPending); err != nil {
			return fmt.Errorf("inserting job %s: %w", job.CarrierJobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch %s: %w", batchID, err)
	}
	return nil
}

// UpdateJobStatus applies a carrier callback result to one job, keyed
// by the carrier job id.
func (s *BatchStore) UpdateJobStatus(ctx context.Context, carrierJobID, status, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dpd_jobs SET status = $1, message = $2, updated_at = now()
		 WHERE carrier_job_id = $3`,
		status, message, carrierJobID)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", carrierJobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %s: %w", carrierJobID, err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetBatch returns a batch with its jobs. The batch status derives from
// the jobs: failed when any job failed, pending while any job is still
// pending, done otherwise.
func (s *BatchStore) GetBatch(ctx context.Context, batchID string) (*BatchView, error) {
	var batch BatchRecord
	err := s.db.GetContext(ctx, &batch,
		`SELECT id, expected, created_at FROM dpd_batches WHERE id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting batch %s: %w", batchID, err)
	}

	var jobs []JobRecord
	if err := s.db.SelectContext(ctx, &jobs,
		`SELECT carrier_job_id, batch_id, order_id, retour, status, message, updated_at
		 FROM dpd_jobs WHERE batch_id = $1 ORDER BY order_id, retour`, batchID); err != nil {
		return nil, fmt.Errorf("selecting jobs for batch %s: %w", batchID, err)
	}

	return &BatchView{Batch: batch, Jobs: jobs, Status: deriveBatchStatus(jobs)}, nil
}

func deriveBatchStatus(jobs []JobRecord) string {
	status := BatchDone
	for _, job := range jobs {
		switch job.Status {
		case JobFailed:
			return BatchFailed
		case JobPending:
			status = BatchPending
		}
	}
	return status
}
