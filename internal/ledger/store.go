// Package ledger persists job accounting and payment confirmations.
//
// Runtime job state lives in the queue; the ledger is the durable record
// that outlives it. Rows are created when a job is dispatched and settled
// exactly once when the worker reports done.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job (
    job_id              TEXT PRIMARY KEY,
    status              TEXT NOT NULL DEFAULT 'pending',
    model               TEXT NOT NULL,
    node_id             TEXT,
    node_payout_address TEXT,
    prompt_tokens       INTEGER,
    completion_tokens   INTEGER,
    total_tokens        INTEGER,
    created_at          TEXT NOT NULL,
    completed_at        TEXT
);
CREATE TABLE IF NOT EXISTS payment (
    job_id     TEXT PRIMARY KEY REFERENCES job(job_id),
    amount     REAL NOT NULL,
    payment_tx TEXT,
    paid_at    TEXT
);
`

// ErrNotFound is returned when a job or payment row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// JobRecord is the durable accounting row for one job.
type JobRecord struct {
	JobID             string
	Status            string
	Model             string
	NodeID            *string
	NodePayoutAddress *string
	PromptTokens      *int64
	CompletionTokens  *int64
	TotalTokens       *int64
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// PaymentRecord links a job to an external settlement transaction.
type PaymentRecord struct {
	JobID           string
	Amount          float64
	TransactionHash *string
	PaidAt          *time.Time
}

// TokenCounts is the accounting block reported in a job's terminal chunk.
type TokenCounts struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Settlement carries everything known at job completion.
type Settlement struct {
	// Failed marks the job failed instead of completed.
	Failed bool

	// NodeID of the worker that executed the job, if it identified itself.
	NodeID string

	// PayoutAddress snapshotted from the registry at completion.
	PayoutAddress string

	// TokenCounts from the terminal chunk, if present.
	TokenCounts *TokenCounts
}

// Store provides SQLite-backed storage for the job/payment ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and runs migrations. URLs of
// the form sqlite:///path and sqlite://path are accepted alongside bare
// filesystem paths.
func Open(databaseURL string) (*Store, error) {
	path := databaseURL
	if strings.HasPrefix(path, "sqlite://") {
		path = strings.TrimPrefix(path, "sqlite://")
		path = strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, errors.New("ledger: empty database path")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	// Enable WAL mode for concurrent reads while a settlement commits
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateJob inserts a pending job row.
func (s *Store) CreateJob(jobID, model string) error {
	_, err := s.db.Exec(`
		INSERT INTO job (job_id, status, model, created_at)
		VALUES (?, 'pending', ?, ?)`,
		jobID, model, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", jobID, err)
	}
	return nil
}

// MarkInProgress records that the job was handed to a worker.
func (s *Store) MarkInProgress(jobID string) error {
	_, err := s.db.Exec(
		`UPDATE job SET status = 'in_progress' WHERE job_id = ? AND status = 'pending'`,
		jobID)
	if err != nil {
		return fmt.Errorf("mark job %s in progress: %w", jobID, err)
	}
	return nil
}

// Settle records a job's terminal state and accounting. The status flip is
// guarded so a job settles as completed or failed exactly once; node and
// token fields are still written for late reports.
func (s *Store) Settle(jobID string, settlement Settlement) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback()

	status := "completed"
	if settlement.Failed {
		status = "failed"
	}

	if _, err := tx.Exec(`
		UPDATE job SET status = ?, completed_at = ?
		WHERE job_id = ? AND status NOT IN ('completed', 'failed')`,
		status, time.Now().UTC().Format(time.RFC3339), jobID); err != nil {
		return fmt.Errorf("settle job %s: %w", jobID, err)
	}

	if settlement.NodeID != "" {
		if _, err := tx.Exec(`
			UPDATE job SET node_id = ?, node_payout_address = NULLIF(?, '')
			WHERE job_id = ?`,
			settlement.NodeID, settlement.PayoutAddress, jobID); err != nil {
			return fmt.Errorf("record node for job %s: %w", jobID, err)
		}
	}

	if tc := settlement.TokenCounts; tc != nil {
		if _, err := tx.Exec(`
			UPDATE job SET prompt_tokens = ?, completion_tokens = ?, total_tokens = ?
			WHERE job_id = ?`,
			tc.PromptTokens, tc.CompletionTokens, tc.TotalTokens, jobID); err != nil {
			return fmt.Errorf("record token counts for job %s: %w", jobID, err)
		}
	}

	return tx.Commit()
}

// GetJob returns the ledger row for jobID, or ErrNotFound.
func (s *Store) GetJob(jobID string) (JobRecord, error) {
	var (
		rec                    JobRecord
		createdAt              string
		completedAt            sql.NullString
		nodeID, payoutAddress  sql.NullString
		prompt, completion, total sql.NullInt64
	)

	err := s.db.QueryRow(`
		SELECT job_id, status, model, node_id, node_payout_address,
		       prompt_tokens, completion_tokens, total_tokens,
		       created_at, completed_at
		FROM job WHERE job_id = ?`, jobID).Scan(
		&rec.JobID, &rec.Status, &rec.Model, &nodeID, &payoutAddress,
		&prompt, &completion, &total,
		&createdAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("query job %s: %w", jobID, err)
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	if nodeID.Valid {
		rec.NodeID = &nodeID.String
	}
	if payoutAddress.Valid {
		rec.NodePayoutAddress = &payoutAddress.String
	}
	if prompt.Valid {
		rec.PromptTokens = &prompt.Int64
	}
	if completion.Valid {
		rec.CompletionTokens = &completion.Int64
	}
	if total.Valid {
		rec.TotalTokens = &total.Int64
	}

	return rec, nil
}

// ConfirmPayment upserts the payment row for a job, setting the transaction
// hash and the paid-at timestamp.
func (s *Store) ConfirmPayment(jobID string, amount float64, transactionHash string) error {
	_, err := s.db.Exec(`
		INSERT INTO payment (job_id, amount, payment_tx, paid_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			payment_tx = excluded.payment_tx,
			paid_at    = excluded.paid_at`,
		jobID, amount, transactionHash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("confirm payment for job %s: %w", jobID, err)
	}
	return nil
}

// GetPayment returns the payment row for jobID, or ErrNotFound.
func (s *Store) GetPayment(jobID string) (PaymentRecord, error) {
	var (
		rec       PaymentRecord
		paymentTx sql.NullString
		paidAt    sql.NullString
	)

	err := s.db.QueryRow(`
		SELECT job_id, amount, payment_tx, paid_at FROM payment WHERE job_id = ?`,
		jobID).Scan(&rec.JobID, &rec.Amount, &paymentTx, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment %s: %w", jobID, err)
	}

	if paymentTx.Valid {
		rec.TransactionHash = &paymentTx.String
	}
	if paidAt.Valid {
		if t, err := time.Parse(time.RFC3339, paidAt.String); err == nil {
			rec.PaidAt = &t
		}
	}

	return rec, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
