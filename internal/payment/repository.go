package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Attempt) error
	GetByID(ctx context.Context, paymentID string) (*Attempt, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*Attempt, error)
	GetByVerifyToken(ctx context.Context, provider, verifyToken string) (*Attempt, error)
	ListByOrder(ctx context.Context, orderID string) ([]Attempt, error)
	// ApplyStatus transitions the attempt to newStatus under a row lock.
	// Terminal attempts are never transitioned again; in that case the stored
	// attempt is returned with applied=false.
	ApplyStatus(ctx context.Context, paymentID string, newStatus Status, transactionID string, raw json.RawMessage) (*Attempt, bool, error)
	// CompletedTotal returns the sum of completed attempt amounts for an order.
	CompletedTotal(ctx context.Context, orderID string) (float64, error)
}

type repo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_attempts (id, order_id, provider, external_id, verify_token, transaction_id, amount, currency, status, raw_response, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.OrderID, a.Provider, a.ExternalID, a.VerifyToken, a.TransactionID, a.Amount, a.Currency, a.Status, rawValue(a.RawResponse), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment_attempt: %w", err)
	}
	return nil
}

const attemptColumns = `id, order_id, provider, external_id, verify_token, transaction_id, amount, currency, status, raw_response, created_at, updated_at`

// rawValue stores raw provider payloads as jsonb, NULL when absent.
func rawValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanAttempt(row interface{ Scan(...any) error }) (*Attempt, error) {
	var a Attempt
	var verifyToken, txID sql.NullString
	var raw []byte
	err := row.Scan(&a.ID, &a.OrderID, &a.Provider, &a.ExternalID, &verifyToken, &txID, &a.Amount, &a.Currency, &a.Status, &raw, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.VerifyToken = verifyToken.String
	a.TransactionID = txID.String
	a.RawResponse = raw
	return &a, nil
}

func (r *repo) GetByID(ctx context.Context, paymentID string) (*Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`,
		paymentID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select payment_attempt: %w", err)
	}
	return a, nil
}

func (r *repo) GetByExternalID(ctx context.Context, provider, externalID string) (*Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select payment_attempt by external id: %w", err)
	}
	return a, nil
}

func (r *repo) GetByVerifyToken(ctx context.Context, provider, verifyToken string) (*Attempt, error) {
	a, err := scanAttempt(r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE provider = $1 AND verify_token = $2`,
		provider, verifyToken,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select payment_attempt by verify token: %w", err)
	}
	return a, nil
}

func (r *repo) ListByOrder(ctx context.Context, orderID string) ([]Attempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payment_attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment_attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return attempts, nil
}

func (r *repo) ApplyStatus(ctx context.Context, paymentID string, newStatus Status, transactionID string, raw json.RawMessage) (*Attempt, bool, error) {
	if !newStatus.IsValid() {
		return nil, false, fmt.Errorf("invalid status %q", newStatus)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// The row lock serializes concurrent callback/webhook deliveries for the
	// same attempt.
	a, err := scanAttempt(tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1 FOR UPDATE`,
		paymentID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("payment attempt %s not found", paymentID)
		}
		return nil, false, fmt.Errorf("lock payment_attempt: %w", err)
	}

	if a.Status.IsTerminal() {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return a, false, nil
	}

	now := time.Now().UTC()
	if transactionID == "" {
		transactionID = a.TransactionID
	}
	if len(raw) == 0 {
		raw = a.RawResponse
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payment_attempts
         SET status = $2, transaction_id = $3, raw_response = $4, updated_at = $5
         WHERE id = $1`,
		paymentID, newStatus, transactionID, rawValue(raw), now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update payment_attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	a.Status = newStatus
	a.TransactionID = transactionID
	a.RawResponse = raw
	a.UpdatedAt = now
	return a, true, nil
}

func (r *repo) CompletedTotal(ctx context.Context, orderID string) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payment_attempts WHERE order_id = $1 AND status = $2`,
		orderID, StatusCompleted,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum completed attempts: %w", err)
	}
	return total, nil
}
