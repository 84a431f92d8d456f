package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attemptCols = []string{
	"id", "order_id", "provider", "external_id", "verify_token", "transaction_id",
	"amount", "currency", "status", "raw_response", "created_at", "updated_at",
}

func attemptRow(id string, status Status) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(attemptCols).AddRow(
		id, "order-1", "wave", "ext-1", nil, nil,
		5000.0, "XOF", string(status), nil, now, now,
	)
}

func TestRepositoryCreate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	a := &Attempt{
		OrderID:     "order-1",
		Provider:    "wave",
		ExternalID:  "ext-1",
		Amount:      5000,
		Currency:    "XOF",
		RawResponse: json.RawMessage(`{"id":"ext-1"}`),
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO payment_attempts`)).
		WithArgs(sqlmock.AnyArg(), "order-1", "wave", "ext-1", "", "",
			5000.0, "XOF", StatusPending, `{"id":"ext-1"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusPending, a.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreate_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO payment_attempts`)).
		WillReturnError(errors.New("insert failed"))

	err = repo.Create(context.Background(), &Attempt{OrderID: "order-1", Provider: "wave"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	a, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByExternalID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE provider = $1 AND external_id = $2`)).
		WithArgs("wave", "ext-1").
		WillReturnRows(attemptRow("pa-1", StatusPending))

	a, err := repo.GetByExternalID(context.Background(), "wave", "ext-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "pa-1", a.ID)
	assert.Equal(t, "ext-1", a.ExternalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyStatus_Transition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("pa-1").
		WillReturnRows(attemptRow("pa-1", StatusPending))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payment_attempts`)).
		WithArgs("pa-1", StatusCompleted, "TX-1", `{"status":"succeeded"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	a, applied, err := repo.ApplyStatus(context.Background(), "pa-1", StatusCompleted, "TX-1", json.RawMessage(`{"status":"succeeded"}`))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, "TX-1", a.TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyStatus_TerminalIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("pa-1").
		WillReturnRows(attemptRow("pa-1", StatusCompleted))
	mock.ExpectCommit()

	a, applied, err := repo.ApplyStatus(context.Background(), "pa-1", StatusFailed, "", nil)
	require.NoError(t, err)
	assert.False(t, applied)

	// the stored terminal state wins over the late delivery
	assert.Equal(t, StatusCompleted, a.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyStatus_InvalidStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	_, _, err = repo.ApplyStatus(context.Background(), "pa-1", Status("paid?"), "", nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryApplyStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err = repo.ApplyStatus(context.Background(), "missing", StatusCompleted, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompletedTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(amount), 0)`)).
		WithArgs("order-1", StatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(3000.0))

	total, err := repo.CompletedTotal(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListByOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	rows := sqlmock.NewRows(attemptCols)
	now := time.Now().UTC()
	rows.AddRow("pa-2", "order-1", "wave", "ext-2", nil, nil, 2000.0, "XOF", "failed", nil, now, now)
	rows.AddRow("pa-1", "order-1", "wave", "ext-1", nil, "TX-1", 5000.0, "XOF", "completed", nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE order_id = $1`)).
		WithArgs("order-1").
		WillReturnRows(rows)

	attempts, err := repo.ListByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "pa-2", attempts[0].ID)
	assert.Equal(t, "TX-1", attempts[1].TransactionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
