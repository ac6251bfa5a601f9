package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionRepository implements ports.TransactionRepository on PostgreSQL
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create creates a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, record *domain.TransactionRecord) error {
	rawResponse := record.RawResponse
	if rawResponse == nil {
		rawResponse = json.RawMessage("{}")
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO webpay_transactions (
			id, buy_order, session_id, booking_id, token,
			amount, currency, status, authorization_code, payment_type_code,
			raw_response, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
		record.ID,
		record.BuyOrder,
		record.SessionID,
		record.BookingID,
		record.Token,
		record.Amount.String(),
		record.Currency,
		string(record.Status),
		record.AuthorizationCode,
		record.PaymentTypeCode,
		[]byte(rawResponse),
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetByToken looks up the record correlated with a gateway token
func (r *TransactionRepository) GetByToken(ctx context.Context, token string) (*domain.TransactionRecord, error) {
	return r.getBy(ctx, "token", token)
}

// GetByBuyOrder looks up the record by merchant order identifier
func (r *TransactionRepository) GetByBuyOrder(ctx context.Context, buyOrder string) (*domain.TransactionRecord, error) {
	return r.getBy(ctx, "buy_order", buyOrder)
}

func (r *TransactionRepository) getBy(ctx context.Context, column, value string) (*domain.TransactionRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, buy_order, session_id, booking_id, token,
		       amount::text, currency, status, authorization_code, payment_type_code,
		       raw_response, created_at, updated_at
		FROM webpay_transactions
		WHERE %s = $1`, column)

	var (
		record domain.TransactionRecord
		amount string
		status string
		raw    []byte
	)
	err := r.pool.QueryRow(ctx, query, value).Scan(
		&record.ID,
		&record.BuyOrder,
		&record.SessionID,
		&record.BookingID,
		&record.Token,
		&amount,
		&record.Currency,
		&status,
		&record.AuthorizationCode,
		&record.PaymentTypeCode,
		&raw,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by %s: %w", column, err)
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	record.Status = domain.TransactionStatus(status)
	record.RawResponse = json.RawMessage(raw)

	return &record, nil
}

// commitColumns derives the updatable columns from a commit result. The
// authorization code and payment type are lifted out of the raw payload when
// present; a transport failure or a decline without them leaves both empty.
func commitColumns(result *domain.CommitResult) (status domain.TransactionStatus, authCode, paymentType string) {
	status = domain.StatusRejected
	if result.Ok {
		status = domain.StatusAuthorized
	}

	var payload struct {
		AuthorizationCode string `json:"authorization_code"`
		PaymentTypeCode   string `json:"payment_type_code"`
	}
	_ = json.Unmarshal(result.Payload, &payload)

	return status, payload.AuthorizationCode, payload.PaymentTypeCode
}

// RecordCommit updates a record with the gateway's commit outcome. The full
// payload is kept for audit.
func (r *TransactionRepository) RecordCommit(ctx context.Context, token string, result *domain.CommitResult) error {
	status, authCode, paymentType := commitColumns(result)

	tag, err := r.pool.Exec(ctx, `
		UPDATE webpay_transactions
		SET status = $2,
		    authorization_code = $3,
		    payment_type_code = $4,
		    raw_response = $5,
		    updated_at = now()
		WHERE token = $1`,
		token,
		string(status),
		authCode,
		paymentType,
		[]byte(result.Payload),
	)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrTransactionNotFound
	}
	return nil
}
