package ports

import (
	"context"
	"errors"

	"github.com/habitatmarket/webpay-service/internal/domain"
)

// ErrTransactionNotFound is returned when no record matches the lookup key
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository persists booking/payment state. The confirmation
// protocol itself never reads it to decide an outcome; it is written after
// the gateway has answered and read for receipts.
type TransactionRepository interface {
	// Create stores a new record, normally in pending state before the
	// buyer is sent to the gateway
	Create(ctx context.Context, record *domain.TransactionRecord) error

	// GetByToken looks up the record correlated with a gateway token
	GetByToken(ctx context.Context, token string) (*domain.TransactionRecord, error)

	// GetByBuyOrder looks up the record by merchant order identifier
	GetByBuyOrder(ctx context.Context, buyOrder string) (*domain.TransactionRecord, error)

	// RecordCommit updates a record with the gateway's commit outcome
	RecordCommit(ctx context.Context, token string, result *domain.CommitResult) error
}
