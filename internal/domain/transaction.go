package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a payment transaction
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusAuthorized TransactionStatus = "authorized"
	StatusRejected   TransactionStatus = "rejected"
)

// TransactionRecord is the persisted booking/payment state. The gateway's
// commit response, not this record, is the source of truth for whether a
// payment succeeded; the record exists for receipts and reconciliation.
type TransactionRecord struct {
	ID                uuid.UUID
	BuyOrder          string
	SessionID         string
	BookingID         string
	Token             string
	Amount            decimal.Decimal
	Currency          string
	Status            TransactionStatus
	AuthorizationCode string
	PaymentTypeCode   string
	RawResponse       json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Receipt is the customer-facing view of a finished transaction
type Receipt struct {
	BuyOrder          string          `json:"buy_order"`
	BookingID         string          `json:"booking_id,omitempty"`
	Token             string          `json:"token_ws,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	AuthorizationCode string          `json:"authorization_code,omitempty"`
	PaymentTypeCode   string          `json:"payment_type_code,omitempty"`
	IssuedAt          time.Time       `json:"issued_at"`
}

// ToReceipt builds the customer-facing receipt for a record
func (t *TransactionRecord) ToReceipt() Receipt {
	return Receipt{
		BuyOrder:          t.BuyOrder,
		BookingID:         t.BookingID,
		Token:             t.Token,
		Amount:            t.Amount,
		Currency:          t.Currency,
		Status:            string(t.Status),
		AuthorizationCode: t.AuthorizationCode,
		PaymentTypeCode:   t.PaymentTypeCode,
		IssuedAt:          t.UpdatedAt,
	}
}
