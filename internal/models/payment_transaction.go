package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionStatus is the shared status vocabulary all provider statuses
// are normalized into.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

// Terminal reports whether no further adapter-driven transition is allowed.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

// PaymentTransaction is one payment attempt in the ledger. A row is created
// before any provider call so even a network failure leaves an audit record,
// and it is never deleted (soft delete only) or re-created for the same
// logical attempt. TransactionID is the idempotency key correlating the
// outbound initiation with the inbound callback.
type PaymentTransaction struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TransactionID        string `gorm:"type:varchar(100);uniqueIndex" json:"transaction_id"`
	GatewayTransactionID string `gorm:"type:varchar(255);index" json:"gateway_transaction_id"`
	GatewayReference     string `gorm:"type:varchar(255)" json:"gateway_reference"`

	PaymentGatewayID uint  `gorm:"index" json:"payment_gateway_id"`
	UserID           *uint `gorm:"index" json:"user_id"`

	PayableKind PayableKind `gorm:"type:varchar(50);index:idx_payment_transactions_payable" json:"payable_kind"`
	PayableID   *uint       `gorm:"index:idx_payment_transactions_payable" json:"payable_id"`

	Amount    float64 `gorm:"type:decimal(10,2)" json:"amount"`
	Currency  string  `gorm:"type:varchar(3);default:'EGP'" json:"currency"`
	Fee       float64 `gorm:"type:decimal(10,2);default:0" json:"fee"`
	NetAmount float64 `gorm:"type:decimal(10,2)" json:"net_amount"`

	Status        TransactionStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	PaymentMethod string            `gorm:"type:varchar(100)" json:"payment_method"`
	Description   string            `gorm:"type:text" json:"description"`
	FailureReason string            `gorm:"type:text" json:"failure_reason"`

	// Raw payload snapshots for the audit trail, one per stage
	RequestData  json.RawMessage `gorm:"type:jsonb" json:"request_data,omitempty"`
	ResponseData json.RawMessage `gorm:"type:jsonb" json:"response_data,omitempty"`
	CallbackData json.RawMessage `gorm:"type:jsonb" json:"callback_data,omitempty"`
	CustomerData json.RawMessage `gorm:"type:jsonb" json:"customer_data,omitempty"`

	RedirectURL string `gorm:"type:text" json:"redirect_url"`
	CallbackURL string `gorm:"type:text" json:"callback_url"`

	PaidAt     *time.Time `json:"paid_at"`
	FailedAt   *time.Time `json:"failed_at"`
	RefundedAt *time.Time `json:"refunded_at"`

	PaymentGateway PaymentGateway `gorm:"foreignKey:PaymentGatewayID" json:"payment_gateway,omitempty"`
}

// NewTransactionReference generates an internal transaction reference.
// Uniqueness is additionally enforced by the unique index on transaction_id.
func NewTransactionReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TXN-" + raw[:12]
}

// BeforeCreate fills the generated reference and the net amount.
func (t *PaymentTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.TransactionID == "" {
		t.TransactionID = NewTransactionReference()
	}
	if t.NetAmount == 0 {
		t.NetAmount = t.Amount - t.Fee
	}
	return nil
}

// IsTerminal reports whether the transaction reached a sticky state.
func (t *PaymentTransaction) IsTerminal() bool {
	return t.Status.Terminal()
}
