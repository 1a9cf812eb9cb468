package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dukani_payments/internal/models"
)

// Adapter error taxonomy. Adapters catch these at their public-method
// boundary and fold them into structured results; handlers use errors.Is
// to pick response codes.
var (
	ErrGatewayNotConfigured = errors.New("gateway is not configured properly")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidSignature     = errors.New("invalid secure hash - possible security violation")
	ErrUnknownStatus        = errors.New("unknown payment status")
)

// ProviderError wraps a network or provider-side failure during an outbound
// call. The raw payload is for operator consumption only and is never echoed
// back to a payer.
type ProviderError struct {
	Gateway    string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: provider call failed: %v", e.Gateway, e.Err)
	}
	return fmt.Sprintf("%s: provider returned status %d: %s", e.Gateway, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Customer carries optional contact fields forwarded to the provider.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PaymentData is the generic initiation request every adapter accepts.
type PaymentData struct {
	Amount      float64            `json:"amount"`
	Currency    string             `json:"currency"`
	Description string             `json:"description"`
	Customer    *Customer          `json:"customer,omitempty"`
	Payable     *models.PayableRef `json:"payable,omitempty"`
	UserID      *uint              `json:"user_id,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// Validate checks the caller-supplied fields before any ledger write.
func (d PaymentData) Validate() error {
	if d.Amount <= 0 {
		return errors.New("amount must be greater than zero")
	}
	if d.Payable != nil && !d.Payable.Kind.Valid() {
		return fmt.Errorf("unknown payable kind: %s", d.Payable.Kind)
	}
	return nil
}

// InitiationResult is what an adapter returns from Initiate, win or lose.
// Transaction is always populated once a ledger row exists so the caller can
// locate the audit record.
type InitiationResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
	// CheckoutConfig carries client-embeddable material for hosted-checkout
	// providers that skip the server-side initiation call (PaySky lightbox,
	// AFS checkout.js).
	CheckoutConfig map[string]string          `json:"checkout_config,omitempty"`
	Message        string                     `json:"message,omitempty"`
	Transaction    *models.PaymentTransaction `json:"transaction,omitempty"`
}

// CallbackOutcome is the normalized verdict of a callback or an
// authoritative status fetch. A still-in-flight payment reports
// OutcomePending rather than a misleading success flag.
type CallbackOutcome string

const (
	OutcomeSuccess   CallbackOutcome = "success"
	OutcomeFailed    CallbackOutcome = "failed"
	OutcomePending   CallbackOutcome = "pending"
	OutcomeCancelled CallbackOutcome = "cancelled"
)

// CallbackResult is what an adapter returns from ProcessCallback.
type CallbackResult struct {
	Outcome     CallbackOutcome            `json:"outcome"`
	Message     string                     `json:"message,omitempty"`
	Transaction *models.PaymentTransaction `json:"transaction,omitempty"`
}

// PaymentProvider is the contract all three adapters implement. Failure
// results come back alongside the error so the caller always has both the
// structured result and something to log.
type PaymentProvider interface {
	Slug() string
	Initiate(ctx context.Context, data PaymentData) (*InitiationResult, error)
	ProcessCallback(ctx context.Context, payload map[string]interface{}, signature string) (*CallbackResult, error)
}

// failedInitiation builds the uniform failure result for Initiate.
func failedInitiation(txn *models.PaymentTransaction, message string) *InitiationResult {
	res := &InitiationResult{Success: false, Message: message, Transaction: txn}
	if txn != nil {
		res.TransactionID = txn.TransactionID
	}
	return res
}

// failedCallback builds the uniform failure result for ProcessCallback.
func failedCallback(txn *models.PaymentTransaction, message string) *CallbackResult {
	return &CallbackResult{Outcome: OutcomeFailed, Message: message, Transaction: txn}
}

// newLedgerRow creates the pending transaction before any provider call so
// even a network failure leaves an auditable record.
func newLedgerRow(ctx context.Context, ledger TransactionStore, gateway *models.PaymentGateway, data PaymentData, defaultCurrency string) (*models.PaymentTransaction, error) {
	currency := data.Currency
	if currency == "" {
		currency = gateway.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}
	description := data.Description
	if description == "" {
		description = "Payment"
	}

	txn := &models.PaymentTransaction{
		PaymentGatewayID: gateway.ID,
		UserID:           data.UserID,
		Amount:           data.Amount,
		Currency:         currency,
		Description:      description,
		Status:           models.TransactionStatusPending,
	}
	if data.Payable != nil {
		txn.PayableKind = data.Payable.Kind
		payableID := data.Payable.ID
		txn.PayableID = &payableID
	}
	if data.Customer != nil {
		if customerJSON, err := json.Marshal(data.Customer); err == nil {
			txn.CustomerData = customerJSON
		}
	}

	if err := ledger.Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// stringField reads a string value from a decoded JSON payload, rendering
// JSON numbers the way they appeared on the wire where possible.
func stringField(payload map[string]interface{}, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// outcomeFromStatus maps a ledger status to a callback outcome, for replies
// to replayed callbacks on already-terminal transactions.
func outcomeFromStatus(status models.TransactionStatus) CallbackOutcome {
	switch status {
	case models.TransactionStatusSuccess, models.TransactionStatusRefunded:
		return OutcomeSuccess
	case models.TransactionStatusFailed:
		return OutcomeFailed
	case models.TransactionStatusCancelled:
		return OutcomeCancelled
	default:
		return OutcomePending
	}
}
