package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"dukani_payments/internal/models"
)

// fakeLedger is an in-memory TransactionStore for adapter tests. It applies
// the same terminal-state guard as the real ledger.
type fakeLedger struct {
	nextID    uint
	txns      map[string]*models.PaymentTransaction
	callbacks []*models.PaymentCallbackHistory
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txns: map[string]*models.PaymentTransaction{}}
}

func (f *fakeLedger) Create(_ context.Context, txn *models.PaymentTransaction) error {
	f.nextID++
	txn.ID = f.nextID
	if txn.TransactionID == "" {
		txn.TransactionID = models.NewTransactionReference()
	}
	if txn.Status == "" {
		txn.Status = models.TransactionStatusPending
	}
	f.txns[txn.TransactionID] = txn
	return nil
}

func (f *fakeLedger) FindByReference(_ context.Context, _ string, reference string) (*models.PaymentTransaction, error) {
	txn, ok := f.txns[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (f *fakeLedger) Update(_ context.Context, _ *models.PaymentTransaction, _ map[string]interface{}) error {
	return nil
}

func (f *fakeLedger) MarkProcessing(_ context.Context, txn *models.PaymentTransaction) error {
	if txn.Status == models.TransactionStatusPending {
		txn.Status = models.TransactionStatusProcessing
	}
	return nil
}

func (f *fakeLedger) MarkSuccess(_ context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error) {
	if txn.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	txn.Status = models.TransactionStatusSuccess
	txn.PaidAt = &now
	txn.ResponseData = mergeJSON(txn.ResponseData, data)
	return true, nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, txn *models.PaymentTransaction, reason string, data json.RawMessage) (bool, error) {
	if txn.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	txn.Status = models.TransactionStatusFailed
	txn.FailedAt = &now
	txn.FailureReason = reason
	txn.ResponseData = mergeJSON(txn.ResponseData, data)
	return true, nil
}

func (f *fakeLedger) MarkCancelled(_ context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error) {
	if txn.IsTerminal() {
		return false, nil
	}
	txn.Status = models.TransactionStatusCancelled
	txn.CallbackData = mergeJSON(txn.CallbackData, data)
	return true, nil
}

func (f *fakeLedger) RecordCallback(_ context.Context, entry *models.PaymentCallbackHistory) error {
	f.callbacks = append(f.callbacks, entry)
	return nil
}

func TestStringField(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]interface{}
		key      string
		expected string
	}{
		{
			name:     "plain string",
			payload:  map[string]interface{}{"Amount": "150.75"},
			key:      "Amount",
			expected: "150.75",
		},
		{
			name:     "json number keeps wire form",
			payload:  map[string]interface{}{"Amount": json.Number("150.75")},
			key:      "Amount",
			expected: "150.75",
		},
		{
			name:     "whole float renders without decimals",
			payload:  map[string]interface{}{"Amount": float64(15075)},
			key:      "Amount",
			expected: "15075",
		},
		{
			name:     "missing key",
			payload:  map[string]interface{}{},
			key:      "Amount",
			expected: "",
		},
		{
			name:     "explicit null",
			payload:  map[string]interface{}{"Amount": nil},
			key:      "Amount",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stringField(tt.payload, tt.key)
			if result != tt.expected {
				t.Errorf("stringField(%v, %q) = %q; want %q", tt.payload, tt.key, result, tt.expected)
			}
		})
	}
}

func TestMergeJSON(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected map[string]interface{}
	}{
		{
			name:     "overlay wins on shared keys",
			a:        `{"status":"pending","session":"S1"}`,
			b:        `{"status":"captured"}`,
			expected: map[string]interface{}{"status": "captured", "session": "S1"},
		},
		{
			name:     "empty base returns overlay",
			a:        "",
			b:        `{"status":"captured"}`,
			expected: map[string]interface{}{"status": "captured"},
		},
		{
			name:     "empty overlay returns base",
			a:        `{"status":"pending"}`,
			b:        "",
			expected: map[string]interface{}{"status": "pending"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := mergeJSON(json.RawMessage(tt.a), json.RawMessage(tt.b))
			var got map[string]interface{}
			if err := json.Unmarshal(merged, &got); err != nil {
				t.Fatalf("mergeJSON produced invalid JSON: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("mergeJSON = %v; want %v", got, tt.expected)
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("mergeJSON[%q] = %v; want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestOutcomeFromStatus(t *testing.T) {
	tests := []struct {
		status   models.TransactionStatus
		expected CallbackOutcome
	}{
		{models.TransactionStatusSuccess, OutcomeSuccess},
		{models.TransactionStatusRefunded, OutcomeSuccess},
		{models.TransactionStatusFailed, OutcomeFailed},
		{models.TransactionStatusCancelled, OutcomeCancelled},
		{models.TransactionStatusPending, OutcomePending},
		{models.TransactionStatusProcessing, OutcomePending},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := outcomeFromStatus(tt.status); got != tt.expected {
				t.Errorf("outcomeFromStatus(%s) = %s; want %s", tt.status, got, tt.expected)
			}
		})
	}
}

func TestPaymentDataValidate(t *testing.T) {
	valid := PaymentData{
		Amount:   100,
		Currency: "EGP",
		Payable:  &models.PayableRef{Kind: models.PayableKindOrder, ID: 7},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v; want nil", err)
	}

	zeroAmount := PaymentData{Amount: 0}
	if err := zeroAmount.Validate(); err == nil {
		t.Error("Validate() with zero amount should fail")
	}

	badKind := PaymentData{
		Amount:  100,
		Payable: &models.PayableRef{Kind: "voucher", ID: 7},
	}
	if err := badKind.Validate(); err == nil {
		t.Error("Validate() with unknown payable kind should fail")
	}
}
