package models

import (
	"strings"
	"testing"
)

func TestNewTransactionReference(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ref := NewTransactionReference()
		if !strings.HasPrefix(ref, "TXN-") {
			t.Fatalf("reference %q should start with TXN-", ref)
		}
		if len(ref) != len("TXN-")+12 {
			t.Fatalf("reference %q should carry 12 id characters", ref)
		}
		if ref != strings.ToUpper(ref) {
			t.Fatalf("reference %q should be uppercase", ref)
		}
		if seen[ref] {
			t.Fatalf("reference %q generated twice", ref)
		}
		seen[ref] = true
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TransactionStatus
		terminal bool
	}{
		{TransactionStatusPending, false},
		{TransactionStatusProcessing, false},
		{TransactionStatusSuccess, true},
		{TransactionStatusFailed, true},
		{TransactionStatusCancelled, true},
		{TransactionStatusRefunded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v; want %v", got, tt.terminal)
			}
		})
	}
}

func TestBeforeCreateFillsDerivedFields(t *testing.T) {
	txn := PaymentTransaction{Amount: 120, Fee: 3.5}
	if err := txn.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate() error = %v", err)
	}
	if txn.TransactionID == "" {
		t.Error("BeforeCreate() should generate a transaction reference")
	}
	if txn.NetAmount != 116.5 {
		t.Errorf("NetAmount = %v; want 116.5", txn.NetAmount)
	}

	preset := PaymentTransaction{TransactionID: "TXN-KEEPME000001", Amount: 10}
	if err := preset.BeforeCreate(nil); err != nil {
		t.Fatalf("BeforeCreate() error = %v", err)
	}
	if preset.TransactionID != "TXN-KEEPME000001" {
		t.Errorf("BeforeCreate() must not replace a preset reference, got %q", preset.TransactionID)
	}
}
