package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dukani_payments/internal/models"
)

const easyKashTestSecret = "test-hmac-secret"

func newTestEasyKash(ledger TransactionStore, baseURL string, client *http.Client) *EasyKashService {
	if client == nil {
		client = http.DefaultClient
	}
	return &EasyKashService{
		gateway: &models.PaymentGateway{
			ID:       2,
			Name:     "EasyKash",
			Slug:     models.GatewaySlugEasyKash,
			Currency: "EGP",
			IsActive: true,
		},
		ledger:      ledger,
		client:      client,
		baseURL:     baseURL,
		apiKey:      "test-api-key",
		hmacSecret:  easyKashTestSecret,
		callbackURL: "https://merchant.example/api/payments/easykash/callback",
		redirectURL: "https://merchant.example/checkout/done",
	}
}

// signEasyKash computes the callback signature the provider would send:
// HMAC-SHA256 over the key-sorted JSON encoding, signature field excluded.
func signEasyKash(t *testing.T, secret string, payload map[string]interface{}) string {
	t.Helper()
	signed := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "signature" {
			continue
		}
		signed[k] = v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(signed); err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(mac.Sum(nil))
}

// decodeWirePayload decodes a raw callback body the way the webhook handler
// does, preserving number literals.
func decodeWirePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	return payload
}

func TestEasyKashVerifyCallbackSignature(t *testing.T) {
	s := newTestEasyKash(newFakeLedger(), "http://unused", nil)

	raw := `{"merchantTransactionId":"TXN-EK00000001","amount":150.75,"status":"success","transactionId":"EK-9001"}`
	payload := decodeWirePayload(t, raw)
	signature := signEasyKash(t, easyKashTestSecret, payload)

	if !s.VerifyCallbackSignature(payload, signature) {
		t.Error("valid signature should verify")
	}
	if !s.VerifyCallbackSignature(payload, strings.ToUpper(signature)) {
		t.Error("signature comparison should accept uppercase hex")
	}

	// A signature field inside the body must not change the signed set
	payload["signature"] = signature
	if !s.VerifyCallbackSignature(payload, signature) {
		t.Error("body signature field should be excluded from the signed set")
	}

	payload["amount"] = json.Number("1.00")
	if s.VerifyCallbackSignature(payload, signature) {
		t.Error("tampered amount should not verify")
	}

	payload = decodeWirePayload(t, raw)
	wrongKey := signEasyKash(t, "some-other-secret", payload)
	if s.VerifyCallbackSignature(payload, wrongKey) {
		t.Error("signature from a different key should not verify")
	}
}

func TestEasyKashInitiate(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"paymentUrl":"https://pay.easykash.net/p/xyz","transactionId":"EK-9001"}}`))
	}))
	defer server.Close()

	ledger := newFakeLedger()
	s := newTestEasyKash(ledger, server.URL, server.Client())

	result, err := s.Initiate(context.Background(), PaymentData{
		Amount:      150.75,
		Currency:    "EGP",
		Description: "Maintenance invoice 2026-08",
		Customer:    &Customer{Name: "Test Payer", Email: "payer@example.com"},
	})
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Initiate() success = false, message %q", result.Message)
	}
	if gotAuth != "Bearer test-api-key" {
		t.Errorf("Authorization = %q; want bearer api key", gotAuth)
	}
	if gotPath != easyKashEndpointPay {
		t.Errorf("request path = %q; want %q", gotPath, easyKashEndpointPay)
	}
	if result.PaymentURL != "https://pay.easykash.net/p/xyz" {
		t.Errorf("payment url = %q", result.PaymentURL)
	}

	txn := result.Transaction
	if txn.GatewayTransactionID != "EK-9001" {
		t.Errorf("gateway transaction id = %q; want EK-9001", txn.GatewayTransactionID)
	}
	if txn.Status != models.TransactionStatusProcessing {
		t.Errorf("status = %s; want processing after provider ack", txn.Status)
	}
}

func TestEasyKashInitiateProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer server.Close()

	ledger := newFakeLedger()
	s := newTestEasyKash(ledger, server.URL, server.Client())

	result, err := s.Initiate(context.Background(), PaymentData{Amount: 50})
	if err == nil {
		t.Fatal("Initiate() should fail on provider rejection")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %T; want *ProviderError", err)
	}
	if provErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status code = %d; want 401", provErr.StatusCode)
	}
	if result.Success {
		t.Error("failure result should not report success")
	}
	if result.Transaction.Status != models.TransactionStatusFailed {
		t.Errorf("transaction status = %s; want failed", result.Transaction.Status)
	}
	if result.Transaction.FailureReason != "invalid api key" {
		t.Errorf("failure reason = %q; want provider message", result.Transaction.FailureReason)
	}
}

func TestEasyKashInitiateMissingPaymentURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ledger := newFakeLedger()
	s := newTestEasyKash(ledger, server.URL, server.Client())

	result, err := s.Initiate(context.Background(), PaymentData{Amount: 50})
	if err == nil {
		t.Fatal("Initiate() should fail when the provider sends no payment url")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %T; want *ProviderError", err)
	}
	if result.Success {
		t.Error("failure result should not report success")
	}
	if result.PaymentURL != "" {
		t.Errorf("payment url = %q; want empty on failure", result.PaymentURL)
	}
	if result.Transaction.Status != models.TransactionStatusFailed {
		t.Errorf("transaction status = %s; want failed, not stuck pending", result.Transaction.Status)
	}
}

func TestEasyKashProcessCallbackStatuses(t *testing.T) {
	tests := []struct {
		name           string
		status         string
		extra          map[string]interface{}
		wantOutcome    CallbackOutcome
		wantStatus     models.TransactionStatus
		wantErrUnknown bool
		wantMessage    string
	}{
		{
			name:        "success",
			status:      "success",
			wantOutcome: OutcomeSuccess,
			wantStatus:  models.TransactionStatusSuccess,
		},
		{
			name:        "completed counts as success",
			status:      "COMPLETED",
			wantOutcome: OutcomeSuccess,
			wantStatus:  models.TransactionStatusSuccess,
		},
		{
			name:        "declined with reason",
			status:      "declined",
			extra:       map[string]interface{}{"failureReason": "Card expired"},
			wantOutcome: OutcomeFailed,
			wantStatus:  models.TransactionStatusFailed,
			wantMessage: "Card expired",
		},
		{
			name:        "pending stays non-terminal",
			status:      "pending",
			wantOutcome: OutcomePending,
			wantStatus:  models.TransactionStatusProcessing,
		},
		{
			name:        "cancelled",
			status:      "cancelled",
			wantOutcome: OutcomeCancelled,
			wantStatus:  models.TransactionStatusCancelled,
		},
		{
			name:           "unknown status fails closed",
			status:         "mystery",
			wantOutcome:    OutcomeFailed,
			wantStatus:     models.TransactionStatusFailed,
			wantErrUnknown: true,
			wantMessage:    "Unknown payment status: mystery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			s := newTestEasyKash(ledger, "http://unused", nil)

			txn := &models.PaymentTransaction{
				TransactionID:    "TXN-EK00000001",
				PaymentGatewayID: 2,
				Status:           models.TransactionStatusPending,
			}
			ledger.Create(context.Background(), txn)

			payload := map[string]interface{}{
				"merchantTransactionId": txn.TransactionID,
				"transactionId":         "EK-9001",
				"status":                tt.status,
			}
			for k, v := range tt.extra {
				payload[k] = v
			}
			signature := signEasyKash(t, easyKashTestSecret, payload)

			result, err := s.ProcessCallback(context.Background(), payload, signature)
			if tt.wantErrUnknown {
				if !errors.Is(err, ErrUnknownStatus) {
					t.Fatalf("error = %v; want ErrUnknownStatus", err)
				}
			} else if err != nil {
				t.Fatalf("ProcessCallback() error = %v", err)
			}

			if result.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s; want %s", result.Outcome, tt.wantOutcome)
			}
			if txn.Status != tt.wantStatus {
				t.Errorf("transaction status = %s; want %s", txn.Status, tt.wantStatus)
			}
			if tt.wantMessage != "" && result.Message != tt.wantMessage {
				t.Errorf("message = %q; want %q", result.Message, tt.wantMessage)
			}
		})
	}
}

func TestEasyKashProcessCallbackBadSignature(t *testing.T) {
	ledger := newFakeLedger()
	s := newTestEasyKash(ledger, "http://unused", nil)

	txn := &models.PaymentTransaction{
		TransactionID:    "TXN-EK00000002",
		PaymentGatewayID: 2,
		Status:           models.TransactionStatusProcessing,
	}
	ledger.Create(context.Background(), txn)

	payload := map[string]interface{}{
		"merchantTransactionId": txn.TransactionID,
		"status":                "success",
	}

	_, err := s.ProcessCallback(context.Background(), payload, "deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("error = %v; want ErrInvalidSignature", err)
	}
	if txn.Status != models.TransactionStatusProcessing {
		t.Errorf("transaction status = %s; unverified callback must not transition it", txn.Status)
	}
}

func TestEasyKashInquireStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != easyKashEndpointInquiry {
			t.Errorf("inquiry path = %q; want %q", r.URL.Path, easyKashEndpointInquiry)
		}
		if got := r.URL.Query().Get("transactionId"); got != "EK-9001" {
			t.Errorf("transactionId = %q; want the gateway reference", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"status":"success","transactionId":"EK-9001"}}`))
	}))
	defer server.Close()

	ledger := newFakeLedger()
	s := newTestEasyKash(ledger, server.URL, server.Client())

	txn := &models.PaymentTransaction{
		TransactionID:        "TXN-EK00000003",
		GatewayTransactionID: "EK-9001",
		PaymentGatewayID:     2,
		Status:               models.TransactionStatusProcessing,
	}
	ledger.Create(context.Background(), txn)

	result, err := s.InquireStatus(context.Background(), txn.TransactionID)
	if err != nil {
		t.Fatalf("InquireStatus() error = %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s; want success", result.Outcome)
	}
	if txn.Status != models.TransactionStatusSuccess {
		t.Errorf("transaction status = %s; want success", txn.Status)
	}
}
