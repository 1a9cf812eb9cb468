package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dukani_payments/internal/models"
)

const (
	easyKashDefaultBaseURL  = "https://api.easykash.net"
	easyKashEndpointPay     = "/pay"
	easyKashEndpointInquiry = "/payment/inquiry"
)

// EasyKashService implements the EasyKash redirect flow: a synchronous /pay
// call returns a hosted payment URL, and the provider later pushes a
// HMAC-signed JSON callback.
type EasyKashService struct {
	gateway *models.PaymentGateway
	ledger  TransactionStore
	client  *http.Client

	baseURL     string
	apiKey      string
	hmacSecret  string
	callbackURL string
	redirectURL string
}

// NewEasyKashService loads the easykash gateway config. client may be nil,
// in which case a 30s-timeout client is used.
func NewEasyKashService(ctx context.Context, gateways *GatewayStore, ledger TransactionStore, client *http.Client) (*EasyKashService, error) {
	gateway, err := gateways.RequireConfigured(ctx, models.GatewaySlugEasyKash,
		"api_key", "hmac_secret")
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &EasyKashService{
		gateway:     gateway,
		ledger:      ledger,
		client:      client,
		baseURL:     gateway.ConfigValue("api_base_url", easyKashDefaultBaseURL),
		apiKey:      gateway.ModeCredential("api_key"),
		hmacSecret:  gateway.ModeCredential("hmac_secret"),
		callbackURL: gateway.Credential("callback_url"),
		redirectURL: gateway.Credential("redirect_url"),
	}, nil
}

func (s *EasyKashService) Slug() string { return models.GatewaySlugEasyKash }

type easyKashPayRequest struct {
	Amount                float64           `json:"amount"`
	Currency              string            `json:"currency"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	Description           string            `json:"description"`
	CallbackURL           string            `json:"callbackUrl"`
	RedirectURL           string            `json:"redirectUrl"`
	Customer              Customer          `json:"customer"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

type easyKashResponse struct {
	Message string `json:"message"`
	Data    struct {
		PaymentURL    string `json:"paymentUrl"`
		TransactionID string `json:"transactionId"`
		Reference     string `json:"reference"`
		Status        string `json:"status"`
		FailureReason string `json:"failureReason"`
	} `json:"data"`
}

// Initiate creates the ledger row, calls /pay and persists the provider's
// payment URL and reference. Network failures mark the transaction failed;
// there is no retry at this layer.
func (s *EasyKashService) Initiate(ctx context.Context, data PaymentData) (*InitiationResult, error) {
	if err := data.Validate(); err != nil {
		return failedInitiation(nil, err.Error()), err
	}

	txn, err := newLedgerRow(ctx, s.ledger, s.gateway, data, "EGP")
	if err != nil {
		log.Printf("[easykash] failed to create transaction: %v", err)
		return failedInitiation(nil, "Payment initialization failed"), err
	}
	if err := s.ledger.Update(ctx, txn, map[string]interface{}{
		"callback_url": s.callbackURL,
		"redirect_url": s.redirectURL,
	}); err != nil {
		log.Printf("[easykash] %s: failed to store urls: %v", txn.TransactionID, err)
	}

	payload := easyKashPayRequest{
		Amount:                txn.Amount,
		Currency:              txn.Currency,
		MerchantTransactionID: txn.TransactionID,
		Description:           txn.Description,
		CallbackURL:           s.callbackURL,
		RedirectURL:           s.redirectURL,
		Metadata:              data.Metadata,
	}
	if data.Customer != nil {
		payload.Customer = *data.Customer
	}

	requestJSON, _ := json.Marshal(payload)
	log.Printf("[easykash] %s: sending payment request, amount=%.2f %s", txn.TransactionID, txn.Amount, txn.Currency)

	status, body, err := s.post(ctx, easyKashEndpointPay, requestJSON)
	updates := map[string]interface{}{"request_data": json.RawMessage(requestJSON)}
	if len(body) > 0 && json.Valid(body) {
		updates["response_data"] = json.RawMessage(body)
	}
	if uerr := s.ledger.Update(ctx, txn, updates); uerr != nil {
		log.Printf("[easykash] %s: failed to store snapshots: %v", txn.TransactionID, uerr)
	}
	txn.RequestData = requestJSON
	txn.ResponseData = body

	if err != nil {
		provErr := &ProviderError{Gateway: s.Slug(), Err: err}
		log.Printf("[easykash] %s: %v", txn.TransactionID, provErr)
		s.ledger.MarkFailed(ctx, txn, "Payment provider unreachable", nil)
		return failedInitiation(txn, "Payment initialization failed"), provErr
	}

	var parsed easyKashResponse
	if jerr := json.Unmarshal(body, &parsed); jerr != nil && status < 300 {
		provErr := &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body), Err: jerr}
		s.ledger.MarkFailed(ctx, txn, "Invalid provider response", nil)
		return failedInitiation(txn, "Payment initialization failed"), provErr
	}

	if status >= 300 {
		message := parsed.Message
		if message == "" {
			message = "Payment initiation failed"
		}
		provErr := &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body)}
		log.Printf("[easykash] %s: %v", txn.TransactionID, provErr)
		s.ledger.MarkFailed(ctx, txn, message, nil)
		return failedInitiation(txn, message), provErr
	}

	// A 2xx reply without a payment URL gives the payer nowhere to go;
	// treat it like any other provider failure.
	if parsed.Data.PaymentURL == "" {
		provErr := &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body)}
		log.Printf("[easykash] %s: provider response missing payment url", txn.TransactionID)
		s.ledger.MarkFailed(ctx, txn, "Invalid provider response", nil)
		return failedInitiation(txn, "Payment initialization failed"), provErr
	}

	gatewayRef := parsed.Data.TransactionID
	if gatewayRef == "" {
		gatewayRef = parsed.Data.Reference
	}
	if gatewayRef != "" {
		if err := s.ledger.Update(ctx, txn, map[string]interface{}{"gateway_transaction_id": gatewayRef}); err != nil {
			log.Printf("[easykash] %s: failed to store gateway reference: %v", txn.TransactionID, err)
		}
		txn.GatewayTransactionID = gatewayRef
		if err := s.ledger.MarkProcessing(ctx, txn); err != nil {
			log.Printf("[easykash] %s: failed to mark processing: %v", txn.TransactionID, err)
		}
	}

	log.Printf("[easykash] %s: payment created, gateway_reference=%s", txn.TransactionID, gatewayRef)
	return &InitiationResult{
		Success:       true,
		TransactionID: txn.TransactionID,
		PaymentURL:    parsed.Data.PaymentURL,
		Transaction:   txn,
	}, nil
}

// VerifyCallbackSignature checks the HMAC over the alphabetically-key-sorted
// JSON encoding of the callback body. Any signature field inside the body is
// excluded from the signed set. The payload must have been decoded with
// json.Number so numbers re-encode byte-identically.
func (s *EasyKashService) VerifyCallbackSignature(payload map[string]interface{}, receivedSignature string) bool {
	signed := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "signature" {
			continue
		}
		signed[k] = v
	}

	// json.Marshal sorts map keys; disable HTML escaping to match the
	// provider's canonical encoding
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(signed); err != nil {
		return false
	}
	canonical := bytes.TrimRight(buf.Bytes(), "\n")

	mac := hmac.New(sha256.New, []byte(s.hmacSecret))
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(receivedSignature)))
}

// ProcessCallback authenticates an EasyKash callback and applies the
// provider's status to the ledger.
func (s *EasyKashService) ProcessCallback(ctx context.Context, payload map[string]interface{}, signature string) (*CallbackResult, error) {
	if signature == "" {
		signature = stringField(payload, "signature")
	}
	if signature == "" || !s.VerifyCallbackSignature(payload, signature) {
		log.Printf("[easykash] callback signature verification failed")
		return failedCallback(nil, ErrInvalidSignature.Error()), ErrInvalidSignature
	}

	merchantTransactionID := stringField(payload, "merchantTransactionId")
	if merchantTransactionID == "" {
		return failedCallback(nil, "Missing merchantTransactionId in callback"), errors.New("easykash: callback missing merchantTransactionId")
	}

	txn, err := s.ledger.FindByReference(ctx, s.Slug(), merchantTransactionID)
	if err != nil {
		log.Printf("[easykash] %s: %v", merchantTransactionID, err)
		return failedCallback(nil, "Transaction not found"), err
	}

	if txn.IsTerminal() {
		log.Printf("[easykash] %s: duplicate callback for terminal transaction (status=%s)", merchantTransactionID, txn.Status)
		return &CallbackResult{
			Outcome:     outcomeFromStatus(txn.Status),
			Message:     "Transaction already processed",
			Transaction: txn,
		}, nil
	}

	callbackJSON, _ := json.Marshal(payload)
	updates := map[string]interface{}{"callback_data": json.RawMessage(callbackJSON)}
	if gatewayID := stringField(payload, "transactionId"); gatewayID != "" {
		updates["gateway_transaction_id"] = gatewayID
		txn.GatewayTransactionID = gatewayID
	}
	if reference := stringField(payload, "reference"); reference != "" {
		updates["gateway_reference"] = reference
		txn.GatewayReference = reference
	}
	if method := stringField(payload, "paymentMethod"); method != "" {
		updates["payment_method"] = method
		txn.PaymentMethod = method
	}
	if err := s.ledger.Update(ctx, txn, updates); err != nil {
		log.Printf("[easykash] %s: failed to store callback snapshot: %v", merchantTransactionID, err)
	}
	txn.CallbackData = callbackJSON

	status := strings.ToLower(stringField(payload, "status"))
	return s.applyStatus(ctx, txn, status, payload, callbackJSON)
}

// applyStatus normalizes the EasyKash status vocabulary into the shared
// enum. Unrecognized statuses fail the transaction rather than silently
// succeeding.
func (s *EasyKashService) applyStatus(ctx context.Context, txn *models.PaymentTransaction, status string, payload map[string]interface{}, snapshot json.RawMessage) (*CallbackResult, error) {
	switch status {
	case "success", "successful", "completed", "paid":
		if _, err := s.ledger.MarkSuccess(ctx, txn, snapshot); err != nil {
			return failedCallback(txn, "Failed to record payment"), err
		}
		log.Printf("[easykash] %s: payment successful", txn.TransactionID)
		return &CallbackResult{Outcome: OutcomeSuccess, Message: "Payment successful", Transaction: txn}, nil

	case "failed", "declined", "rejected":
		reason := stringField(payload, "failureReason")
		if reason == "" {
			reason = stringField(payload, "message")
		}
		if reason == "" {
			reason = "Payment failed"
		}
		if _, err := s.ledger.MarkFailed(ctx, txn, reason, snapshot); err != nil {
			return failedCallback(txn, "Failed to record payment failure"), err
		}
		log.Printf("[easykash] %s: payment failed: %s", txn.TransactionID, reason)
		return &CallbackResult{Outcome: OutcomeFailed, Message: reason, Transaction: txn}, nil

	case "pending", "processing":
		if err := s.ledger.MarkProcessing(ctx, txn); err != nil {
			return failedCallback(txn, "Failed to update transaction"), err
		}
		return &CallbackResult{Outcome: OutcomePending, Message: "Payment is processing", Transaction: txn}, nil

	case "cancelled", "canceled":
		if _, err := s.ledger.MarkCancelled(ctx, txn, snapshot); err != nil {
			return failedCallback(txn, "Failed to record cancellation"), err
		}
		log.Printf("[easykash] %s: payment cancelled", txn.TransactionID)
		return &CallbackResult{Outcome: OutcomeCancelled, Message: "Payment cancelled", Transaction: txn}, nil

	default:
		reason := "Unknown payment status: " + status
		log.Printf("[easykash] %s: WARNING %s", txn.TransactionID, reason)
		if _, err := s.ledger.MarkFailed(ctx, txn, reason, snapshot); err != nil {
			return failedCallback(txn, "Failed to record payment failure"), err
		}
		return failedCallback(txn, reason), fmt.Errorf("easykash: %w: %s", ErrUnknownStatus, status)
	}
}

// InquireStatus re-fetches the authoritative payment state from EasyKash and
// applies it with the normal vocabulary. The reconciliation task uses this
// for transactions stuck in processing.
func (s *EasyKashService) InquireStatus(ctx context.Context, reference string) (*CallbackResult, error) {
	txn, err := s.ledger.FindByReference(ctx, s.Slug(), reference)
	if err != nil {
		return failedCallback(nil, "Transaction not found"), err
	}

	lookup := txn.GatewayTransactionID
	if lookup == "" {
		lookup = txn.TransactionID
	}

	endpoint := easyKashEndpointInquiry + "?transactionId=" + url.QueryEscape(lookup)
	status, body, err := s.get(ctx, endpoint)
	if err != nil {
		provErr := &ProviderError{Gateway: s.Slug(), Err: err}
		log.Printf("[easykash] %s: inquiry failed: %v", reference, provErr)
		return failedCallback(txn, "Status inquiry failed"), provErr
	}
	if status >= 300 {
		provErr := &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body)}
		log.Printf("[easykash] %s: inquiry failed: %v", reference, provErr)
		return failedCallback(txn, "Status inquiry failed"), provErr
	}

	var parsed easyKashResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return failedCallback(txn, "Invalid provider response"), &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body), Err: err}
	}

	if txn.IsTerminal() {
		return &CallbackResult{Outcome: outcomeFromStatus(txn.Status), Message: "Transaction already processed", Transaction: txn}, nil
	}

	payload := map[string]interface{}{
		"status":        parsed.Data.Status,
		"failureReason": parsed.Data.FailureReason,
	}
	snapshot := json.RawMessage(body)
	inquiryStatus := strings.ToLower(parsed.Data.Status)
	if inquiryStatus == "" {
		return &CallbackResult{Outcome: OutcomePending, Message: "Payment is processing", Transaction: txn}, nil
	}
	return s.applyStatus(ctx, txn, inquiryStatus, payload, snapshot)
}

func (s *EasyKashService) post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	return s.do(ctx, http.MethodPost, endpoint, body)
}

func (s *EasyKashService) get(ctx context.Context, endpoint string) (int, []byte, error) {
	return s.do(ctx, http.MethodGet, endpoint, nil)
}

func (s *EasyKashService) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("easykash: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("easykash: failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("easykash: failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
