package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"dukani_payments/internal/models"
)

const (
	afsDefaultBaseURL      = "https://afs.gateway.mastercard.com/api/rest"
	afsDefaultCheckoutHost = "https://afs.gateway.mastercard.com"
	afsDefaultAPIVersion   = "73"
)

// AFSService implements the AFS (Mastercard MPGS) hosted-checkout session
// flow. There is no inbound callback signature; after the payer returns, the
// adapter re-fetches the order from the provider and treats that response as
// ground truth instead of trusting any redirect parameter.
type AFSService struct {
	gateway *models.PaymentGateway
	ledger  TransactionStore
	client  *http.Client

	baseURL      string
	checkoutHost string
	apiVersion   string
	merchantID   string
	apiUsername  string
	apiPassword  string
	appBaseURL   string
}

// NewAFSService loads the afs gateway config. client may be nil, in which
// case a 30s-timeout client is used.
func NewAFSService(ctx context.Context, gateways *GatewayStore, ledger TransactionStore, client *http.Client) (*AFSService, error) {
	gateway, err := gateways.RequireConfigured(ctx, models.GatewaySlugAFS,
		"merchant_id", "api_password")
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	merchantID := gateway.ModeCredential("merchant_id")
	apiUsername := gateway.ModeCredential("api_username")
	if apiUsername == "" {
		apiUsername = "merchant." + merchantID
	}

	appBaseURL := os.Getenv("APP_URL")
	if appBaseURL == "" {
		appBaseURL = "http://localhost:8080"
	}

	return &AFSService{
		gateway:      gateway,
		ledger:       ledger,
		client:       client,
		baseURL:      gateway.ConfigValue("api_base_url", afsDefaultBaseURL),
		checkoutHost: gateway.ConfigValue("checkout_host", afsDefaultCheckoutHost),
		apiVersion:   gateway.ConfigValue("api_version", afsDefaultAPIVersion),
		merchantID:   merchantID,
		apiUsername:  apiUsername,
		apiPassword:  gateway.ModeCredential("api_password"),
		appBaseURL:   appBaseURL,
	}, nil
}

func (s *AFSService) Slug() string { return models.GatewaySlugAFS }

// Initiate creates the ledger row and requests a hosted-checkout session.
func (s *AFSService) Initiate(ctx context.Context, data PaymentData) (*InitiationResult, error) {
	if err := data.Validate(); err != nil {
		return failedInitiation(nil, err.Error()), err
	}

	txn, err := newLedgerRow(ctx, s.ledger, s.gateway, data, "USD")
	if err != nil {
		log.Printf("[afs] failed to create transaction: %v", err)
		return failedInitiation(nil, "Session creation failed"), err
	}

	merchantName := s.gateway.Name
	if merchantName == "" {
		merchantName = "Dukani"
	}

	sessionRequest := map[string]interface{}{
		"apiOperation": "CREATE_CHECKOUT_SESSION",
		"interaction": map[string]interface{}{
			"operation": "PURCHASE",
			"returnUrl": s.gateway.ConfigValue("return_url", s.appBaseURL+"/api/payments/afs/return"),
			"cancelUrl": s.gateway.ConfigValue("cancel_url", s.appBaseURL+"/api/payments/afs/cancel"),
			"merchant": map[string]interface{}{
				"name": merchantName,
			},
		},
		"order": map[string]interface{}{
			"id":       txn.TransactionID,
			"amount":   txn.Amount,
			"currency": txn.Currency,
		},
	}

	requestJSON, _ := json.Marshal(sessionRequest)
	log.Printf("[afs] %s: creating checkout session, amount=%.2f %s", txn.TransactionID, txn.Amount, txn.Currency)

	endpoint := fmt.Sprintf("/version/%s/merchant/%s/session", s.apiVersion, s.merchantID)
	status, body, err := s.do(ctx, http.MethodPost, endpoint, requestJSON)

	updates := map[string]interface{}{"request_data": json.RawMessage(requestJSON)}
	if len(body) > 0 && json.Valid(body) {
		updates["response_data"] = json.RawMessage(body)
	}
	if uerr := s.ledger.Update(ctx, txn, updates); uerr != nil {
		log.Printf("[afs] %s: failed to store snapshots: %v", txn.TransactionID, uerr)
	}
	txn.RequestData = requestJSON
	txn.ResponseData = body

	if err != nil {
		provErr := &ProviderError{Gateway: s.Slug(), Err: err}
		log.Printf("[afs] %s: %v", txn.TransactionID, provErr)
		s.ledger.MarkFailed(ctx, txn, "Payment provider unreachable", nil)
		return failedInitiation(txn, "Session creation failed"), provErr
	}

	var parsed struct {
		Session struct {
			ID      string `json:"id"`
			Version string `json:"version"`
		} `json:"session"`
		Result string `json:"result"`
		Error  struct {
			Explanation string `json:"explanation"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)

	if status >= 300 || parsed.Session.ID == "" {
		message := parsed.Error.Explanation
		if message == "" {
			message = parsed.Result
		}
		if message == "" {
			message = "Session creation failed"
		}
		provErr := &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body)}
		log.Printf("[afs] %s: %v", txn.TransactionID, provErr)
		s.ledger.MarkFailed(ctx, txn, message, nil)
		return failedInitiation(txn, message), provErr
	}

	if err := s.ledger.Update(ctx, txn, map[string]interface{}{"gateway_transaction_id": parsed.Session.ID}); err != nil {
		log.Printf("[afs] %s: failed to store session id: %v", txn.TransactionID, err)
	}
	txn.GatewayTransactionID = parsed.Session.ID
	if err := s.ledger.MarkProcessing(ctx, txn); err != nil {
		log.Printf("[afs] %s: failed to mark processing: %v", txn.TransactionID, err)
	}

	log.Printf("[afs] %s: session created, session_id=%s", txn.TransactionID, parsed.Session.ID)
	return &InitiationResult{
		Success:       true,
		TransactionID: txn.TransactionID,
		PaymentURL:    s.checkoutURL(parsed.Session.ID),
		CheckoutConfig: map[string]string{
			"session_id":      parsed.Session.ID,
			"session_version": parsed.Session.Version,
			"merchant_id":     s.merchantID,
			"checkout_url":    s.checkoutURL(parsed.Session.ID),
		},
		Transaction: txn,
	}, nil
}

// RetrieveOrder fetches the authoritative order state from the provider.
func (s *AFSService) RetrieveOrder(ctx context.Context, orderID string) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("/version/%s/merchant/%s/order/%s", s.apiVersion, s.merchantID, orderID)
	status, body, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ProviderError{Gateway: s.Slug(), Err: err}
	}
	if status >= 300 {
		return nil, &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body)}
	}

	var order map[string]interface{}
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, &ProviderError{Gateway: s.Slug(), StatusCode: status, Body: string(body), Err: err}
	}
	return order, nil
}

// ProcessPaymentResult resolves a transaction after the payer returned from
// hosted checkout. The provider's own order state decides the outcome; an
// ambiguous intermediate state stays non-terminal and reports pending.
func (s *AFSService) ProcessPaymentResult(ctx context.Context, reference string) (*CallbackResult, error) {
	txn, err := s.ledger.FindByReference(ctx, s.Slug(), reference)
	if err != nil {
		log.Printf("[afs] %s: %v", reference, err)
		return failedCallback(nil, "Transaction not found"), err
	}

	if txn.IsTerminal() {
		log.Printf("[afs] %s: result requested for terminal transaction (status=%s)", reference, txn.Status)
		return &CallbackResult{
			Outcome:     outcomeFromStatus(txn.Status),
			Message:     "Transaction already processed",
			Transaction: txn,
		}, nil
	}

	order, err := s.RetrieveOrder(ctx, reference)
	if err != nil {
		log.Printf("[afs] %s: order retrieval failed: %v", reference, err)
		return failedCallback(txn, "Failed to retrieve order details"), err
	}

	orderJSON, _ := json.Marshal(order)
	if uerr := s.ledger.Update(ctx, txn, map[string]interface{}{
		"response_data": mergeJSON(txn.ResponseData, orderJSON),
	}); uerr != nil {
		log.Printf("[afs] %s: failed to store order snapshot: %v", reference, uerr)
	}

	orderStatus := stringField(order, "status")
	result := stringField(order, "result")
	log.Printf("[afs] %s: order status=%s result=%s", reference, orderStatus, result)

	switch {
	case orderStatus == "CAPTURED" || result == "SUCCESS":
		if method := sourceOfFundsType(order); method != "" {
			if uerr := s.ledger.Update(ctx, txn, map[string]interface{}{"payment_method": method}); uerr == nil {
				txn.PaymentMethod = method
			}
		}
		if _, err := s.ledger.MarkSuccess(ctx, txn, orderJSON); err != nil {
			return failedCallback(txn, "Failed to record payment"), err
		}
		return &CallbackResult{Outcome: OutcomeSuccess, Message: "Payment successful", Transaction: txn}, nil

	case orderStatus == "FAILED" || result == "FAILURE":
		reason := afsFailureReason(order)
		if _, err := s.ledger.MarkFailed(ctx, txn, reason, orderJSON); err != nil {
			return failedCallback(txn, "Failed to record payment failure"), err
		}
		return &CallbackResult{Outcome: OutcomeFailed, Message: reason, Transaction: txn}, nil

	default:
		// Neither captured nor failed yet; do not guess. The transaction
		// stays non-terminal for the reconciliation task to pick up.
		return &CallbackResult{Outcome: OutcomePending, Message: "Payment is being processed", Transaction: txn}, nil
	}
}

// ProcessCallback satisfies PaymentProvider. AFS has no server-pushed signed
// callback; the payload carries the merchant reference from the redirect
// return and everything else comes from RetrieveOrder.
func (s *AFSService) ProcessCallback(ctx context.Context, payload map[string]interface{}, _ string) (*CallbackResult, error) {
	reference := stringField(payload, "reference")
	if reference == "" {
		reference = stringField(payload, "transaction_id")
	}
	if reference == "" {
		return failedCallback(nil, "Missing transaction reference"), ErrTransactionNotFound
	}
	return s.ProcessPaymentResult(ctx, reference)
}

func (s *AFSService) checkoutURL(sessionID string) string {
	return fmt.Sprintf("%s/checkout/version/%s/checkout.js?session.id=%s", s.checkoutHost, s.apiVersion, sessionID)
}

func (s *AFSService) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("afs: failed to create request: %w", err)
	}
	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("afs: failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("afs: failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// sourceOfFundsType digs sourceOfFunds.type out of the order payload.
func sourceOfFundsType(order map[string]interface{}) string {
	if sof, ok := order["sourceOfFunds"].(map[string]interface{}); ok {
		return stringField(sof, "type")
	}
	return ""
}

// afsFailureReason picks the most specific failure detail the order offers.
func afsFailureReason(order map[string]interface{}) string {
	if resp, ok := order["response"].(map[string]interface{}); ok {
		if code := stringField(resp, "gatewayCode"); code != "" {
			return code
		}
	}
	if errObj, ok := order["error"].(map[string]interface{}); ok {
		if explanation := stringField(errObj, "explanation"); explanation != "" {
			return explanation
		}
	}
	return "Payment failed"
}
