package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"dukani_payments/internal/models"
)

const (
	paySkyTestLightboxURL = "https://grey.paysky.io:9006/invchost/JS/LightBox.js"
	paySkyLiveLightboxURL = "https://cube.paysky.io:6006/js/LightBox.js"

	// PaySky timestamps are GMT in this exact layout
	paySkyTimeLayout = "Mon, 02 Jan 2006 15:04:05"
)

// PaySkyService implements the PaySky hosted-checkout (lightbox) flow.
// Initiation is entirely client-side: the adapter signs the amount and
// reference and hands back embeddable config; the provider later pushes a
// signed notification to the webhook endpoint.
type PaySkyService struct {
	gateway *models.PaymentGateway
	ledger  TransactionStore

	merchantID  string
	terminalID  string
	secretKey   []byte
	lightboxURL string
}

// NewPaySkyService loads the paysky gateway config and fails fast when the
// merchant credentials are absent.
func NewPaySkyService(ctx context.Context, gateways *GatewayStore, ledger TransactionStore) (*PaySkyService, error) {
	gateway, err := gateways.RequireConfigured(ctx, models.GatewaySlugPaySky,
		"merchant_id", "terminal_id", "secret_key")
	if err != nil {
		return nil, err
	}

	secret, err := hex.DecodeString(gateway.ModeCredential("secret_key"))
	if err != nil {
		return nil, fmt.Errorf("paysky: secret key is not valid hex: %w", ErrGatewayNotConfigured)
	}

	defaultLightbox := paySkyLiveLightboxURL
	if gateway.IsTestMode {
		defaultLightbox = paySkyTestLightboxURL
	}

	return &PaySkyService{
		gateway:     gateway,
		ledger:      ledger,
		merchantID:  gateway.ModeCredential("merchant_id"),
		terminalID:  gateway.ModeCredential("terminal_id"),
		secretKey:   secret,
		lightboxURL: gateway.ModeConfigValue("lightbox_url", defaultLightbox),
	}, nil
}

func (s *PaySkyService) Slug() string { return models.GatewaySlugPaySky }

// Initiate creates the ledger row and returns lightbox config. PaySky has no
// server-side initiation call, so the only failure mode here is the ledger.
func (s *PaySkyService) Initiate(ctx context.Context, data PaymentData) (*InitiationResult, error) {
	if err := data.Validate(); err != nil {
		return failedInitiation(nil, err.Error()), err
	}

	txn, err := newLedgerRow(ctx, s.ledger, s.gateway, data, "EGP")
	if err != nil {
		log.Printf("[paysky] failed to create transaction: %v", err)
		return failedInitiation(nil, "Payment initialization failed"), err
	}

	trxDateTime := time.Now().UTC().Format(paySkyTimeLayout) + " GMT"

	// Amount in the smallest currency unit (piasters for EGP)
	amountPiasters := int64(math.Round(txn.Amount * 100))

	secureHash := s.signInitiation(trxDateTime, amountPiasters, txn.TransactionID)

	config := map[string]string{
		"MID":               s.merchantID,
		"TID":               s.terminalID,
		"AmountTrxn":        fmt.Sprintf("%d", amountPiasters),
		"SecureHash":        secureHash,
		"MerchantReference": txn.TransactionID,
		"TrxDateTime":       trxDateTime,
	}

	requestData, _ := json.Marshal(config)
	if err := s.ledger.Update(ctx, txn, map[string]interface{}{"request_data": json.RawMessage(requestData)}); err != nil {
		log.Printf("[paysky] %s: failed to store request snapshot: %v", txn.TransactionID, err)
	}
	txn.RequestData = requestData

	log.Printf("[paysky] %s: payment initialized, amount=%.2f %s", txn.TransactionID, txn.Amount, txn.Currency)

	config["LightboxURL"] = s.lightboxURL
	return &InitiationResult{
		Success:        true,
		TransactionID:  txn.TransactionID,
		CheckoutConfig: config,
		Transaction:    txn,
	}, nil
}

// signInitiation computes the initiation secure hash. Field set and order
// are fixed by PaySky: Amount, DateTimeLocalTrxn, MerchantId,
// MerchantReference, TerminalId.
func (s *PaySkyService) signInitiation(trxDateTime string, amountPiasters int64, reference string) string {
	payload := fmt.Sprintf(
		"Amount=%d&DateTimeLocalTrxn=%s&MerchantId=%s&MerchantReference=%s&TerminalId=%s",
		amountPiasters, trxDateTime, s.merchantID, reference, s.terminalID,
	)
	return s.hmacHex(payload)
}

// notificationHash computes the callback secure hash. The notification hash
// covers Amount, Currency, DateTimeLocalTrxn, MerchantId, TerminalId — a
// narrower field set than initiation, with Currency instead of the
// merchant reference.
func (s *PaySkyService) notificationHash(amount, currency, dateTimeLocalTrxn string) string {
	payload := fmt.Sprintf(
		"Amount=%s&Currency=%s&DateTimeLocalTrxn=%s&MerchantId=%s&TerminalId=%s",
		amount, currency, dateTimeLocalTrxn, s.merchantID, s.terminalID,
	)
	return s.hmacHex(payload)
}

func (s *PaySkyService) hmacHex(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyNotificationHash recomputes the notification hash and compares it in
// constant time.
func (s *PaySkyService) VerifyNotificationHash(payload map[string]interface{}, receivedHash string) bool {
	expected := s.notificationHash(
		stringField(payload, "Amount"),
		stringField(payload, "Currency"),
		stringField(payload, "DateTimeLocalTrxn"),
	)
	return hmac.Equal([]byte(expected), []byte(strings.ToUpper(receivedHash)))
}

// ProcessCallback authenticates and applies a PaySky notification.
func (s *PaySkyService) ProcessCallback(ctx context.Context, payload map[string]interface{}, signature string) (*CallbackResult, error) {
	merchantReference := stringField(payload, "MerchantReference")
	secureHash := signature
	if secureHash == "" {
		secureHash = stringField(payload, "SecureHash")
	}

	if merchantReference == "" || secureHash == "" {
		log.Printf("[paysky] notification missing required fields")
		return failedCallback(nil, "Missing required fields"), errors.New("paysky: notification missing MerchantReference or SecureHash")
	}

	// The notification must name our own merchant and terminal; anything
	// else is a cross-tenant replay.
	if stringField(payload, "MerchantId") != s.merchantID || stringField(payload, "TerminalId") != s.terminalID {
		log.Printf("[paysky] %s: notification merchant/terminal mismatch", merchantReference)
		return failedCallback(nil, "Invalid merchant or terminal"), ErrInvalidSignature
	}

	if !s.VerifyNotificationHash(payload, secureHash) {
		log.Printf("[paysky] %s: notification secure hash mismatch", merchantReference)
		return failedCallback(nil, ErrInvalidSignature.Error()), ErrInvalidSignature
	}

	txn, err := s.ledger.FindByReference(ctx, s.Slug(), merchantReference)
	if err != nil {
		log.Printf("[paysky] %s: %v", merchantReference, err)
		return failedCallback(nil, "Transaction not found"), err
	}

	if txn.IsTerminal() {
		log.Printf("[paysky] %s: duplicate notification for terminal transaction (status=%s)", merchantReference, txn.Status)
		return &CallbackResult{
			Outcome:     outcomeFromStatus(txn.Status),
			Message:     "Transaction already processed",
			Transaction: txn,
		}, nil
	}

	callbackJSON, _ := json.Marshal(payload)
	updates := map[string]interface{}{
		"callback_data": json.RawMessage(callbackJSON),
	}
	if systemReference := stringField(payload, "SystemReference"); systemReference != "" {
		updates["gateway_transaction_id"] = systemReference
		txn.GatewayTransactionID = systemReference
	}
	if paidThrough := stringField(payload, "PaidThrough"); paidThrough != "" {
		updates["payment_method"] = paidThrough
		txn.PaymentMethod = paidThrough
	}
	if err := s.ledger.Update(ctx, txn, updates); err != nil {
		log.Printf("[paysky] %s: failed to store callback snapshot: %v", merchantReference, err)
	}
	txn.CallbackData = callbackJSON

	actionCode := stringField(payload, "ActionCode")
	if actionCode == "00" {
		if _, err := s.ledger.MarkSuccess(ctx, txn, callbackJSON); err != nil {
			return failedCallback(txn, "Failed to record payment"), err
		}
		log.Printf("[paysky] %s: payment successful, system_reference=%s", merchantReference, txn.GatewayTransactionID)
		return &CallbackResult{Outcome: OutcomeSuccess, Message: "Payment successful", Transaction: txn}, nil
	}

	reason := fmt.Sprintf("Payment failed - Code: %s, Message: %s", actionCode, stringField(payload, "Message"))
	if _, err := s.ledger.MarkFailed(ctx, txn, reason, callbackJSON); err != nil {
		return failedCallback(txn, "Failed to record payment failure"), err
	}
	log.Printf("[paysky] %s: payment failed, action_code=%s", merchantReference, actionCode)
	return &CallbackResult{Outcome: OutcomeFailed, Message: reason, Transaction: txn}, nil
}

// GatewayInfo exposes non-secret gateway details for the checkout frontend.
func (s *PaySkyService) GatewayInfo() map[string]interface{} {
	return map[string]interface{}{
		"name":         s.gateway.Name,
		"slug":         s.gateway.Slug,
		"merchant_id":  s.merchantID,
		"terminal_id":  s.terminalID,
		"currency":     s.gateway.Currency,
		"is_test_mode": s.gateway.IsTestMode,
		"lightbox_url": s.lightboxURL,
	}
}
