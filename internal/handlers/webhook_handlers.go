package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"dukani_payments/internal/models"
	"dukani_payments/internal/services"
)

const callbackLockTTL = 30 * time.Second

// WebhookHandler receives the asynchronous provider notifications. Every
// delivery is recorded to the callback history before verification, and
// processing for one transaction reference is serialized with a redis lock
// because providers retry webhooks.
type WebhookHandler struct {
	db       *gorm.DB
	cache    *services.RedisCache
	payments *services.PaymentService
}

func NewWebhookHandler(db *gorm.DB, cache *services.RedisCache, payments *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{db: db, cache: cache, payments: payments}
}

// PaySkyCallback handles the PaySky Notification Service push.
func (h *WebhookHandler) PaySkyCallback(c echo.Context) error {
	payload, raw, err := decodeCallbackBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid callback body")
	}

	reference := payloadString(payload, "MerchantReference")
	h.recordCallback(c, models.GatewaySlugPaySky, reference, raw)

	return h.process(c, models.GatewaySlugPaySky, reference, payload, payloadString(payload, "SecureHash"))
}

// EasyKashCallback handles the EasyKash webhook. The signature arrives in
// the X-Easykash-Signature header, with a body signature field as fallback.
func (h *WebhookHandler) EasyKashCallback(c echo.Context) error {
	payload, raw, err := decodeCallbackBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid callback body")
	}

	reference := payloadString(payload, "merchantTransactionId")
	h.recordCallback(c, models.GatewaySlugEasyKash, reference, raw)

	signature := c.Request().Header.Get("X-Easykash-Signature")
	if signature == "" {
		signature = payloadString(payload, "signature")
	}

	return h.process(c, models.GatewaySlugEasyKash, reference, payload, signature)
}

// AFSReturn handles the payer's redirect back from AFS hosted checkout. No
// redirect parameter is trusted; the adapter re-fetches the order state from
// the provider.
func (h *WebhookHandler) AFSReturn(c echo.Context) error {
	reference := c.QueryParam("reference")
	if reference == "" {
		reference = c.QueryParam("order.id")
	}
	if reference == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing transaction reference")
	}

	params := map[string]interface{}{"reference": reference}
	if indicator := c.QueryParam("resultIndicator"); indicator != "" {
		params["resultIndicator"] = indicator
	}
	raw, _ := json.Marshal(params)
	h.recordCallback(c, models.GatewaySlugAFS, reference, raw)

	return h.process(c, models.GatewaySlugAFS, reference, params, "")
}

// process runs the shared verify-and-apply pipeline for one delivery.
func (h *WebhookHandler) process(c echo.Context, slug, reference string, payload map[string]interface{}, signature string) error {
	ctx := c.Request().Context()

	if reference != "" && h.cache != nil {
		acquired, err := h.cache.AcquireCallbackLock(ctx, reference, callbackLockTTL)
		if err != nil {
			log.Printf("[webhook] %s: callback lock error: %v", reference, err)
		} else if !acquired {
			log.Printf("[webhook] %s: concurrent callback delivery, rejecting", reference)
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"success": false,
				"message": "Callback already being processed",
			})
		} else {
			defer h.cache.ReleaseCallbackLock(ctx, reference)
		}
	}

	provider, err := h.payments.Provider(ctx, slug)
	if err != nil {
		log.Printf("[webhook] %s: gateway unavailable: %v", slug, err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Payment gateway unavailable")
	}

	result, err := provider.ProcessCallback(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidSignature):
			return c.JSON(http.StatusBadRequest, callbackResponse(result))
		case errors.Is(err, services.ErrTransactionNotFound):
			return c.JSON(http.StatusNotFound, callbackResponse(result))
		case errors.Is(err, services.ErrUnknownStatus):
			// Verified delivery with an unrecognized status: the transaction
			// is failed and the provider should not retry.
			h.markVerified(c, slug, reference)
			return c.JSON(http.StatusOK, callbackResponse(result))
		default:
			return c.JSON(http.StatusInternalServerError, callbackResponse(result))
		}
	}

	h.markVerified(c, slug, reference)
	return c.JSON(http.StatusOK, callbackResponse(result))
}

// recordCallback persists the delivery before any verification so even
// rejected callbacks leave an audit trace.
func (h *WebhookHandler) recordCallback(c echo.Context, slug, reference string, raw []byte) {
	entry := models.PaymentCallbackHistory{
		GatewaySlug:          slug,
		TransactionReference: reference,
		Payload:              raw,
	}
	if err := h.db.WithContext(c.Request().Context()).Create(&entry).Error; err != nil {
		log.Printf("[webhook] %s: failed to record callback history: %v", slug, err)
	}
}

func (h *WebhookHandler) markVerified(c echo.Context, slug, reference string) {
	if reference == "" {
		return
	}
	h.db.WithContext(c.Request().Context()).
		Model(&models.PaymentCallbackHistory{}).
		Where("gateway_slug = ? AND transaction_reference = ? AND verified = ?", slug, reference, false).
		Update("verified", true)
}

// decodeCallbackBody reads the raw body and decodes it preserving number
// literals, which the EasyKash signature scheme depends on.
func decodeCallbackBody(c echo.Context) (map[string]interface{}, []byte, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, nil, err
	}

	payload := map[string]interface{}{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, raw, err
	}
	return payload, raw, nil
}

// payloadString mirrors services' string extraction for handler-level needs.
func payloadString(payload map[string]interface{}, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func callbackResponse(result *services.CallbackResult) map[string]interface{} {
	if result == nil {
		return map[string]interface{}{"success": false}
	}
	resp := map[string]interface{}{
		"success": result.Outcome == services.OutcomeSuccess,
		"status":  result.Outcome,
	}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	if result.Transaction != nil {
		resp["transaction_id"] = result.Transaction.TransactionID
	}
	return resp
}
