package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"dukani_payments/internal/models"
	"dukani_payments/internal/services"
)

// PaymentHandler serves the checkout-facing initiation and status endpoints.
type PaymentHandler struct {
	payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// InitiateRequest is the body for POST /api/payments/:gateway/initiate
type InitiateRequest struct {
	Amount      float64            `json:"amount"`
	Currency    string             `json:"currency"`
	Description string             `json:"description"`
	Customer    *services.Customer `json:"customer,omitempty"`
	Payable     *models.PayableRef `json:"payable,omitempty"`
	UserID      *uint              `json:"user_id,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// Initiate starts a payment attempt on the gateway named in the route.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	slug := c.Param("gateway")
	if slug == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing gateway slug")
	}

	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Amount must be greater than zero")
	}

	data := services.PaymentData{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		Customer:    req.Customer,
		Payable:     req.Payable,
		UserID:      req.UserID,
		Metadata:    req.Metadata,
	}

	result, err := h.payments.Initiate(c.Request().Context(), slug, data)
	if err != nil {
		if errors.Is(err, services.ErrGatewayNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Payment gateway unavailable")
		}
		// Provider-side failure: the ledger row is already marked failed,
		// surface only the sanitized message.
		return c.JSON(http.StatusBadGateway, initiationResponse(result))
	}

	return c.JSON(http.StatusOK, initiationResponse(result))
}

// PaySkyInfo exposes the non-secret lightbox parameters the checkout
// frontend needs to embed the PaySky payment form.
func (h *PaymentHandler) PaySkyInfo(c echo.Context) error {
	provider, err := h.payments.Provider(c.Request().Context(), models.GatewaySlugPaySky)
	if err != nil {
		if errors.Is(err, services.ErrGatewayNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Payment gateway unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load gateway info")
	}
	paysky, ok := provider.(*services.PaySkyService)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load gateway info")
	}
	return c.JSON(http.StatusOK, paysky.GatewayInfo())
}

// GetStatus returns the ledger view of a transaction by internal reference.
func (h *PaymentHandler) GetStatus(c echo.Context) error {
	reference := c.Param("reference")
	if reference == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing transaction reference")
	}

	txn, err := h.payments.GetTransaction(c.Request().Context(), reference)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Transaction not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch transaction")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"transaction_id":         txn.TransactionID,
		"gateway_transaction_id": txn.GatewayTransactionID,
		"status":                 txn.Status,
		"amount":                 txn.Amount,
		"currency":               txn.Currency,
		"payment_method":         txn.PaymentMethod,
		"failure_reason":         txn.FailureReason,
		"paid_at":                txn.PaidAt,
		"failed_at":              txn.FailedAt,
		"created_at":             txn.CreatedAt,
	})
}

func initiationResponse(result *services.InitiationResult) map[string]interface{} {
	resp := map[string]interface{}{
		"success": result.Success,
	}
	if result.TransactionID != "" {
		resp["transaction_id"] = result.TransactionID
	}
	if result.PaymentURL != "" {
		resp["payment_url"] = result.PaymentURL
	}
	if result.CheckoutConfig != nil {
		resp["checkout_config"] = result.CheckoutConfig
	}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	return resp
}
