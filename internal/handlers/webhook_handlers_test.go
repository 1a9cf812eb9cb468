package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"dukani_payments/internal/services"
)

func TestDecodeCallbackBodyPreservesNumbers(t *testing.T) {
	e := echo.New()
	body := `{"merchantTransactionId":"TXN-ABC","amount":150.75,"attempt":3}`
	req := httptest.NewRequest(echo.POST, "/api/payments/easykash/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	payload, raw, err := decodeCallbackBody(c)
	if err != nil {
		t.Fatalf("decodeCallbackBody() error = %v", err)
	}
	if string(raw) != body {
		t.Errorf("raw body = %q; want the unmodified wire bytes", raw)
	}
	if _, ok := payload["amount"].(json.Number); !ok {
		t.Errorf("amount decoded as %T; want json.Number", payload["amount"])
	}
	if payloadString(payload, "amount") != "150.75" {
		t.Errorf("amount = %q; want the wire literal 150.75", payloadString(payload, "amount"))
	}
}

func TestDecodeCallbackBodyRejectsInvalidJSON(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(echo.POST, "/callback", strings.NewReader("not json"))
	c := e.NewContext(req, httptest.NewRecorder())

	if _, _, err := decodeCallbackBody(c); err == nil {
		t.Error("decodeCallbackBody() should fail on a non-JSON body")
	}
}

func TestPayloadString(t *testing.T) {
	payload := map[string]interface{}{
		"reference": "TXN-ABC",
		"code":      json.Number("51"),
		"missing":   nil,
	}
	if got := payloadString(payload, "reference"); got != "TXN-ABC" {
		t.Errorf("payloadString(reference) = %q", got)
	}
	if got := payloadString(payload, "code"); got != "51" {
		t.Errorf("payloadString(code) = %q; want 51", got)
	}
	if got := payloadString(payload, "missing"); got != "" {
		t.Errorf("payloadString(missing) = %q; want empty", got)
	}
}

func TestCallbackResponse(t *testing.T) {
	resp := callbackResponse(&services.CallbackResult{
		Outcome: services.OutcomeSuccess,
		Message: "Payment successful",
	})
	if resp["success"] != true {
		t.Errorf("success = %v; want true for a success outcome", resp["success"])
	}

	resp = callbackResponse(&services.CallbackResult{Outcome: services.OutcomePending})
	if resp["success"] != false {
		t.Errorf("success = %v; pending must not report success", resp["success"])
	}

	resp = callbackResponse(nil)
	if resp["success"] != false {
		t.Errorf("success = %v; nil result must not report success", resp["success"])
	}
}
