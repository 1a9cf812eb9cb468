package models

import "testing"

func testGateway(testMode bool) *PaymentGateway {
	return &PaymentGateway{
		Slug:       GatewaySlugPaySky,
		IsActive:   true,
		IsTestMode: testMode,
		Credentials: map[string]string{
			"merchant_id":      "10001",
			"test_merchant_id": "90001",
			"secret_key":       "livekey",
		},
		Config: map[string]string{
			"api_version": "73",
		},
	}
}

func TestModeCredential(t *testing.T) {
	tests := []struct {
		name     string
		testMode bool
		key      string
		expected string
	}{
		{
			name:     "test mode prefers test_ prefixed value",
			testMode: true,
			key:      "merchant_id",
			expected: "90001",
		},
		{
			name:     "live mode uses plain value",
			testMode: false,
			key:      "merchant_id",
			expected: "10001",
		},
		{
			name:     "test mode falls back to plain value",
			testMode: true,
			key:      "secret_key",
			expected: "livekey",
		},
		{
			name:     "missing key",
			testMode: false,
			key:      "terminal_id",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGateway(tt.testMode)
			if got := g.ModeCredential(tt.key); got != tt.expected {
				t.Errorf("ModeCredential(%q) = %q; want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigValue(t *testing.T) {
	g := testGateway(false)
	if got := g.ConfigValue("api_version", "61"); got != "73" {
		t.Errorf("ConfigValue(api_version) = %q; want 73", got)
	}
	if got := g.ConfigValue("checkout_host", "https://default.example"); got != "https://default.example" {
		t.Errorf("ConfigValue default = %q; want the fallback", got)
	}
}

func TestIsConfigured(t *testing.T) {
	g := testGateway(false)
	if !g.IsConfigured("merchant_id", "secret_key") {
		t.Error("gateway with all credentials should report configured")
	}
	if g.IsConfigured("merchant_id", "terminal_id") {
		t.Error("gateway missing a credential should not report configured")
	}
}
