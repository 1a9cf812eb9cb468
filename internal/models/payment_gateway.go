package models

import (
	"time"

	"gorm.io/gorm"
)

// Gateway slugs known to this service
const (
	GatewaySlugPaySky   = "paysky"
	GatewaySlugEasyKash = "easykash"
	GatewaySlugAFS      = "afs"
)

// PaymentGateway holds the administrator-managed configuration for one
// payment provider. Rows are created and edited from the back office only;
// the payment flow itself never writes credentials.
type PaymentGateway struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name        string `gorm:"type:varchar(100)" json:"name"`
	Slug        string `gorm:"type:varchar(50);uniqueIndex" json:"slug"`
	Provider    string `gorm:"type:varchar(100)" json:"provider"`
	Description string `gorm:"type:text" json:"description"`
	IsActive    bool   `gorm:"default:false" json:"is_active"`
	IsDefault   bool   `gorm:"default:false" json:"is_default"`
	IsTestMode  bool   `gorm:"default:true" json:"is_test_mode"`
	Currency    string `gorm:"type:varchar(3)" json:"currency"`

	Countries   []string          `gorm:"serializer:json" json:"countries"`
	Credentials map[string]string `gorm:"serializer:json" json:"-"`
	Config      map[string]string `gorm:"serializer:json" json:"config"`

	// Usage statistics, maintained by the ledger on terminal transitions
	TransactionsCount int        `gorm:"default:0" json:"transactions_count"`
	FailedCount       int        `gorm:"default:0" json:"failed_count"`
	SuccessRate       float64    `gorm:"type:decimal(5,2);default:0" json:"success_rate"`
	TotalAmount       float64    `gorm:"type:decimal(15,2);default:0" json:"total_amount"`
	LastUsedAt        *time.Time `json:"last_used_at"`
}

// Credential returns a raw credential value, empty string if absent.
func (g *PaymentGateway) Credential(key string) string {
	if g.Credentials == nil {
		return ""
	}
	return g.Credentials[key]
}

// ModeCredential resolves a credential honoring the test/live mode split:
// "test_<key>" or "live_<key>" wins over the bare key when present.
func (g *PaymentGateway) ModeCredential(key string) string {
	prefix := "live_"
	if g.IsTestMode {
		prefix = "test_"
	}
	if v := g.Credential(prefix + key); v != "" {
		return v
	}
	return g.Credential(key)
}

// ConfigValue returns a config entry, falling back to def when unset.
func (g *PaymentGateway) ConfigValue(key, def string) string {
	if g.Config != nil {
		if v := g.Config[key]; v != "" {
			return v
		}
	}
	return def
}

// ModeConfigValue resolves a config entry honoring the test/live mode split.
func (g *PaymentGateway) ModeConfigValue(key, def string) string {
	prefix := "live_"
	if g.IsTestMode {
		prefix = "test_"
	}
	if v := g.ConfigValue(prefix+key, ""); v != "" {
		return v
	}
	return g.ConfigValue(key, def)
}

// IsConfigured reports whether the gateway is active and every credential the
// adapter requires resolves to a non-empty value.
func (g *PaymentGateway) IsConfigured(required ...string) bool {
	if !g.IsActive || len(g.Credentials) == 0 {
		return false
	}
	for _, key := range required {
		if g.ModeCredential(key) == "" {
			return false
		}
	}
	return true
}
