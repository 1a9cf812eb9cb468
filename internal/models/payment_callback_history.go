package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// PaymentCallbackHistory records every webhook delivery as received, before
// any signature verification, so rejected or unmatched callbacks still leave
// a trace for incident review.
type PaymentCallbackHistory struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	GatewaySlug          string          `gorm:"type:varchar(50);index" json:"gateway_slug"`
	TransactionReference string          `gorm:"type:varchar(100);index" json:"transaction_reference"`
	Payload              json.RawMessage `gorm:"type:jsonb" json:"payload"`
	Verified             bool            `gorm:"default:false" json:"verified"`
}
