package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"dukani_payments/internal/models"
)

// TransactionStore is the ledger surface the adapters depend on. Terminal
// transitions return transitioned=false instead of mutating a transaction
// that already reached a sticky state, which makes webhook replays no-ops.
type TransactionStore interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	FindByReference(ctx context.Context, gatewaySlug, reference string) (*models.PaymentTransaction, error)
	Update(ctx context.Context, txn *models.PaymentTransaction, updates map[string]interface{}) error
	MarkProcessing(ctx context.Context, txn *models.PaymentTransaction) error
	MarkSuccess(ctx context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, txn *models.PaymentTransaction, reason string, data json.RawMessage) (bool, error)
	MarkCancelled(ctx context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error)
	RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error
}

// nonTerminalStatuses guards every terminal UPDATE; a transaction already in
// success/failed/cancelled/refunded never matches, so replays cannot
// double-transition it even without the redis lock.
var nonTerminalStatuses = []models.TransactionStatus{
	models.TransactionStatusPending,
	models.TransactionStatusProcessing,
}

// Ledger is the GORM-backed TransactionStore.
type Ledger struct {
	db       *gorm.DB
	gateways *GatewayStore
}

// NewLedger creates the transaction ledger. gateways may be nil when usage
// statistics are not wanted (tests).
func NewLedger(db *gorm.DB, gateways *GatewayStore) *Ledger {
	return &Ledger{db: db, gateways: gateways}
}

func (l *Ledger) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return l.db.WithContext(ctx).Create(txn).Error
}

// FindByReference locates a transaction by the merchant-assigned reference,
// scoped to one gateway so a reference can never match across providers.
func (l *Ledger) FindByReference(ctx context.Context, gatewaySlug, reference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := l.db.WithContext(ctx).
		Joins("JOIN payment_gateways ON payment_gateways.id = payment_transactions.payment_gateway_id").
		Where("payment_transactions.transaction_id = ? AND payment_gateways.slug = ?", reference, gatewaySlug).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (l *Ledger) Update(ctx context.Context, txn *models.PaymentTransaction, updates map[string]interface{}) error {
	return l.db.WithContext(ctx).Model(txn).Updates(updates).Error
}

// MarkProcessing moves pending -> processing once the provider acknowledged
// the initiation. A transaction past pending is left alone.
func (l *Ledger) MarkProcessing(ctx context.Context, txn *models.PaymentTransaction) error {
	res := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", txn.ID, models.TransactionStatusPending).
		Update("status", models.TransactionStatusProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		txn.Status = models.TransactionStatusProcessing
	}
	return nil
}

func (l *Ledger) MarkSuccess(ctx context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error) {
	now := time.Now()
	merged := mergeJSON(txn.ResponseData, data)
	res := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", txn.ID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":        models.TransactionStatusSuccess,
			"paid_at":       &now,
			"response_data": merged,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	txn.Status = models.TransactionStatusSuccess
	txn.PaidAt = &now
	txn.ResponseData = merged
	if l.gateways != nil {
		l.gateways.RecordSuccess(ctx, txn.PaymentGatewayID, txn.Amount)
	}
	return true, nil
}

func (l *Ledger) MarkFailed(ctx context.Context, txn *models.PaymentTransaction, reason string, data json.RawMessage) (bool, error) {
	now := time.Now()
	merged := mergeJSON(txn.ResponseData, data)
	res := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", txn.ID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":         models.TransactionStatusFailed,
			"failed_at":      &now,
			"failure_reason": reason,
			"response_data":  merged,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	txn.Status = models.TransactionStatusFailed
	txn.FailedAt = &now
	txn.FailureReason = reason
	txn.ResponseData = merged
	if l.gateways != nil {
		l.gateways.RecordFailure(ctx, txn.PaymentGatewayID)
	}
	return true, nil
}

func (l *Ledger) MarkCancelled(ctx context.Context, txn *models.PaymentTransaction, data json.RawMessage) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", txn.ID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":        models.TransactionStatusCancelled,
			"callback_data": mergeJSON(txn.CallbackData, data),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	txn.Status = models.TransactionStatusCancelled
	return true, nil
}

func (l *Ledger) RecordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return l.db.WithContext(ctx).Create(entry).Error
}

// mergeJSON overlays the keys of b onto a when both are JSON objects, so a
// later stage's snapshot augments rather than erases the earlier one.
func mergeJSON(a, b json.RawMessage) json.RawMessage {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	var base, overlay map[string]interface{}
	if err := json.Unmarshal(a, &base); err != nil {
		return b
	}
	if err := json.Unmarshal(b, &overlay); err != nil {
		return a
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return b
	}
	return merged
}
