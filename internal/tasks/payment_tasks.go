package tasks

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"dukani_payments/internal/models"
	"dukani_payments/internal/services"
)

// argInt reads an integer argument from the task's JSON-decoded arguments
func argInt(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return def
}

// ReconcileTransactionsTaskDef re-fetches authoritative provider state for
// transactions stuck in processing, typically because a webhook delivery was
// lost. EasyKash uses the inquiry endpoint, AFS the order retrieval; PaySky
// has no inquiry API, so its stuck transactions are left for expiry.
type ReconcileTransactionsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ReconcileTransactionsTaskDef) TaskID() string {
	return "reconcile_transactions"
}

// HandleExecution reconciles stuck processing transactions
func (t *ReconcileTransactionsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	stuckAfter := time.Duration(argInt(task.Arguments, "stuck_after_minutes", 30)) * time.Minute
	limit := argInt(task.Arguments, "limit", 50)
	cutoff := time.Now().Add(-stuckAfter)

	var stuck []models.PaymentTransaction
	err := db.WithContext(ctx).
		Preload("PaymentGateway").
		Where("status = ? AND updated_at < ?", models.TransactionStatusProcessing, cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&stuck).Error
	if err != nil {
		return nil, err
	}

	gateways := services.NewGatewayStore(db, nil)
	ledger := services.NewLedger(db, gateways)
	payments := services.NewPaymentService(db, gateways, ledger, nil)

	reconciled := 0
	skipped := 0
	for _, txn := range stuck {
		if ctx.Err() != nil {
			break
		}

		provider, err := payments.Provider(ctx, txn.PaymentGateway.Slug)
		if err != nil {
			log.Printf("[task: reconcile_transactions] %s: gateway unavailable: %v", txn.TransactionID, err)
			skipped++
			continue
		}

		var result *services.CallbackResult
		switch p := provider.(type) {
		case *services.EasyKashService:
			result, err = p.InquireStatus(ctx, txn.TransactionID)
		case *services.AFSService:
			result, err = p.ProcessPaymentResult(ctx, txn.TransactionID)
		default:
			skipped++
			continue
		}
		if err != nil {
			log.Printf("[task: reconcile_transactions] %s: reconciliation failed: %v", txn.TransactionID, err)
			skipped++
			continue
		}

		log.Printf("[task: reconcile_transactions] %s: outcome=%s", txn.TransactionID, result.Outcome)
		reconciled++
	}

	return map[string]interface{}{
		"status":     "success",
		"examined":   len(stuck),
		"reconciled": reconciled,
		"skipped":    skipped,
	}, nil
}

// ReconcileTransactionsTask is the singleton instance of ReconcileTransactionsTaskDef
var ReconcileTransactionsTask = &ReconcileTransactionsTaskDef{}

// ExpireStaleTransactionsTaskDef fails pending transactions nobody ever
// completed, so no payment attempt stays silently pending forever.
type ExpireStaleTransactionsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ExpireStaleTransactionsTaskDef) TaskID() string {
	return "expire_stale_transactions"
}

// HandleExecution expires stale pending transactions
func (t *ExpireStaleTransactionsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	expireAfter := time.Duration(argInt(task.Arguments, "expire_after_hours", 24)) * time.Hour
	limit := argInt(task.Arguments, "limit", 100)
	cutoff := time.Now().Add(-expireAfter)

	var stale []models.PaymentTransaction
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TransactionStatusPending, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	gateways := services.NewGatewayStore(db, nil)
	ledger := services.NewLedger(db, gateways)

	expired := 0
	for i := range stale {
		if ctx.Err() != nil {
			break
		}
		transitioned, err := ledger.MarkFailed(ctx, &stale[i], "Payment expired", nil)
		if err != nil {
			log.Printf("[task: expire_stale_transactions] %s: %v", stale[i].TransactionID, err)
			continue
		}
		if transitioned {
			log.Printf("[task: expire_stale_transactions] %s: expired", stale[i].TransactionID)
			expired++
		}
	}

	return map[string]interface{}{
		"status":   "success",
		"examined": len(stale),
		"expired":  expired,
	}, nil
}

// ExpireStaleTransactionsTask is the singleton instance of ExpireStaleTransactionsTaskDef
var ExpireStaleTransactionsTask = &ExpireStaleTransactionsTaskDef{}
