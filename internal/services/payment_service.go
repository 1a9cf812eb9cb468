package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"dukani_payments/internal/models"
)

// PaymentService routes generic payment requests to the right provider
// adapter. Adapters are constructed per call so credential edits made in the
// back office take effect without a restart; construction is cheap because
// gateway lookups are cached.
type PaymentService struct {
	db       *gorm.DB
	gateways *GatewayStore
	ledger   TransactionStore
	client   *http.Client
}

func NewPaymentService(db *gorm.DB, gateways *GatewayStore, ledger TransactionStore, client *http.Client) *PaymentService {
	return &PaymentService{
		db:       db,
		gateways: gateways,
		ledger:   ledger,
		client:   client,
	}
}

// Provider constructs the adapter for a gateway slug. Unknown slugs and
// unconfigured gateways both fail here, before any ledger write.
func (s *PaymentService) Provider(ctx context.Context, slug string) (PaymentProvider, error) {
	switch slug {
	case models.GatewaySlugPaySky:
		return NewPaySkyService(ctx, s.gateways, s.ledger)
	case models.GatewaySlugEasyKash:
		return NewEasyKashService(ctx, s.gateways, s.ledger, s.client)
	case models.GatewaySlugAFS:
		return NewAFSService(ctx, s.gateways, s.ledger, s.client)
	default:
		return nil, fmt.Errorf("%s: %w", slug, ErrGatewayNotConfigured)
	}
}

// Initiate starts a payment attempt on the named gateway.
func (s *PaymentService) Initiate(ctx context.Context, slug string, data PaymentData) (*InitiationResult, error) {
	provider, err := s.Provider(ctx, slug)
	if err != nil {
		return failedInitiation(nil, "Payment gateway unavailable"), err
	}
	return provider.Initiate(ctx, data)
}

// GetTransaction looks up a ledger row by internal reference across all
// gateways.
func (s *PaymentService) GetTransaction(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.WithContext(ctx).
		Preload("PaymentGateway").
		Where("transaction_id = ?", reference).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
