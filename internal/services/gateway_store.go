package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"dukani_payments/internal/models"
)

const gatewayCacheTTL = 5 * time.Minute

// GatewayStore reads administrator-managed gateway configuration. Lookups
// are cached briefly in redis when a cache is attached; credential edits
// take effect within the TTL.
type GatewayStore struct {
	db    *gorm.DB
	cache *RedisCache
}

// NewGatewayStore creates a gateway configuration store. cache may be nil.
func NewGatewayStore(db *gorm.DB, cache *RedisCache) *GatewayStore {
	return &GatewayStore{db: db, cache: cache}
}

// cachedGateway is the redis serialization of a gateway row. The model keeps
// Credentials out of its own JSON encoding, so the cache carries them in a
// separate field and reattaches them on read.
type cachedGateway struct {
	Gateway     models.PaymentGateway `json:"gateway"`
	Credentials map[string]string     `json:"credentials"`
}

func (e cachedGateway) restore() *models.PaymentGateway {
	gateway := e.Gateway
	gateway.Credentials = e.Credentials
	return &gateway
}

// GetBySlug returns the active gateway for a slug, or
// ErrGatewayNotConfigured when missing or inactive.
func (s *GatewayStore) GetBySlug(ctx context.Context, slug string) (*models.PaymentGateway, error) {
	fetch := func() (cachedGateway, error) {
		var gateway models.PaymentGateway
		err := s.db.WithContext(ctx).
			Where("slug = ? AND is_active = ?", slug, true).
			First(&gateway).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cachedGateway{}, fmt.Errorf("%s: %w", slug, ErrGatewayNotConfigured)
		}
		return cachedGateway{Gateway: gateway, Credentials: gateway.Credentials}, err
	}

	if s.cache == nil {
		entry, err := fetch()
		if err != nil {
			return nil, err
		}
		return entry.restore(), nil
	}

	entry, err := GetOrSet(s.cache, ctx, "payment:gateway:"+slug, gatewayCacheTTL, fetch)
	if err != nil {
		return nil, err
	}
	return entry.restore(), nil
}

// RequireConfigured loads the gateway and fails fast when any required
// credential is absent. Adapters call this at construction time.
func (s *GatewayStore) RequireConfigured(ctx context.Context, slug string, required ...string) (*models.PaymentGateway, error) {
	gateway, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !gateway.IsConfigured(required...) {
		return nil, fmt.Errorf("%s: %w", slug, ErrGatewayNotConfigured)
	}
	return gateway, nil
}

// RecordSuccess bumps the gateway usage counters after a successful payment.
func (s *GatewayStore) RecordSuccess(ctx context.Context, gatewayID uint, amount float64) {
	now := time.Now()
	s.db.WithContext(ctx).Model(&models.PaymentGateway{}).
		Where("id = ?", gatewayID).
		Updates(map[string]interface{}{
			"transactions_count": gorm.Expr("transactions_count + 1"),
			"total_amount":       gorm.Expr("total_amount + ?", amount),
			"last_used_at":       &now,
		})
	s.refreshSuccessRate(ctx, gatewayID)
}

// RecordFailure bumps the gateway failure counter.
func (s *GatewayStore) RecordFailure(ctx context.Context, gatewayID uint) {
	s.db.WithContext(ctx).Model(&models.PaymentGateway{}).
		Where("id = ?", gatewayID).
		Update("failed_count", gorm.Expr("failed_count + 1"))
	s.refreshSuccessRate(ctx, gatewayID)
}

func (s *GatewayStore) refreshSuccessRate(ctx context.Context, gatewayID uint) {
	s.db.WithContext(ctx).Model(&models.PaymentGateway{}).
		Where("id = ? AND transactions_count + failed_count > 0", gatewayID).
		Update("success_rate", gorm.Expr(
			"transactions_count * 100.0 / (transactions_count + failed_count)"))
}
