package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// WassceItemCode is the only item this service sells
	WassceItemCode = "wassce_checker"
	// DefaultPriceCents applies when no active price row exists (GHS 24.00)
	DefaultPriceCents int64 = 2400
)

// PriceSource answers the active unit price of the checker, in pesewas
type PriceSource struct {
	repository *Repository
	cache      *ristretto.Cache[string, int64]
	ttl        time.Duration
	itemCode   string
	fallback   int64
}

// NewPriceSource builds a cached price lookup. ttl <= 0 disables caching.
func NewPriceSource(repository *Repository, itemCode string, fallback int64, ttl time.Duration) (*PriceSource, error) {
	if itemCode == "" {
		itemCode = WassceItemCode
	}
	if fallback <= 0 {
		fallback = DefaultPriceCents
	}
	ps := &PriceSource{
		repository: repository,
		ttl:        ttl,
		itemCode:   itemCode,
		fallback:   fallback,
	}
	if ttl > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, int64]{
			NumCounters: 100,
			MaxCost:     10,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create price cache: %w", err)
		}
		ps.cache = cache
	}
	return ps, nil
}

// UnitPriceCents returns the active price, or the fallback when none is configured
func (ps *PriceSource) UnitPriceCents(ctx context.Context) (int64, error) {
	if ps.cache != nil {
		if cents, ok := ps.cache.Get(ps.itemCode); ok {
			return cents, nil
		}
	}

	cents := ps.fallback
	price, err := ps.repository.ActivePrice(ctx, ps.itemCode)
	switch {
	case err == nil:
		cents = price.PriceCents
	case errors.Is(err, gorm.ErrRecordNotFound):
		ps.repository.logger.Info("No active price configured, using fallback",
			"item_code", ps.itemCode,
			"price_cents", ps.fallback,
		)
	default:
		return 0, err
	}

	if ps.cache != nil {
		ps.cache.SetWithTTL(ps.itemCode, cents, 1, ps.ttl)
		ps.cache.Wait()
	}
	return cents, nil
}

// Invalidate drops the cached price so the next lookup hits the database
func (ps *PriceSource) Invalidate() {
	if ps.cache != nil {
		ps.cache.Del(ps.itemCode)
	}
}

// Close releases the cache goroutines
func (ps *PriceSource) Close() {
	if ps.cache != nil {
		ps.cache.Close()
	}
}

// ActivePrice loads the active price row for itemCode
func (r *Repository) ActivePrice(ctx context.Context, itemCode string) (*models.Price, error) {
	var price models.Price
	err := r.db.WithContext(ctx).
		Where("item_code = ? AND active = ?", itemCode, true).
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeEntityNotFound,
				Message: "Price does not exist",
				Detail:  fmt.Sprintf("No active price for %s", itemCode),
				Err:     gorm.ErrRecordNotFound,
			}
		}
		return nil, toRepositoryError("Database error", err)
	}
	return &price, nil
}

// ListPrices returns every configured price row
func (r *Repository) ListPrices(ctx context.Context) ([]models.Price, error) {
	var prices []models.Price
	if err := r.db.WithContext(ctx).Order("item_code ASC").Find(&prices).Error; err != nil {
		return nil, toRepositoryError("Failed to list prices", err)
	}
	return prices, nil
}

// SetPrice creates or updates the price row for itemCode
func (r *Repository) SetPrice(ctx context.Context, itemCode string, cents int64, active bool) (*models.Price, error) {
	if cents <= 0 {
		return nil, &RepositoryError{
			Code:    PgErrCheckViolation,
			Message: "Price must be positive",
			Detail:  fmt.Sprintf("got %d pesewas for %s", cents, itemCode),
		}
	}
	price := models.Price{
		ItemCode:   itemCode,
		PriceCents: cents,
		Active:     active,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"price_cents", "active"}),
	}).Create(&price).Error
	if err != nil {
		return nil, toRepositoryError("Failed to save price", err)
	}

	saved, err := r.priceByCode(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Price updated", "price", saved.String(), "active", saved.Active)
	return saved, nil
}

func (r *Repository) priceByCode(ctx context.Context, itemCode string) (*models.Price, error) {
	var price models.Price
	if err := r.db.WithContext(ctx).Where("item_code = ?", itemCode).First(&price).Error; err != nil {
		return nil, toRepositoryError("Failed to load price", err)
	}
	return &price, nil
}
