package repository

import (
	"context"
	"testing"
	"time"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitPriceFallsBackWithoutActivePrice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	ps, err := NewPriceSource(repo, WassceItemCode, DefaultPriceCents, 0)
	require.NoError(t, err)
	defer ps.Close()

	cents, err := ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), cents)

	_, err = repo.SetPrice(ctx, WassceItemCode, 3000, false)
	require.NoError(t, err)

	cents, err = ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), cents, "inactive prices are ignored")
}

func TestUnitPriceUsesActivePrice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.SetPrice(ctx, WassceItemCode, 3000, true)
	require.NoError(t, err)

	ps, err := NewPriceSource(repo, "", 0, 0)
	require.NoError(t, err)
	defer ps.Close()

	cents, err := ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), cents)
}

func TestUnitPriceIsCached(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.SetPrice(ctx, WassceItemCode, 3000, true)
	require.NoError(t, err)

	ps, err := NewPriceSource(repo, WassceItemCode, DefaultPriceCents, time.Minute)
	require.NoError(t, err)
	defer ps.Close()

	cents, err := ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), cents)

	require.NoError(t, repo.DB().Model(&models.Price{}).
		Where("item_code = ?", WassceItemCode).
		Update("price_cents", 3500).Error)

	cents, err = ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), cents)

	ps.Invalidate()
	cents, err = ps.UnitPriceCents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), cents)
}

func TestSetPriceUpserts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.SetPrice(ctx, WassceItemCode, 2400, true)
	require.NoError(t, err)
	updated, err := repo.SetPrice(ctx, WassceItemCode, 2600, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2600), updated.PriceCents)
	assert.Equal(t, "wassce_checker @ 26.00 GHS", updated.String())

	prices, err := repo.ListPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 1)
}

func TestSetPriceRejectsNonPositive(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.SetPrice(context.Background(), WassceItemCode, 0, true)
	assert.Error(t, err)
}
