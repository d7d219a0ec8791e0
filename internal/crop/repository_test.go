package crop

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrimarket/internal/testdb"
	"agrimarket/pkg/crop"
)

func TestRepositoryRoundTrip(t *testing.T) {
	db := testdb.Open(t)
	testdb.SeedUser(t, db, "usr_f", "farmer")
	testdb.SeedUser(t, db, "usr_g", "farmer")
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	harvest := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)

	onion := crop.Crop{
		ID:          "crp_1",
		FarmerID:    "usr_f",
		Name:        "Red Onion",
		Variety:     "Nashik",
		QuantityKg:  800,
		PricePerKg:  decimal.RequireFromString("22.50"),
		Location:    "Lasalgaon",
		HarvestedAt: &harvest,
		CreatedAt:   now,
	}
	wheat := crop.Crop{
		ID:         "crp_2",
		FarmerID:   "usr_g",
		Name:       "Wheat",
		QuantityKg: 2000,
		PricePerKg: decimal.RequireFromString("27"),
		CreatedAt:  now.Add(time.Minute),
	}
	require.NoError(t, repo.Save(ctx, onion))
	require.NoError(t, repo.Save(ctx, wheat))

	got, err := repo.Get(ctx, onion.ID)
	require.NoError(t, err)
	assert.True(t, onion.PricePerKg.Equal(got.PricePerKg))
	require.NotNil(t, got.HarvestedAt)
	assert.Equal(t, harvest, *got.HarvestedAt)
	assert.Equal(t, onion.CreatedAt, got.CreatedAt)

	all, err := repo.List(ctx, crop.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, wheat.ID, all[0].ID)

	byName, err := repo.List(ctx, crop.Filter{Name: "onion"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, onion.ID, byName[0].ID)

	byFarmer, err := repo.List(ctx, crop.Filter{FarmerID: "usr_g"})
	require.NoError(t, err)
	require.Len(t, byFarmer, 1)
	assert.Equal(t, wheat.ID, byFarmer[0].ID)

	onion.QuantityKg = 650
	onion.PricePerKg = decimal.RequireFromString("24")
	onion.HarvestedAt = nil
	require.NoError(t, repo.Update(ctx, onion))
	got, err = repo.Get(ctx, onion.ID)
	require.NoError(t, err)
	assert.Equal(t, 650.0, got.QuantityKg)
	assert.True(t, decimal.NewFromInt(24).Equal(got.PricePerKg))
	assert.Nil(t, got.HarvestedAt)

	require.NoError(t, repo.Delete(ctx, onion.ID))
	_, err = repo.Get(ctx, onion.ID)
	assert.ErrorIs(t, err, crop.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, onion.ID), crop.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, onion), crop.ErrNotFound)
}
