package cursor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnt/chainwatch/internal/models"
	"github.com/wnt/chainwatch/internal/testutil"
)

func TestChainCursor(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testutil.NewDB(t), zerolog.Nop())

	t.Run("unseeded chain", func(t *testing.T) {
		_, ok, err := m.ChainHeight(ctx, models.ChainETH)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Error(t, m.AdvanceChain(ctx, models.ChainETH, 10))
	})

	t.Run("seed keeps the first writer", func(t *testing.T) {
		height, err := m.SeedChain(ctx, models.ChainBSC, 100)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), height)

		height, err = m.SeedChain(ctx, models.ChainBSC, 250)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), height)
	})

	t.Run("advance is monotonic", func(t *testing.T) {
		_, err := m.SeedChain(ctx, models.ChainPolygon, 100)
		require.NoError(t, err)

		require.NoError(t, m.AdvanceChain(ctx, models.ChainPolygon, 105))
		// Re-applying the same height is a no-op, not a regression
		require.NoError(t, m.AdvanceChain(ctx, models.ChainPolygon, 105))

		err = m.AdvanceChain(ctx, models.ChainPolygon, 104)
		assert.ErrorIs(t, err, ErrRegression)

		height, ok, err := m.ChainHeight(ctx, models.ChainPolygon)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(105), height)
	})
}

func TestEntityCursor(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	m := NewManager(db, zerolog.Nop())

	a := models.MonitoredEntity{UserID: "u", Chain: models.ChainSOL, Address: "addr-a", Active: true, Cursor: "sig-1"}
	b := models.MonitoredEntity{UserID: "u", Chain: models.ChainSOL, Address: "addr-b", Active: true, Cursor: "sig-9"}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)

	require.NoError(t, m.AdvanceEntity(ctx, a.ID, "sig-1", "sig-2"))

	cur, err := m.EntityCursor(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-2", cur)

	// Other entities are untouched
	cur, err = m.EntityCursor(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-9", cur)

	// A stale read loses the race
	err = m.AdvanceEntity(ctx, a.ID, "sig-1", "sig-3")
	assert.ErrorIs(t, err, ErrCursorMoved)

	// Unchanged cursor needs no write
	assert.NoError(t, m.AdvanceEntity(ctx, b.ID, "sig-9", "sig-9"))

	// Seeding an empty cursor works from the zero value
	c := models.MonitoredEntity{UserID: "u", Chain: models.ChainSOL, Address: "addr-c", Active: true}
	require.NoError(t, db.Create(&c).Error)
	require.NoError(t, m.AdvanceEntity(ctx, c.ID, "", "sig-head"))
}
