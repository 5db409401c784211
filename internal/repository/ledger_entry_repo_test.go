package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/testutil"
)

func newEntry(orderID, lineID string, level int, beneficiary int64, amount string) *models.LedgerEntry {
	return &models.LedgerEntry{
		OrderID:                  orderID,
		OrderLineID:              lineID,
		Level:                    level,
		GoodsID:                  "G1",
		BeneficiaryDistributorID: beneficiary,
		LineAmount:               decimal.NewFromInt(1000),
		RuleID:                   1,
		RuleType:                 models.CommissionTypePercentage,
		RuleRate:                 decimal.NewFromInt(10),
		Amount:                   decimal.RequireFromString(amount),
		Status:                   models.EntryStatusPending,
	}
}

func TestLedgerEntryRepository_CreateBatch(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	entries := []*models.LedgerEntry{
		newEntry("O1", "L1", 1, 1, "100"),
		newEntry("O1", "L1", 2, 2, "50"),
		newEntry("O1", "L2", 1, 1, "20"),
	}
	require.NoError(t, repo.CreateBatch(ctx, entries, 2))
	for _, e := range entries {
		assert.NotZero(t, e.ID)
	}

	t.Run("空批次", func(t *testing.T) {
		assert.NoError(t, repo.CreateBatch(ctx, nil, 10))
	})

	t.Run("同一订单行同一层级只能有一条", func(t *testing.T) {
		err := repo.CreateBatch(ctx, []*models.LedgerEntry{newEntry("O1", "L1", 1, 1, "100")}, 10)
		assert.ErrorIs(t, err, errors.ErrConflict)
	})

	t.Run("按订单查询", func(t *testing.T) {
		list, err := repo.ListByOrder(ctx, "O1")
		require.NoError(t, err)
		assert.Len(t, list, 3)

		none, err := repo.ListByOrder(ctx, "O2")
		require.NoError(t, err)
		assert.Empty(t, none)

		line, err := repo.ListByLine(ctx, "O1", "L1")
		require.NoError(t, err)
		require.Len(t, line, 2)
		assert.Equal(t, 1, line[0].Level)
		assert.Equal(t, 2, line[1].Level)
	})

	t.Run("按受益人查询", func(t *testing.T) {
		list, err := repo.ListByBeneficiary(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

func TestLedgerEntryRepository_Transition(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	e := newEntry("O1", "L1", 1, 1, "100")
	require.NoError(t, repo.CreateBatch(ctx, []*models.LedgerEntry{e}, 10))

	now := time.Now().UTC()
	ok, err := repo.Transition(ctx, e.ID, models.EntryStatusPending, models.EntryStatusSettled,
		map[string]interface{}{"settled_at": now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(ctx, e.ID, models.EntryStatusPending, models.EntryStatusCancelled, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).LockByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryStatusSettled, locked.Status)
		assert.NotNil(t, locked.SettledAt)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, 404)
	assert.ErrorIs(t, err, errors.ErrEntryNotFound)
}

func TestLedgerEntryRepository_DueQueries(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	old := newEntry("O1", "L1", 1, 1, "10")
	old.CreatedAt = now.Add(-8 * 24 * time.Hour)
	fresh := newEntry("O2", "L1", 1, 1, "10")
	fresh.CreatedAt = now.Add(-time.Hour)

	dueAt := now.Add(-time.Minute)
	laterAt := now.Add(time.Hour)
	frozenDue := newEntry("O3", "L1", 1, 1, "10")
	frozenDue.Status = models.EntryStatusFrozen
	frozenDue.FreezeUntil = &dueAt
	frozenLater := newEntry("O4", "L1", 1, 1, "10")
	frozenLater.Status = models.EntryStatusFrozen
	frozenLater.FreezeUntil = &laterAt

	require.NoError(t, repo.CreateBatch(ctx, []*models.LedgerEntry{old, fresh, frozenDue, frozenLater}, 10))

	ids, err := repo.ListPendingBefore(ctx, now.Add(-7*24*time.Hour), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID}, ids)

	ids, err = repo.ListPendingBefore(ctx, now.Add(-7*24*time.Hour), old.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = repo.ListFrozenDue(ctx, now, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{frozenDue.ID}, ids)

	ids, err = repo.ListFrozenDue(ctx, now, frozenDue.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLedgerEntryRepository_ReducePending(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	e := newEntry("O1", "L1", 1, 1, "100")
	settled := newEntry("O1", "L1", 2, 2, "50")
	settled.Status = models.EntryStatusSettled
	require.NoError(t, repo.CreateBatch(ctx, []*models.LedgerEntry{e, settled}, 10))

	ok, err := repo.ReducePending(ctx, e.ID, decimal.NewFromInt(40), now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPending, got.Status)
	assert.Equal(t, "40.00", got.RefundedAmount.StringFixed(2))
	assert.NotNil(t, got.RefundedAt)

	// 只记录一次
	ok, err = repo.ReducePending(ctx, e.ID, decimal.NewFromInt(10), now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ReducePending(ctx, settled.ID, decimal.NewFromInt(10), now)
	require.NoError(t, err)
	assert.False(t, ok)

	sum, err := repo.SumByStatus(ctx, 1, models.EntryStatusPending)
	require.NoError(t, err)
	assert.Equal(t, "60.00", sum.StringFixed(2))
}

func TestLedgerEntryRepository_SumByStatus(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateBatch(ctx, []*models.LedgerEntry{
		newEntry("O1", "L1", 1, 1, "0.10"),
		newEntry("O1", "L2", 1, 1, "0.20"),
		newEntry("O1", "L3", 1, 2, "5"),
	}, 10))

	sum, err := repo.SumByStatus(ctx, 1, models.EntryStatusPending)
	require.NoError(t, err)
	assert.Equal(t, "0.30", sum.StringFixed(2))

	sum, err = repo.SumByStatus(ctx, 1, models.EntryStatusSettled)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}
