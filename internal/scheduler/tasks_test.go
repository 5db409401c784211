package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
	"github.com/dumeirei/commission-ledger/internal/testutil"
)

func TestTaskHandler_SettleDue(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	cfg := config.Default().Distribution

	distributors := repository.NewDistributorRepository(db)
	entries := repository.NewLedgerEntryRepository(db)
	ledger := distribution.NewCommissionLedger(db, distributors, entries, &cfg, nil, zap.NewNop())
	rules := distribution.NewCommissionRuleEngine(repository.NewCommissionRuleRepository(db), nil, 0, nil, zap.NewNop())
	maintenance := distribution.NewMaintenanceService(distributors, entries, ledger, rules, cfg.SettleDelay(), cfg.BatchSize, zap.NewNop())

	core, logs := observer.New(zapcore.InfoLevel)
	h := NewTaskHandler(maintenance, zap.New(core))
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return now })

	d := &models.Distributor{MemberID: 1, DistributionCode: "AAAAAAAA", Level: 1, Status: models.DistributorStatusApproved}
	require.NoError(t, distributors.Create(ctx, d))
	e := &models.LedgerEntry{
		OrderID:                  "O1",
		OrderLineID:              "L1",
		Level:                    1,
		GoodsID:                  "G1",
		BeneficiaryDistributorID: d.ID,
		LineAmount:               money.MustParse("100"),
		RuleID:                   1,
		RuleType:                 models.CommissionTypePercentage,
		RuleRate:                 money.MustParse("10"),
		Amount:                   money.MustParse("10"),
		Status:                   models.EntryStatusPending,
		CreatedAt:                now.Add(-10 * 24 * time.Hour),
	}
	require.NoError(t, entries.CreateBatch(ctx, []*models.LedgerEntry{e}, 10))

	require.NoError(t, h.SettleDue(ctx))
	got, err := entries.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusSettled, got.Status)

	require.Equal(t, 1, logs.FilterMessage("批处理完成").Len())
	assert.Equal(t, int64(1), logs.FilterMessage("批处理完成").All()[0].ContextMap()["processed"])

	// 没有待处理数据时不输出日志，团队统计每次都会遍历分销商
	require.NoError(t, h.SettleDue(ctx))
	require.NoError(t, h.ReleaseDue(ctx))
	require.NoError(t, h.DeactivateExpiredRules(ctx))
	require.NoError(t, h.RollupTeamStats(ctx))

	byTask := map[string]int{}
	for _, entry := range logs.FilterMessage("批处理完成").All() {
		byTask[entry.ContextMap()["task"].(string)]++
	}
	assert.Equal(t, map[string]int{TaskSettleDue: 1, TaskRollupTeamStats: 1}, byTask)
}

func TestSetupTasks(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	SetupTasks(s, NewTaskHandler(nil, zap.NewNop()), time.Minute)

	intervals := map[string]time.Duration{}
	for _, task := range s.Tasks() {
		intervals[task.Name] = task.Interval
	}
	assert.Equal(t, map[string]time.Duration{
		TaskSettleDue:              time.Minute,
		TaskReleaseDue:             time.Minute,
		TaskDeactivateExpiredRules: time.Minute,
		TaskRollupTeamStats:        time.Hour,
		TaskResetMonthlyCounters:   time.Hour,
	}, intervals)
}
