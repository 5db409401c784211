package distribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/crypto"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
	"github.com/dumeirei/commission-ledger/internal/testutil"
)

const testAESKey = "0123456789abcdef0123456789abcdef"

// fakeClock 可控时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixture 完整装配的分销服务
type fixture struct {
	db           *gorm.DB
	cfg          *config.DistributionConfig
	clock        *fakeClock
	metrics      *metrics.Metrics
	distributors *repository.DistributorRepository
	ruleRepo     *repository.CommissionRuleRepository
	entries      *repository.LedgerEntryRepository
	withdrawals  *repository.WithdrawalRepository
	members      *StaticMemberDirectory
	chains       *ChainResolver
	rules        *CommissionRuleEngine
	ledger       *CommissionLedger
	attribution  *OrderAttributionService
	refunds      *RefundReversalService
	withdraw     *WithdrawalWorkflow
	service      *DistributorService
	maintenance  *MaintenanceService
}

func newFixture(t *testing.T, opts ...func(*config.DistributionConfig)) *fixture {
	t.Helper()
	return newFixtureWithDB(t, testutil.NewDB(t), opts...)
}

func newFixtureWithDB(t *testing.T, db *gorm.DB, opts ...func(*config.DistributionConfig)) *fixture {
	t.Helper()

	cfg := config.Default().Distribution
	for _, opt := range opts {
		opt(&cfg)
	}

	cipher, err := crypto.NewAES(testAESKey)
	require.NoError(t, err)

	log := zap.NewNop()
	m := metrics.NewRegistry("test")
	clock := newFakeClock()

	f := &fixture{
		db:           db,
		cfg:          &cfg,
		clock:        clock,
		metrics:      m,
		distributors: repository.NewDistributorRepository(db),
		ruleRepo:     repository.NewCommissionRuleRepository(db),
		entries:      repository.NewLedgerEntryRepository(db),
		withdrawals:  repository.NewWithdrawalRepository(db),
		members:      NewStaticMemberDirectory(),
	}
	f.chains = NewChainResolver(f.distributors, m, log)
	f.rules = NewCommissionRuleEngine(f.ruleRepo, nil, 0, m, log)
	f.ledger = NewCommissionLedger(db, f.distributors, f.entries, f.cfg, m, log)
	f.ledger.SetClock(clock.Now)
	f.attribution = NewOrderAttributionService(db, f.entries, f.chains, f.rules, cfg.BatchSize, m, log)
	f.attribution.SetClock(clock.Now)
	f.refunds = NewRefundReversalService(f.entries, f.ledger, log)
	f.withdraw = NewWithdrawalWorkflow(db, f.distributors, f.withdrawals, cipher, f.cfg, m, log)
	f.withdraw.SetClock(clock.Now)
	f.service = NewDistributorService(db, f.distributors, f.members, f.ledger, log)
	f.service.SetClock(clock.Now)
	f.maintenance = NewMaintenanceService(f.distributors, f.entries, f.ledger, f.rules, cfg.SettleDelay(), cfg.BatchSize, log)
	return f
}

func withFrozenPolicy(cfg *config.DistributionConfig) {
	cfg.SettlementPolicy = SettlementFrozen
}

// distributor 直接创建已审核的分销商
func (f *fixture) distributor(t *testing.T, memberID int64, code string, parent *models.Distributor) *models.Distributor {
	t.Helper()
	d := &models.Distributor{
		MemberID:         memberID,
		DistributionCode: code,
		Level:            1,
		Status:           models.DistributorStatusApproved,
	}
	if parent != nil {
		d.ParentID = &parent.ID
		d.Level = parent.Level + 1
		if d.Level > models.MaxLevel {
			d.Level = models.MaxLevel
		}
	}
	require.NoError(t, f.distributors.Create(context.Background(), d))
	return d
}

// percentageRule 创建按比例的规则
func (f *fixture) percentageRule(t *testing.T, goodsID string, rates ...string) *models.CommissionRule {
	t.Helper()
	rule := &models.CommissionRule{
		GoodsID:        goodsID,
		CommissionType: models.CommissionTypePercentage,
		Status:         models.RuleStatusActive,
	}
	targets := []*decimal.Decimal{&rule.Level1Rate, &rule.Level2Rate, &rule.Level3Rate}
	for i, r := range rates {
		*targets[i] = money.MustParse(r)
	}
	require.NoError(t, f.ruleRepo.Create(context.Background(), rule))
	return rule
}

// pendingEntry 直接写入一条待结算流水
func (f *fixture) pendingEntry(t *testing.T, d *models.Distributor, orderID string, amount string) *models.LedgerEntry {
	t.Helper()
	e := &models.LedgerEntry{
		OrderID:                  orderID,
		OrderLineID:              "L1",
		Level:                    1,
		GoodsID:                  "G1",
		BeneficiaryDistributorID: d.ID,
		LineAmount:               money.MustParse("1000"),
		RuleID:                   1,
		RuleType:                 models.CommissionTypePercentage,
		RuleRate:                 money.MustParse("10"),
		Amount:                   money.MustParse(amount),
		Status:                   models.EntryStatusPending,
		CreatedAt:                f.clock.Now(),
	}
	require.NoError(t, f.entries.CreateBatch(context.Background(), []*models.LedgerEntry{e}, 10))
	return e
}

// settledEntry 写入并结算一条流水
func (f *fixture) settledEntry(t *testing.T, d *models.Distributor, orderID string, amount string) *models.LedgerEntry {
	t.Helper()
	e := f.pendingEntry(t, d, orderID, amount)
	require.NoError(t, f.ledger.Settle(context.Background(), e.ID))
	return f.entry(t, e.ID)
}

func (f *fixture) reload(t *testing.T, id int64) *models.Distributor {
	t.Helper()
	d, err := f.distributors.GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) entry(t *testing.T, id int64) *models.LedgerEntry {
	t.Helper()
	e, err := f.entries.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

// assertInvariant 校验 available + frozen + total_withdrawn 等于已入账流水净额
func (f *fixture) assertInvariant(t *testing.T, distributorID int64) {
	t.Helper()
	d := f.reload(t, distributorID)
	list, err := f.entries.ListByBeneficiary(context.Background(), distributorID)
	require.NoError(t, err)

	credited := decimal.Zero
	for _, e := range list {
		credited = credited.Add(e.NetAmount())
	}
	balance := d.Available.Add(d.Frozen).Add(d.TotalWithdrawn)
	assert.True(t, money.Round(credited).Equal(money.Round(balance)),
		"available %s + frozen %s + withdrawn %s != credited %s",
		d.Available, d.Frozen, d.TotalWithdrawn, credited)
}

// setBalances 直接设置余额，用于构造场景
func (f *fixture) setBalances(t *testing.T, d *models.Distributor, available, frozen string) {
	t.Helper()
	current := f.reload(t, d.ID)
	current.Available = money.MustParse(available)
	current.Frozen = money.MustParse(frozen)
	require.NoError(t, f.distributors.SaveBalances(context.Background(), current))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, money.MustParse(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}
