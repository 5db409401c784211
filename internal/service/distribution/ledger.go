package distribution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/common/tracing"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// 结算策略
const (
	SettlementImmediate = "immediate" // 结算即可提现
	SettlementFrozen    = "frozen"    // 结算后冻结，到期释放
)

// CommissionLedger 佣金账本
// 每个操作在一个事务内完成流水状态变更和余额变更
type CommissionLedger struct {
	tx              *balanceTx
	distributorRepo *repository.DistributorRepository
	entryRepo       *repository.LedgerEntryRepository
	policy          string
	freezeFor       time.Duration
	now             func() time.Time
	metrics         *metrics.Metrics
	log             *zap.Logger
}

// NewCommissionLedger 创建佣金账本
func NewCommissionLedger(
	db *gorm.DB,
	distributorRepo *repository.DistributorRepository,
	entryRepo *repository.LedgerEntryRepository,
	cfg *config.DistributionConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *CommissionLedger {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named("ledger")
	return &CommissionLedger{
		tx: &balanceTx{
			db:              db,
			distributorRepo: distributorRepo,
			metrics:         m,
			log:             log,
		},
		distributorRepo: distributorRepo,
		entryRepo:       entryRepo,
		policy:          cfg.SettlementPolicy,
		freezeFor:       cfg.FreezeDuration(),
		now:             time.Now,
		metrics:         m,
		log:             log,
	}
}

// SetClock 设置时钟
func (l *CommissionLedger) SetClock(now func() time.Time) {
	l.now = now
}

// Settle 结算流水
// 已结算的流水重复调用不产生效果，已退款或已取消的返回 ErrEntryStatus
func (l *CommissionLedger) Settle(ctx context.Context, entryID int64) (err error) {
	ctx, span := tracing.Start(ctx, "ledger.Settle", tracing.AttrEntryID.Int64(entryID))
	defer func() { tracing.End(span, err) }()

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.IsCredited() {
		return nil
	}
	if entry.IsTerminal() {
		return errors.ErrEntryStatus
	}

	var settled *models.LedgerEntry
	err = l.tx.run(ctx, "settle", entry.BeneficiaryDistributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		entries := l.entryRepo.WithTx(tx)
		e, err := entries.LockByID(ctx, entryID)
		if err != nil {
			return false, err
		}
		if e.IsCredited() {
			return false, nil
		}
		if e.Status != models.EntryStatusPending {
			return false, errors.ErrEntryStatus
		}

		now := l.now()
		credit := e.CreditAmount()
		to := models.EntryStatusSettled
		fields := map[string]interface{}{"settled_at": now}
		if l.policy == SettlementFrozen {
			to = models.EntryStatusFrozen
			fields["freeze_until"] = now.Add(l.freezeFor)
			d.Frozen = money.Round(d.Frozen.Add(credit))
		} else {
			d.Available = money.Round(d.Available.Add(credit))
		}
		d.TotalCommission = money.Round(d.TotalCommission.Add(credit))
		addMonthCommission(d, credit, now)

		ok, err := entries.Transition(ctx, e.ID, models.EntryStatusPending, to, fields)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.ErrConcurrentUpdate
		}
		e.Status = to
		settled = e
		return true, nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		l.metrics.RecordEntries(settled.Status, 1)
		l.metrics.RecordAmount("settle", settled.CreditAmount())
		l.log.Info("佣金已结算",
			logger.EntryID(entryID),
			logger.DistributorID(settled.BeneficiaryDistributorID),
			logger.String("status", settled.Status),
			logger.Amount("amount", settled.CreditAmount()))
	}
	return nil
}

// MonthOf 本月佣金的统计月份
func MonthOf(t time.Time) string {
	return t.Format("2006-01")
}

// addMonthCommission 累加本月佣金，跨月时先清零
func addMonthCommission(d *models.Distributor, amount decimal.Decimal, now time.Time) {
	month := MonthOf(now)
	if d.CommissionMonth != month {
		d.MonthCommission = decimal.Zero
		d.CommissionMonth = month
	}
	d.MonthCommission = money.Round(d.MonthCommission.Add(amount))
}

// FreezeEntry 冻结已结算流水，资金从可提现转入冻结
func (l *CommissionLedger) FreezeEntry(ctx context.Context, entryID int64) (err error) {
	ctx, span := tracing.Start(ctx, "ledger.FreezeEntry", tracing.AttrEntryID.Int64(entryID))
	defer func() { tracing.End(span, err) }()

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == models.EntryStatusFrozen {
		return nil
	}
	if entry.Status != models.EntryStatusSettled {
		return errors.ErrEntryStatus
	}

	return l.tx.run(ctx, "freeze_entry", entry.BeneficiaryDistributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		entries := l.entryRepo.WithTx(tx)
		e, err := entries.LockByID(ctx, entryID)
		if err != nil {
			return false, err
		}
		if e.Status == models.EntryStatusFrozen {
			return false, nil
		}
		if e.Status != models.EntryStatusSettled {
			return false, errors.ErrEntryStatus
		}
		credit := e.CreditAmount()
		if d.Available.LessThan(credit) {
			return false, errors.ErrAvailableInsufficient
		}

		d.Available = money.Round(d.Available.Sub(credit))
		d.Frozen = money.Round(d.Frozen.Add(credit))
		ok, err := entries.Transition(ctx, e.ID, models.EntryStatusSettled, models.EntryStatusFrozen,
			map[string]interface{}{"freeze_until": l.now().Add(l.freezeFor)})
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.ErrConcurrentUpdate
		}
		return true, nil
	})
}

// Release 释放冻结期满的流水，资金从冻结转入可提现
func (l *CommissionLedger) Release(ctx context.Context, entryID int64) (err error) {
	ctx, span := tracing.Start(ctx, "ledger.Release", tracing.AttrEntryID.Int64(entryID))
	defer func() { tracing.End(span, err) }()

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == models.EntryStatusAvailable {
		return nil
	}
	if entry.Status != models.EntryStatusFrozen {
		return errors.ErrEntryStatus
	}

	var released bool
	err = l.tx.run(ctx, "release", entry.BeneficiaryDistributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		entries := l.entryRepo.WithTx(tx)
		e, err := entries.LockByID(ctx, entryID)
		if err != nil {
			return false, err
		}
		if e.Status == models.EntryStatusAvailable {
			return false, nil
		}
		if e.Status != models.EntryStatusFrozen {
			return false, errors.ErrEntryStatus
		}
		credit := e.CreditAmount()
		if d.Frozen.LessThan(credit) {
			return false, errors.ErrFrozenInsufficient
		}

		d.Frozen = money.Round(d.Frozen.Sub(credit))
		d.Available = money.Round(d.Available.Add(credit))
		ok, err := entries.Transition(ctx, e.ID, models.EntryStatusFrozen, models.EntryStatusAvailable,
			map[string]interface{}{"released_at": l.now()})
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.ErrConcurrentUpdate
		}
		released = true
		return true, nil
	})
	if err == nil && released {
		l.metrics.RecordEntries(models.EntryStatusAvailable, 1)
	}
	return err
}

// Freeze 将可提现余额转入冻结，余额不足时不做部分转移
func (l *CommissionLedger) Freeze(ctx context.Context, distributorID int64, amount decimal.Decimal) error {
	return l.move(ctx, "freeze", distributorID, amount, true)
}

// Unfreeze 将冻结余额转回可提现
// 冻结中的流水和待审核提现占用的冻结资金不能转出
func (l *CommissionLedger) Unfreeze(ctx context.Context, distributorID int64, amount decimal.Decimal) error {
	return l.move(ctx, "unfreeze", distributorID, amount, false)
}

func (l *CommissionLedger) move(ctx context.Context, op string, distributorID int64, amount decimal.Decimal, toFrozen bool) (err error) {
	ctx, span := tracing.Start(ctx, "ledger."+op,
		tracing.AttrDistributorID.Int64(distributorID),
		attribute.String("amount", amount.StringFixed(2)))
	defer func() { tracing.End(span, err) }()

	if !money.IsPositive(amount) {
		return errors.ErrInvalidAmount
	}
	amount = money.Round(amount)

	return l.tx.run(ctx, op, distributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		if toFrozen {
			if d.Available.LessThan(amount) {
				return false, errors.ErrAvailableInsufficient
			}
			d.Available = money.Round(d.Available.Sub(amount))
			d.Frozen = money.Round(d.Frozen.Add(amount))
		} else {
			reserved, err := l.reservedFrozen(ctx, tx, distributorID)
			if err != nil {
				return false, err
			}
			if d.Frozen.Sub(reserved).LessThan(amount) {
				return false, errors.ErrFrozenInsufficient
			}
			d.Frozen = money.Round(d.Frozen.Sub(amount))
			d.Available = money.Round(d.Available.Add(amount))
		}
		return true, nil
	})
}

// reservedFrozen 冻结余额中由冻结流水和待审核提现占用的部分
func (l *CommissionLedger) reservedFrozen(ctx context.Context, tx *gorm.DB, distributorID int64) (decimal.Decimal, error) {
	entries, err := l.entryRepo.WithTx(tx).SumByStatus(ctx, distributorID, models.EntryStatusFrozen)
	if err != nil {
		return decimal.Zero, err
	}
	withdrawals, err := repository.NewWithdrawalRepository(tx).SumPending(ctx, distributorID)
	if err != nil {
		return decimal.Zero, err
	}
	return entries.Add(withdrawals), nil
}

// ReducePending 按比例扣减待结算流水，结算时只计入扣减后的金额
// 流水已冲正过返回零；期间已被结算的流水转为 RefundReverse
func (l *CommissionLedger) ReducePending(ctx context.Context, entryID int64, ratio decimal.Decimal) (reduced decimal.Decimal, err error) {
	ctx, span := tracing.Start(ctx, "ledger.ReducePending",
		tracing.AttrEntryID.Int64(entryID),
		attribute.String("ratio", ratio.String()))
	defer func() { tracing.End(span, err) }()

	if !money.IsPositive(ratio) || !ratio.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.ErrInvalidInput.WithMessage("退款比例无效")
	}

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.IsReversed() {
		return decimal.Zero, nil
	}
	if entry.IsCredited() {
		return l.RefundReverse(ctx, entryID, ratio)
	}

	reduced = money.Round(entry.Amount.Mul(ratio))
	ok, err := l.entryRepo.ReducePending(ctx, entryID, reduced, l.now())
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		current, err := l.entryRepo.GetByID(ctx, entryID)
		if err != nil {
			return decimal.Zero, err
		}
		if current.IsCredited() && !current.IsReversed() {
			return l.RefundReverse(ctx, entryID, ratio)
		}
		return decimal.Zero, nil
	}

	l.metrics.RecordAmount("reduce_pending", reduced)
	return reduced, nil
}

// RefundReverse 按比例冲正已入账流水，返回冲正金额
// 已冲正过的流水直接返回零，待结算流水返回 ErrEntryStatus
func (l *CommissionLedger) RefundReverse(ctx context.Context, entryID int64, ratio decimal.Decimal) (reversed decimal.Decimal, err error) {
	ctx, span := tracing.Start(ctx, "ledger.RefundReverse",
		tracing.AttrEntryID.Int64(entryID),
		attribute.String("ratio", ratio.String()))
	defer func() { tracing.End(span, err) }()

	if !money.IsPositive(ratio) {
		return decimal.Zero, errors.ErrInvalidInput.WithMessage("退款比例无效")
	}
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.IsReversed() {
		return decimal.Zero, nil
	}
	if !entry.IsCredited() {
		return decimal.Zero, errors.ErrEntryStatus
	}

	var negative *models.Distributor
	err = l.tx.run(ctx, "refund_reverse", entry.BeneficiaryDistributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		reversed = decimal.Zero
		negative = nil

		entries := l.entryRepo.WithTx(tx)
		e, err := entries.LockByID(ctx, entryID)
		if err != nil {
			return false, err
		}
		if e.IsReversed() {
			return false, nil
		}
		if !e.IsCredited() {
			return false, errors.ErrEntryStatus
		}

		amount := money.Round(e.Amount.Mul(ratio))
		if amount.GreaterThan(e.Amount) {
			amount = e.Amount
		}

		d.TotalCommission = money.Round(d.TotalCommission.Sub(amount))
		if d.CommissionMonth == MonthOf(l.now()) {
			d.MonthCommission = decimal.Max(decimal.Zero, money.Round(d.MonthCommission.Sub(amount)))
		}
		if e.Status == models.EntryStatusFrozen {
			d.Frozen = money.Round(d.Frozen.Sub(amount))
		} else {
			d.Available = money.Round(d.Available.Sub(amount))
			if d.Available.IsNegative() {
				negative = d
			}
		}

		ok, err := entries.Transition(ctx, e.ID, e.Status, models.EntryStatusRefunded, map[string]interface{}{
			"refunded_amount": amount,
			"refunded_at":     l.now(),
		})
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.ErrConcurrentUpdate
		}
		reversed = amount
		return true, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if negative != nil {
		l.log.Warn("退款冲正后可提现余额为负",
			logger.DistributorID(negative.ID),
			logger.EntryID(entryID),
			logger.Amount("available", negative.Available))
	}
	if reversed.IsPositive() {
		l.metrics.RecordEntries(models.EntryStatusRefunded, 1)
		l.metrics.RecordAmount("refund_reverse", reversed)
	}
	return reversed, nil
}

// Cancel 取消待结算流水，不影响余额
func (l *CommissionLedger) Cancel(ctx context.Context, entryID int64) error {
	ok, err := l.entryRepo.Transition(ctx, entryID, models.EntryStatusPending, models.EntryStatusCancelled,
		map[string]interface{}{"cancelled_at": l.now()})
	if err != nil {
		return err
	}
	if ok {
		l.metrics.RecordEntries(models.EntryStatusCancelled, 1)
		return nil
	}

	entry, err := l.entryRepo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == models.EntryStatusCancelled {
		return nil
	}
	return errors.ErrEntryStatus
}

// CommissionSummary 佣金汇总
type CommissionSummary struct {
	DistributorID   int64           `json:"distributor_id"`
	Status          string          `json:"status"`
	Level           int             `json:"level"`
	Available       decimal.Decimal `json:"available"`
	Frozen          decimal.Decimal `json:"frozen"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	MonthCommission decimal.Decimal `json:"month_commission"`
	Pending         decimal.Decimal `json:"pending"`
	DirectCount     int             `json:"direct_count"`
	TeamCount       int             `json:"team_count"`
}

// Summary 获取分销商佣金汇总
func (l *CommissionLedger) Summary(ctx context.Context, distributorID int64) (*CommissionSummary, error) {
	d, err := l.distributorRepo.GetByID(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	pending, err := l.entryRepo.SumByStatus(ctx, distributorID, models.EntryStatusPending)
	if err != nil {
		return nil, err
	}
	return &CommissionSummary{
		DistributorID:   d.ID,
		Status:          d.Status,
		Level:           d.Level,
		Available:       d.Available,
		Frozen:          d.Frozen,
		TotalCommission: d.TotalCommission,
		TotalWithdrawn:  d.TotalWithdrawn,
		MonthCommission: d.MonthCommission,
		Pending:         pending,
		DirectCount:     d.DirectCount,
		TeamCount:       d.TeamCount,
	}, nil
}
