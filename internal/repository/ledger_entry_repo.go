package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
)

// LedgerEntryRepository 佣金流水仓储
// 流水只追加，状态变更通过带前置状态的条件更新完成
type LedgerEntryRepository struct {
	db *gorm.DB
}

// NewLedgerEntryRepository 创建佣金流水仓储
func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *LedgerEntryRepository) WithTx(tx *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: tx}
}

// CreateBatch 批量写入流水
func (r *LedgerEntryRepository) CreateBatch(ctx context.Context, entries []*models.LedgerEntry, batchSize int) error {
	if len(entries) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).CreateInBatches(entries, batchSize).Error
	if IsDuplicate(err) {
		return errors.ErrConflict.WithMessage("佣金流水已存在").WithError(err)
	}
	return translate(err, nil)
}

// GetByID 根据 ID 获取流水
func (r *LedgerEntryRepository) GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, translate(err, errors.ErrEntryNotFound)
	}
	return &entry, nil
}

// LockByID 加行锁读取流水，必须在事务中调用
func (r *LedgerEntryRepository) LockByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&entry, id).Error
	if err != nil {
		return nil, translate(err, errors.ErrEntryNotFound)
	}
	return &entry, nil
}

// Transition 在状态为 from 时变更为 to，返回是否命中
func (r *LedgerEntryRepository) Transition(ctx context.Context, id int64, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Internal(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReducePending 记录待结算流水的部分退款，流水已冲正或已不是待结算时返回 false
func (r *LedgerEntryRepository) ReducePending(ctx context.Context, id int64, refunded decimal.Decimal, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ? AND refunded_amount = 0", id, models.EntryStatusPending).
		Updates(map[string]interface{}{
			"refunded_amount": refunded,
			"refunded_at":     at,
		})
	if result.Error != nil {
		return false, errors.Internal(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByOrder 获取订单的全部流水
func (r *LedgerEntryRepository) ListByOrder(ctx context.Context, orderID string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("order_line_id, level").
		Find(&entries).Error
	return entries, translate(err, nil)
}

// ListByLine 获取订单行的全部流水
func (r *LedgerEntryRepository) ListByLine(ctx context.Context, orderID, lineID string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND order_line_id = ?", orderID, lineID).
		Order("level").
		Find(&entries).Error
	return entries, translate(err, nil)
}

// ListByBeneficiary 获取分销商的全部流水
func (r *LedgerEntryRepository) ListByBeneficiary(ctx context.Context, distributorID int64) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("beneficiary_distributor_id = ?", distributorID).
		Order("id").
		Find(&entries).Error
	return entries, translate(err, nil)
}

// ListPendingBefore 获取创建时间早于 cutoff 且 ID 大于 afterID 的待结算流水 ID
func (r *LedgerEntryRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("status = ? AND created_at <= ? AND id > ?", models.EntryStatusPending, cutoff, afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, translate(err, nil)
}

// ListFrozenDue 获取冻结期已满且 ID 大于 afterID 的流水 ID
func (r *LedgerEntryRepository) ListFrozenDue(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("status = ? AND freeze_until IS NOT NULL AND freeze_until <= ? AND id > ?", models.EntryStatusFrozen, now, afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, translate(err, nil)
}

// SumByStatus 汇总分销商某状态流水扣除退款后的金额
func (r *LedgerEntryRepository) SumByStatus(ctx context.Context, distributorID int64, status string) (decimal.Decimal, error) {
	var result struct {
		Total decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("SUM(amount - refunded_amount) AS total").
		Where("beneficiary_distributor_id = ? AND status = ?", distributorID, status).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, errors.Internal(err)
	}
	if !result.Total.Valid {
		return decimal.Zero, nil
	}
	return money.Round(result.Total.Decimal), nil
}
