package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
)

// WithdrawalRepository 提现仓储
type WithdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository 创建提现仓储
func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *WithdrawalRepository) WithTx(tx *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: tx}
}

// Create 创建提现记录
func (r *WithdrawalRepository) Create(ctx context.Context, withdrawal *models.CashWithdrawal) error {
	return translate(r.db.WithContext(ctx).Create(withdrawal).Error, nil)
}

// GetByID 根据 ID 获取提现记录
func (r *WithdrawalRepository) GetByID(ctx context.Context, id int64) (*models.CashWithdrawal, error) {
	var withdrawal models.CashWithdrawal
	if err := r.db.WithContext(ctx).First(&withdrawal, id).Error; err != nil {
		return nil, translate(err, errors.ErrWithdrawalNotFound)
	}
	return &withdrawal, nil
}

// GetByWithdrawalNo 根据提现单号获取记录
func (r *WithdrawalRepository) GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*models.CashWithdrawal, error) {
	var withdrawal models.CashWithdrawal
	if err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&withdrawal).Error; err != nil {
		return nil, translate(err, errors.ErrWithdrawalNotFound)
	}
	return &withdrawal, nil
}

// HasPending 分销商是否存在待审核提现
func (r *WithdrawalRepository) HasPending(ctx context.Context, distributorID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CashWithdrawal{}).
		Where("distributor_id = ? AND status = ?", distributorID, models.WithdrawalStatusPending).
		Count(&count).Error
	return count > 0, translate(err, nil)
}

// SumPending 汇总分销商待审核提现金额
func (r *WithdrawalRepository) SumPending(ctx context.Context, distributorID int64) (decimal.Decimal, error) {
	var result struct {
		Total decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).Model(&models.CashWithdrawal{}).
		Select("SUM(amount) AS total").
		Where("distributor_id = ? AND status = ?", distributorID, models.WithdrawalStatusPending).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, errors.Internal(err)
	}
	if !result.Total.Valid {
		return decimal.Zero, nil
	}
	return money.Round(result.Total.Decimal), nil
}

// Transition 在状态为 from 时变更为 to，返回是否命中
func (r *WithdrawalRepository) Transition(ctx context.Context, id int64, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.CashWithdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Internal(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByDistributor 获取分销商提现记录
func (r *WithdrawalRepository) ListByDistributor(ctx context.Context, distributorID int64, offset, limit int) ([]*models.CashWithdrawal, int64, error) {
	var withdrawals []*models.CashWithdrawal
	var total int64

	query := r.db.WithContext(ctx).Model(&models.CashWithdrawal{}).Where("distributor_id = ?", distributorID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Internal(err)
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&withdrawals).Error; err != nil {
		return nil, 0, errors.Internal(err)
	}
	return withdrawals, total, nil
}
