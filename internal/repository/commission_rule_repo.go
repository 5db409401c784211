package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/models"
)

// CommissionRuleRepository 佣金规则仓储
type CommissionRuleRepository struct {
	db *gorm.DB
}

// NewCommissionRuleRepository 创建佣金规则仓储
func NewCommissionRuleRepository(db *gorm.DB) *CommissionRuleRepository {
	return &CommissionRuleRepository{db: db}
}

// Create 创建规则
func (r *CommissionRuleRepository) Create(ctx context.Context, rule *models.CommissionRule) error {
	return translate(r.db.WithContext(ctx).Create(rule).Error, nil)
}

// GetByID 根据 ID 获取规则
func (r *CommissionRuleRepository) GetByID(ctx context.Context, id int64) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, translate(err, errors.ErrRuleNotFound)
	}
	return &rule, nil
}

// Update 保存规则
func (r *CommissionRuleRepository) Update(ctx context.Context, rule *models.CommissionRule) error {
	return translate(r.db.WithContext(ctx).Save(rule).Error, nil)
}

// ListActiveByGoods 获取商品下所有启用的规则，按生效时间倒序
func (r *CommissionRuleRepository) ListActiveByGoods(ctx context.Context, goodsID string) ([]*models.CommissionRule, error) {
	var rules []*models.CommissionRule
	err := r.db.WithContext(ctx).
		Where("goods_id = ? AND status = ?", goodsID, models.RuleStatusActive).
		Order("id DESC").
		Find(&rules).Error
	return rules, translate(err, nil)
}

// Deactivate 停用规则，返回是否命中
func (r *CommissionRuleRepository) Deactivate(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.CommissionRule{}).
		Where("id = ? AND status = ?", id, models.RuleStatusActive).
		Update("status", models.RuleStatusInactive)
	if result.Error != nil {
		return false, errors.Internal(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListExpired 获取已过期但仍启用的规则
func (r *CommissionRuleRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.CommissionRule, error) {
	var rules []*models.CommissionRule
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time IS NOT NULL AND end_time <= ?", models.RuleStatusActive, now).
		Order("id").
		Limit(limit).
		Find(&rules).Error
	return rules, translate(err, nil)
}

// IsReferenced 规则是否已被佣金流水引用
func (r *CommissionRuleRepository) IsReferenced(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("rule_id = ?", id).Count(&count).Error
	return count > 0, translate(err, nil)
}
