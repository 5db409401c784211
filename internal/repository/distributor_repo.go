package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/models"
)

// DistributorRepository 分销商仓储
type DistributorRepository struct {
	db *gorm.DB
}

// NewDistributorRepository 创建分销商仓储
func NewDistributorRepository(db *gorm.DB) *DistributorRepository {
	return &DistributorRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *DistributorRepository) WithTx(tx *gorm.DB) *DistributorRepository {
	return &DistributorRepository{db: tx}
}

// Create 创建分销商
// 唯一约束冲突原样返回 gorm.ErrDuplicatedKey，由调用方决定是否重试
func (r *DistributorRepository) Create(ctx context.Context, distributor *models.Distributor) error {
	err := r.db.WithContext(ctx).Create(distributor).Error
	if IsDuplicate(err) {
		return err
	}
	return translate(err, nil)
}

// GetByID 根据 ID 获取分销商
func (r *DistributorRepository) GetByID(ctx context.Context, id int64) (*models.Distributor, error) {
	var distributor models.Distributor
	if err := r.db.WithContext(ctx).First(&distributor, id).Error; err != nil {
		return nil, translate(err, errors.ErrDistributorNotFound)
	}
	return &distributor, nil
}

// LockByID 加行锁读取分销商，必须在事务中调用
func (r *DistributorRepository) LockByID(ctx context.Context, id int64) (*models.Distributor, error) {
	var distributor models.Distributor
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&distributor, id).Error
	if err != nil {
		return nil, translate(err, errors.ErrDistributorNotFound)
	}
	return &distributor, nil
}

// GetByMemberID 根据会员 ID 获取分销商
func (r *DistributorRepository) GetByMemberID(ctx context.Context, memberID int64) (*models.Distributor, error) {
	var distributor models.Distributor
	if err := r.db.WithContext(ctx).Where("member_id = ?", memberID).First(&distributor).Error; err != nil {
		return nil, translate(err, errors.ErrDistributorNotFound)
	}
	return &distributor, nil
}

// GetByCode 根据分销码获取分销商
func (r *DistributorRepository) GetByCode(ctx context.Context, code string) (*models.Distributor, error) {
	var distributor models.Distributor
	if err := r.db.WithContext(ctx).Where("distribution_code = ?", code).First(&distributor).Error; err != nil {
		return nil, translate(err, errors.ErrParentCodeNotFound)
	}
	return &distributor, nil
}

// SaveBalances 按版本号保存余额字段
// 版本不匹配返回 ErrConcurrentUpdate，成功后 distributor.Version 自增
func (r *DistributorRepository) SaveBalances(ctx context.Context, distributor *models.Distributor) error {
	result := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id = ? AND version = ?", distributor.ID, distributor.Version).
		Updates(map[string]interface{}{
			"available":        distributor.Available,
			"frozen":           distributor.Frozen,
			"total_commission": distributor.TotalCommission,
			"total_withdrawn":  distributor.TotalWithdrawn,
			"month_commission": distributor.MonthCommission,
			"commission_month": distributor.CommissionMonth,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return errors.Internal(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrConcurrentUpdate
	}
	distributor.Version++
	return nil
}

// Transition 在状态为 from 时更新状态及附带字段，返回是否命中
func (r *DistributorRepository) Transition(ctx context.Context, id int64, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Internal(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IncrementCounts 增加直推数和团队数
func (r *DistributorRepository) IncrementCounts(ctx context.Context, id int64, direct, team int) error {
	err := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"direct_count": gorm.Expr("direct_count + ?", direct),
			"team_count":   gorm.Expr("team_count + ?", team),
		}).Error
	return translate(err, nil)
}

// SetCounts 覆盖直推数和团队数
func (r *DistributorRepository) SetCounts(ctx context.Context, id int64, direct, team int) error {
	err := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"direct_count": direct,
			"team_count":   team,
		}).Error
	return translate(err, nil)
}

// ListApprovedChildIDs 获取已通过审核的直属下级 ID
func (r *DistributorRepository) ListApprovedChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error) {
	var ids []int64
	if len(parentIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("parent_id IN ? AND status = ?", parentIDs, models.DistributorStatusApproved).
		Order("id").
		Pluck("id", &ids).Error
	return ids, translate(err, nil)
}

// ListIDsAfter 按 ID 游标分批获取分销商 ID
func (r *DistributorRepository) ListIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, translate(err, nil)
}

// ResetMonthCommission 将统计月份不是 month 的分销商本月佣金清零，返回影响行数
// 同一月份重复调用不会再次清零
func (r *DistributorRepository) ResetMonthCommission(ctx context.Context, month string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Distributor{}).
		Where("commission_month <> ?", month).
		Updates(map[string]interface{}{
			"month_commission": 0,
			"commission_month": month,
			"version":          gorm.Expr("version + 1"),
		})
	return result.RowsAffected, translate(result.Error, nil)
}

// List 获取分销商列表
func (r *DistributorRepository) List(ctx context.Context, offset, limit int, status string) ([]*models.Distributor, int64, error) {
	var distributors []*models.Distributor
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Distributor{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Internal(err)
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&distributors).Error; err != nil {
		return nil, 0, errors.Internal(err)
	}
	return distributors, total, nil
}
