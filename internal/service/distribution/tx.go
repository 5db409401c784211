package distribution

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// maxTxAttempts 版本冲突时整个事务最多执行的次数
const maxTxAttempts = 3

// balanceFunc 在持有分销商行锁时执行，返回 true 表示余额有变更需要保存
type balanceFunc func(tx *gorm.DB, d *models.Distributor) (bool, error)

// balanceTx 分销商余额事务
// 先锁分销商行，再锁流水或提现单，所有余额变更走同一路径
type balanceTx struct {
	db              *gorm.DB
	distributorRepo *repository.DistributorRepository
	metrics         *metrics.Metrics
	log             *zap.Logger
}

// run 执行余额事务，只在版本冲突时重试
func (b *balanceTx) run(ctx context.Context, op string, distributorID int64, fn balanceFunc) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := b.distributorRepo.WithTx(tx)
			d, err := repo.LockByID(ctx, distributorID)
			if err != nil {
				return err
			}
			changed, err := fn(tx, d)
			if err != nil || !changed {
				return err
			}
			return repo.SaveBalances(ctx, d)
		})
		if !errors.IsConcurrentUpdate(err) {
			return err
		}
		b.metrics.RecordVersionConflict(op)
		b.log.Warn("余额版本冲突，重试事务",
			logger.Action(op),
			logger.DistributorID(distributorID),
			logger.Int("attempt", attempt))
	}
	return err
}
