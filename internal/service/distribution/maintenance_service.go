package distribution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// BatchResult 批处理结果
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// MaintenanceService 定时维护
// 每条记录独立事务，单条失败只记录日志，批次继续
type MaintenanceService struct {
	distributorRepo *repository.DistributorRepository
	entryRepo       *repository.LedgerEntryRepository
	ledger          *CommissionLedger
	rules           *CommissionRuleEngine
	settleDelay     time.Duration
	batchSize       int
	log             *zap.Logger
}

// NewMaintenanceService 创建定时维护服务
func NewMaintenanceService(
	distributorRepo *repository.DistributorRepository,
	entryRepo *repository.LedgerEntryRepository,
	ledger *CommissionLedger,
	rules *CommissionRuleEngine,
	settleDelay time.Duration,
	batchSize int,
	log *zap.Logger,
) *MaintenanceService {
	if log == nil {
		log = logger.GetLogger()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &MaintenanceService{
		distributorRepo: distributorRepo,
		entryRepo:       entryRepo,
		ledger:          ledger,
		rules:           rules,
		settleDelay:     settleDelay,
		batchSize:       batchSize,
		log:             log.Named("maintenance"),
	}
}

// SettleDue 结算超过结算延迟的待结算流水
func (s *MaintenanceService) SettleDue(ctx context.Context, now time.Time) (*BatchResult, error) {
	cutoff := now.Add(-s.settleDelay)
	return s.drain(ctx, "settle", func(afterID int64) ([]int64, error) {
		return s.entryRepo.ListPendingBefore(ctx, cutoff, afterID, s.batchSize)
	}, s.ledger.Settle)
}

// ReleaseDue 释放冻结期满的流水
func (s *MaintenanceService) ReleaseDue(ctx context.Context, now time.Time) (*BatchResult, error) {
	return s.drain(ctx, "release", func(afterID int64) ([]int64, error) {
		return s.entryRepo.ListFrozenDue(ctx, now, afterID, s.batchSize)
	}, s.ledger.Release)
}

// drain 按 ID 游标分页处理，失败的流水不会挡住后面的批次
func (s *MaintenanceService) drain(ctx context.Context, action string, next func(afterID int64) ([]int64, error), fn func(context.Context, int64) error) (*BatchResult, error) {
	result := &BatchResult{}
	var cursor int64
	for ctx.Err() == nil {
		ids, err := next(cursor)
		if err != nil {
			return result, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if err := fn(ctx, id); err != nil {
				result.Failed++
				s.log.Error("处理佣金流水失败", logger.Action(action), logger.EntryID(id), logger.Err(err))
				continue
			}
			result.Processed++
		}
		cursor = ids[len(ids)-1]
	}
	return result, nil
}

// DeactivateExpiredRules 停用过期规则
func (s *MaintenanceService) DeactivateExpiredRules(ctx context.Context, now time.Time) (*BatchResult, error) {
	n, err := s.rules.DeactivateExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Processed: n}, nil
}

// RollupTeamStats 重新统计直推数和团队数
// 团队只统计三级以内，逐层展开，不递归
func (s *MaintenanceService) RollupTeamStats(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{}
	var cursor int64
	for {
		ids, err := s.distributorRepo.ListIDsAfter(ctx, cursor, s.batchSize)
		if err != nil {
			return result, err
		}
		if len(ids) == 0 {
			return result, nil
		}
		for _, id := range ids {
			if err := s.rollup(ctx, id); err != nil {
				result.Failed++
				s.log.Error("统计团队数据失败", logger.DistributorID(id), logger.Err(err))
				continue
			}
			result.Processed++
		}
		cursor = ids[len(ids)-1]
	}
}

func (s *MaintenanceService) rollup(ctx context.Context, id int64) error {
	visited := map[int64]struct{}{id: {}}
	frontier := []int64{id}
	direct, team := 0, 0
	for depth := 1; depth <= models.MaxLevel && len(frontier) > 0; depth++ {
		children, err := s.distributorRepo.ListApprovedChildIDs(ctx, frontier)
		if err != nil {
			return err
		}
		next := children[:0]
		for _, child := range children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			next = append(next, child)
		}
		if depth == 1 {
			direct = len(next)
		}
		team += len(next)
		frontier = next
	}
	return s.distributorRepo.SetCounts(ctx, id, direct, team)
}

// ResetMonthlyCounters 跨月后清零本月佣金，同一月份内重复执行无影响
func (s *MaintenanceService) ResetMonthlyCounters(ctx context.Context, now time.Time) (*BatchResult, error) {
	n, err := s.distributorRepo.ResetMonthCommission(ctx, MonthOf(now))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.log.Info("本月佣金已清零", logger.String("month", MonthOf(now)), logger.Int64("distributors", n))
	}
	return &BatchResult{Processed: int(n)}, nil
}
