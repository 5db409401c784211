package distribution

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6,16}$`)

// ValidCode 分销码格式是否合法
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Chain 推荐链，Members[0] 为一级分销商
type Chain struct {
	Members       []*models.Distributor
	CycleDetected bool
}

// Len 链长度
func (c *Chain) Len() int {
	return len(c.Members)
}

// IDs 链上分销商 ID
func (c *Chain) IDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// ChainResolver 推荐链解析
// 只读，不加锁
type ChainResolver struct {
	distributorRepo *repository.DistributorRepository
	metrics         *metrics.Metrics
	log             *zap.Logger
}

// NewChainResolver 创建推荐链解析器
func NewChainResolver(distributorRepo *repository.DistributorRepository, m *metrics.Metrics, log *zap.Logger) *ChainResolver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ChainResolver{
		distributorRepo: distributorRepo,
		metrics:         m,
		log:             log.Named("chain"),
	}
}

// Resolve 解析分销码对应的推荐链
// 分销码未知、格式错误或未审核时返回空链
func (r *ChainResolver) Resolve(ctx context.Context, code string) (*Chain, error) {
	chain := &Chain{}
	if !ValidCode(code) {
		return chain, nil
	}

	head, err := r.distributorRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return chain, nil
		}
		return nil, err
	}

	visited := make(map[int64]struct{}, models.MaxLevel)
	current := head
	for current != nil && current.IsApproved() && chain.Len() < models.MaxLevel {
		if _, seen := visited[current.ID]; seen {
			chain.CycleDetected = true
			r.metrics.RecordChainCycle()
			r.log.Warn("推荐链存在循环，已截断",
				logger.String("code", code),
				logger.DistributorID(current.ID),
				logger.Any("chain", chain.IDs()))
			break
		}
		visited[current.ID] = struct{}{}
		chain.Members = append(chain.Members, current)

		if current.ParentID == nil || chain.Len() == models.MaxLevel {
			break
		}
		parent, err := r.distributorRepo.GetByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				break
			}
			return nil, err
		}
		current = parent
	}
	return chain, nil
}

// Ancestors 返回分销商的上级 ID，由近及远，最多 MaxLevel 个
// 遇到循环时截断并返回 ErrChainCycle
func (r *ChainResolver) Ancestors(ctx context.Context, distributorID int64) ([]int64, error) {
	return ancestors(ctx, r.distributorRepo, distributorID)
}

func ancestors(ctx context.Context, repo *repository.DistributorRepository, distributorID int64) ([]int64, error) {
	d, err := repo.GetByID(ctx, distributorID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	visited := map[int64]struct{}{d.ID: {}}
	for d.ParentID != nil && len(ids) < models.MaxLevel {
		if _, seen := visited[*d.ParentID]; seen {
			return ids, errors.ErrChainCycle
		}
		parent, err := repo.GetByID(ctx, *d.ParentID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				break
			}
			return nil, err
		}
		visited[parent.ID] = struct{}{}
		ids = append(ids, parent.ID)
		d = parent
	}
	return ids, nil
}
