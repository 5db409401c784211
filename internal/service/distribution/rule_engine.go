package distribution

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/cache"
	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

const ruleCacheName = "commission_rule"

var hundred = decimal.NewFromInt(100)

// CommissionRuleEngine 佣金规则引擎
type CommissionRuleEngine struct {
	ruleRepo  *repository.CommissionRuleRepository
	rdb       *redis.Client
	cacheTTL  time.Duration
	goods     GoodsCatalog
	batchSize int
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewCommissionRuleEngine 创建佣金规则引擎，rdb 为 nil 时不使用缓存
func NewCommissionRuleEngine(
	ruleRepo *repository.CommissionRuleRepository,
	rdb *redis.Client,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	log *zap.Logger,
) *CommissionRuleEngine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &CommissionRuleEngine{
		ruleRepo:  ruleRepo,
		rdb:       rdb,
		cacheTTL:  cacheTTL,
		batchSize: 200,
		metrics:   m,
		log:       log.Named("rule"),
	}
}

// SetGoodsCatalog 设置商品目录，用于创建规则时补全商品名称
func (e *CommissionRuleEngine) SetGoodsCatalog(goods GoodsCatalog) {
	e.goods = goods
}

// Resolve 获取商品在 at 时刻生效的规则
// 多条规则窗口重叠时，开始时间最晚的生效
func (e *CommissionRuleEngine) Resolve(ctx context.Context, goodsID string, at time.Time) (*models.CommissionRule, error) {
	rules, err := e.activeRules(ctx, goodsID)
	if err != nil {
		return nil, err
	}

	var best *models.CommissionRule
	for _, rule := range rules {
		if !rule.ActiveAt(at) {
			continue
		}
		if best == nil || startsAfter(rule, best) {
			best = rule
		}
	}
	if best == nil {
		return nil, errors.ErrRuleNotFound
	}
	return best, nil
}

// startsAfter a 是否比 b 更晚开始，未设置开始时间视为最早
func startsAfter(a, b *models.CommissionRule) bool {
	switch {
	case a.StartTime == nil && b.StartTime == nil:
		return a.ID > b.ID
	case a.StartTime == nil:
		return false
	case b.StartTime == nil:
		return true
	case a.StartTime.Equal(*b.StartTime):
		return a.ID > b.ID
	default:
		return a.StartTime.After(*b.StartTime)
	}
}

// activeRules 读取商品的启用规则，优先读缓存，缓存异常时回源数据库
func (e *CommissionRuleEngine) activeRules(ctx context.Context, goodsID string) ([]*models.CommissionRule, error) {
	key := cache.RuleKey(goodsID)
	if e.rdb != nil {
		var cached []*models.CommissionRule
		hit, err := cache.GetJSON(ctx, e.rdb, key, &cached)
		switch {
		case err != nil:
			e.log.Warn("读取规则缓存失败", logger.String("goods_id", goodsID), logger.Err(err))
		case hit:
			e.metrics.RecordCacheHit(ruleCacheName)
			return cached, nil
		default:
			e.metrics.RecordCacheMiss(ruleCacheName)
		}
	}

	rules, err := e.ruleRepo.ListActiveByGoods(ctx, goodsID)
	if err != nil {
		return nil, err
	}

	if e.rdb != nil {
		if err := cache.SetJSON(ctx, e.rdb, key, rules, e.cacheTTL); err != nil {
			e.log.Warn("写入规则缓存失败", logger.String("goods_id", goodsID), logger.Err(err))
		}
	}
	return rules, nil
}

func (e *CommissionRuleEngine) invalidate(ctx context.Context, goodsID string) {
	if e.rdb == nil {
		return
	}
	if err := cache.Delete(ctx, e.rdb, cache.RuleKey(goodsID)); err != nil {
		e.log.Warn("清除规则缓存失败", logger.String("goods_id", goodsID), logger.Err(err))
	}
}

// Compute 计算某层级的佣金
// 层级越界或费率非正返回零，不生成流水
func (e *CommissionRuleEngine) Compute(rule *models.CommissionRule, level int, lineAmount decimal.Decimal) decimal.Decimal {
	return ComputeCommission(rule.CommissionType, rule.RateFor(level), rule.MinCommission, rule.MaxCommission, lineAmount)
}

// ComputeCommission 按规则快照计算佣金
// 费率为零表示该层级不分佣，直接返回零，不按 min 兜底
func ComputeCommission(commissionType string, rate decimal.Decimal, min, max decimal.NullDecimal, lineAmount decimal.Decimal) decimal.Decimal {
	if !money.IsPositive(rate) || !money.IsPositive(lineAmount) {
		return decimal.Zero
	}

	var raw decimal.Decimal
	switch commissionType {
	case models.CommissionTypePercentage:
		raw = lineAmount.Mul(rate).Div(hundred)
	case models.CommissionTypeFixed:
		raw = rate
	default:
		return decimal.Zero
	}
	return money.Round(money.Clamp(raw, min, max))
}

// RuleRequest 规则创建/修改请求
type RuleRequest struct {
	GoodsID        string              `json:"goods_id" binding:"required"`
	GoodsName      string              `json:"goods_name"`
	CommissionType string              `json:"commission_type" binding:"required,oneof=percentage fixed"`
	Level1Rate     decimal.Decimal     `json:"level1_rate"`
	Level2Rate     decimal.Decimal     `json:"level2_rate"`
	Level3Rate     decimal.Decimal     `json:"level3_rate"`
	MinCommission  decimal.NullDecimal `json:"min_commission"`
	MaxCommission  decimal.NullDecimal `json:"max_commission"`
	StartTime      *time.Time          `json:"start_time"`
	EndTime        *time.Time          `json:"end_time"`
}

// Validate 校验规则参数
func (r *RuleRequest) Validate() error {
	if r.GoodsID == "" {
		return errors.ErrInvalidInput.WithMessage("商品ID不能为空")
	}
	if r.CommissionType != models.CommissionTypePercentage && r.CommissionType != models.CommissionTypeFixed {
		return errors.ErrInvalidInput.WithMessage("佣金类型无效")
	}
	for _, rate := range []decimal.Decimal{r.Level1Rate, r.Level2Rate, r.Level3Rate} {
		if rate.IsNegative() {
			return errors.ErrInvalidInput.WithMessage("佣金费率不能为负")
		}
		if r.CommissionType == models.CommissionTypePercentage && rate.GreaterThan(hundred) {
			return errors.ErrInvalidInput.WithMessage("佣金比例不能超过100")
		}
	}
	if r.MinCommission.Valid && r.MinCommission.Decimal.IsNegative() {
		return errors.ErrInvalidInput.WithMessage("最低佣金不能为负")
	}
	if r.MinCommission.Valid && r.MaxCommission.Valid && r.MinCommission.Decimal.GreaterThan(r.MaxCommission.Decimal) {
		return errors.ErrInvalidInput.WithMessage("最低佣金不能高于最高佣金")
	}
	if r.StartTime != nil && r.EndTime != nil && !r.EndTime.After(*r.StartTime) {
		return errors.ErrInvalidInput.WithMessage("结束时间必须晚于开始时间")
	}
	return nil
}

func (r *RuleRequest) apply(rule *models.CommissionRule) {
	rule.GoodsID = r.GoodsID
	rule.GoodsName = r.GoodsName
	rule.CommissionType = r.CommissionType
	rule.Level1Rate = r.Level1Rate
	rule.Level2Rate = r.Level2Rate
	rule.Level3Rate = r.Level3Rate
	rule.MinCommission = r.MinCommission
	rule.MaxCommission = r.MaxCommission
	rule.StartTime = r.StartTime
	rule.EndTime = r.EndTime
}

// CreateRule 创建规则
func (e *CommissionRuleEngine) CreateRule(ctx context.Context, req *RuleRequest) (*models.CommissionRule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.GoodsName == "" && e.goods != nil {
		goods, err := e.goods.GetGoods(ctx, req.GoodsID)
		if err != nil {
			return nil, err
		}
		req.GoodsName = goods.Name
	}

	rule := &models.CommissionRule{Status: models.RuleStatusActive}
	req.apply(rule)
	if err := e.ruleRepo.Create(ctx, rule); err != nil {
		return nil, err
	}
	e.invalidate(ctx, rule.GoodsID)

	e.log.Info("创建佣金规则", logger.Int64("rule_id", rule.ID), logger.String("goods_id", rule.GoodsID))
	return rule, nil
}

// UpdateRule 修改规则，已被流水引用的规则只能停用
func (e *CommissionRuleEngine) UpdateRule(ctx context.Context, id int64, req *RuleRequest) (*models.CommissionRule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rule, err := e.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	referenced, err := e.ruleRepo.IsReferenced(ctx, id)
	if err != nil {
		return nil, err
	}
	if referenced {
		return nil, errors.ErrRuleReferenced
	}

	oldGoodsID := rule.GoodsID
	if req.GoodsName == "" {
		req.GoodsName = rule.GoodsName
	}
	req.apply(rule)
	if err := e.ruleRepo.Update(ctx, rule); err != nil {
		return nil, err
	}
	e.invalidate(ctx, oldGoodsID)
	if oldGoodsID != rule.GoodsID {
		e.invalidate(ctx, rule.GoodsID)
	}
	return rule, nil
}

// DeactivateRule 停用规则，重复停用不报错
func (e *CommissionRuleEngine) DeactivateRule(ctx context.Context, id int64) (*models.CommissionRule, error) {
	rule, err := e.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.ruleRepo.Deactivate(ctx, id); err != nil {
		return nil, err
	}
	rule.Status = models.RuleStatusInactive
	e.invalidate(ctx, rule.GoodsID)
	return rule, nil
}

// DeactivateExpired 停用已过期的规则，逐条处理，返回成功数
func (e *CommissionRuleEngine) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	rules, err := e.ruleRepo.ListExpired(ctx, now, e.batchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, rule := range rules {
		ok, err := e.ruleRepo.Deactivate(ctx, rule.ID)
		if err != nil {
			e.log.Error("停用过期规则失败", logger.Int64("rule_id", rule.ID), logger.Err(err))
			continue
		}
		if ok {
			done++
			e.invalidate(ctx, rule.GoodsID)
		}
	}
	return done, nil
}
