package distribution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/common/tracing"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// OrderLine 订单行
type OrderLine struct {
	LineID  string          `json:"line_id"`
	GoodsID string          `json:"goods_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// OrderCompleted 订单完成事件
type OrderCompleted struct {
	OrderID          string      `json:"order_id"`
	DistributionCode string      `json:"distribution_code"`
	CompletedAt      time.Time   `json:"completed_at"`
	Lines            []OrderLine `json:"lines"`
}

// Validate 校验订单
func (o *OrderCompleted) Validate() error {
	if o.OrderID == "" {
		return errors.ErrInvalidInput.WithMessage("订单ID不能为空")
	}
	seen := make(map[string]struct{}, len(o.Lines))
	for _, line := range o.Lines {
		if line.LineID == "" || line.GoodsID == "" {
			return errors.ErrInvalidInput.WithMessagef("订单 %s 存在无效订单行", o.OrderID)
		}
		if !money.IsPositive(line.Amount) {
			return errors.ErrInvalidAmount.WithMessagef("订单行 %s 金额无效", line.LineID)
		}
		if _, dup := seen[line.LineID]; dup {
			return errors.ErrInvalidInput.WithMessagef("订单行 %s 重复", line.LineID)
		}
		seen[line.LineID] = struct{}{}
	}
	return nil
}

// OrderAttributionService 订单佣金归因
type OrderAttributionService struct {
	db        *gorm.DB
	entryRepo *repository.LedgerEntryRepository
	chains    *ChainResolver
	rules     *CommissionRuleEngine
	batchSize int
	now       func() time.Time
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewOrderAttributionService 创建订单归因服务
func NewOrderAttributionService(
	db *gorm.DB,
	entryRepo *repository.LedgerEntryRepository,
	chains *ChainResolver,
	rules *CommissionRuleEngine,
	batchSize int,
	m *metrics.Metrics,
	log *zap.Logger,
) *OrderAttributionService {
	if log == nil {
		log = logger.GetLogger()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &OrderAttributionService{
		db:        db,
		entryRepo: entryRepo,
		chains:    chains,
		rules:     rules,
		batchSize: batchSize,
		now:       time.Now,
		metrics:   m,
		log:       log.Named("attribution"),
	}
}

// SetClock 设置时钟
func (s *OrderAttributionService) SetClock(now func() time.Time) {
	s.now = now
}

// Attribute 为订单生成待结算佣金流水
// 同一订单重复调用返回已有流水，不重复写入
func (s *OrderAttributionService) Attribute(ctx context.Context, order *OrderCompleted) (entries []*models.LedgerEntry, err error) {
	ctx, span := tracing.Start(ctx, "attribution.Attribute", tracing.AttrOrderID.String(order.OrderID))
	defer func() { tracing.End(span, err) }()

	if err := order.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.entryRepo.ListByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.log.Info("订单已归因，忽略重复事件", logger.OrderID(order.OrderID), logger.Int("entries", len(existing)))
		return existing, nil
	}

	chain, err := s.chains.Resolve(ctx, order.DistributionCode)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("chain.length", chain.Len()))
	if chain.Len() == 0 {
		return []*models.LedgerEntry{}, nil
	}

	at := order.CompletedAt
	if at.IsZero() {
		at = s.now()
	}
	staged, total, err := s.stage(ctx, order, chain, at)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return staged, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.entryRepo.WithTx(tx).CreateBatch(ctx, staged, s.batchSize)
	})
	if errors.Is(err, errors.ErrConflict) {
		// 并发的同一订单事件已写入
		return s.entryRepo.ListByOrder(ctx, order.OrderID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEntries(models.EntryStatusPending, len(staged))
	s.metrics.RecordAmount("attribute", total)
	s.log.Info("订单佣金已归因",
		logger.OrderID(order.OrderID),
		logger.Int("entries", len(staged)),
		logger.Amount("amount", total),
		logger.Bool("cycle_detected", chain.CycleDetected))
	return staged, nil
}

// stage 按订单行和链上层级生成流水，缺少规则的订单行跳过
func (s *OrderAttributionService) stage(ctx context.Context, order *OrderCompleted, chain *Chain, at time.Time) ([]*models.LedgerEntry, decimal.Decimal, error) {
	now := s.now()
	total := decimal.Zero
	staged := make([]*models.LedgerEntry, 0, len(order.Lines)*chain.Len())

	for _, line := range order.Lines {
		rule, err := s.rules.Resolve(ctx, line.GoodsID, at)
		if errors.Is(err, errors.ErrNotFound) {
			s.log.Info("商品无生效佣金规则，跳过订单行",
				logger.OrderID(order.OrderID),
				logger.LineID(line.LineID),
				logger.String("goods_id", line.GoodsID))
			continue
		}
		if err != nil {
			return nil, decimal.Zero, err
		}

		for i, beneficiary := range chain.Members {
			level := i + 1
			amount := s.rules.Compute(rule, level, line.Amount)
			if !money.IsPositive(amount) {
				continue
			}
			staged = append(staged, &models.LedgerEntry{
				OrderID:                  order.OrderID,
				OrderLineID:              line.LineID,
				Level:                    level,
				GoodsID:                  line.GoodsID,
				BeneficiaryDistributorID: beneficiary.ID,
				LineAmount:               money.Round(line.Amount),
				RuleID:                   rule.ID,
				RuleType:                 rule.CommissionType,
				RuleRate:                 rule.RateFor(level),
				RuleMin:                  rule.MinCommission,
				RuleMax:                  rule.MaxCommission,
				Amount:                   amount,
				RefundedAmount:           decimal.Zero,
				Status:                   models.EntryStatusPending,
				AuditFlag:                chain.CycleDetected,
				CreatedAt:                now,
			})
			total = total.Add(amount)
		}
	}
	return staged, total, nil
}
