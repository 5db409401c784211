package distribution

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/common/tracing"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// OrderRefunded 订单退款事件
type OrderRefunded struct {
	OrderID      string          `json:"order_id"`
	LineID       string          `json:"line_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// 冲正处理结果
const (
	ReversalReversed  = "reversed"  // 已按比例冲正
	ReversalCancelled = "cancelled" // 待结算流水整单取消
	ReversalSkipped   = "skipped"   // 已冲正过
	ReversalReduced   = "reduced"   // 部分退款，待结算流水按比例扣减
)

// EntryReversal 单条流水的冲正结果
type EntryReversal struct {
	EntryID       int64           `json:"entry_id"`
	DistributorID int64           `json:"distributor_id"`
	Level         int             `json:"level"`
	Action        string          `json:"action"`
	Amount        decimal.Decimal `json:"amount"`
}

// RefundResult 退款冲正结果
type RefundResult struct {
	OrderID   string          `json:"order_id"`
	LineID    string          `json:"line_id"`
	Ratio     decimal.Decimal `json:"ratio"`
	Reversed  decimal.Decimal `json:"reversed"`
	Reversals []EntryReversal `json:"reversals"`
}

// RefundReversalService 退款冲正
type RefundReversalService struct {
	entryRepo *repository.LedgerEntryRepository
	ledger    *CommissionLedger
	log       *zap.Logger
}

// NewRefundReversalService 创建退款冲正服务
func NewRefundReversalService(entryRepo *repository.LedgerEntryRepository, ledger *CommissionLedger, log *zap.Logger) *RefundReversalService {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RefundReversalService{
		entryRepo: entryRepo,
		ledger:    ledger,
		log:       log.Named("refund"),
	}
}

// OnRefund 处理订单行退款，每条流水单独加锁冲正
func (s *RefundReversalService) OnRefund(ctx context.Context, orderID, lineID string, refundAmount decimal.Decimal) (result *RefundResult, err error) {
	ctx, span := tracing.Start(ctx, "refund.OnRefund", tracing.AttrOrderID.String(orderID))
	defer func() { tracing.End(span, err) }()

	if orderID == "" || lineID == "" {
		return nil, errors.ErrInvalidInput.WithMessage("订单ID和订单行ID不能为空")
	}
	if !money.IsPositive(refundAmount) {
		return nil, errors.ErrInvalidAmount.WithMessage("退款金额必须大于0")
	}

	result = &RefundResult{OrderID: orderID, LineID: lineID, Reversed: decimal.Zero, Reversals: []EntryReversal{}}
	entries, err := s.entryRepo.ListByLine(ctx, orderID, lineID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	one := decimal.NewFromInt(1)
	lineAmount := entries[0].LineAmount
	ratio := one
	if money.IsPositive(lineAmount) && refundAmount.LessThan(lineAmount) {
		ratio = refundAmount.Div(lineAmount)
	}
	result.Ratio = ratio

	for _, entry := range entries {
		r := EntryReversal{EntryID: entry.ID, DistributorID: entry.BeneficiaryDistributorID, Level: entry.Level, Amount: decimal.Zero}
		switch {
		case entry.IsReversed():
			r.Action = ReversalSkipped
		case entry.IsCredited():
			reversed, err := s.ledger.RefundReverse(ctx, entry.ID, ratio)
			if err != nil {
				return nil, err
			}
			r.Action = ReversalReversed
			r.Amount = reversed
			result.Reversed = result.Reversed.Add(reversed)
		case ratio.Equal(one):
			if err := s.ledger.Cancel(ctx, entry.ID); err != nil {
				return nil, err
			}
			r.Action = ReversalCancelled
		default:
			reduced, err := s.ledger.ReducePending(ctx, entry.ID, ratio)
			if err != nil {
				return nil, err
			}
			r.Action = ReversalReduced
			r.Amount = reduced
			result.Reversed = result.Reversed.Add(reduced)
		}
		result.Reversals = append(result.Reversals, r)
	}

	s.log.Info("退款冲正完成",
		logger.OrderID(orderID),
		logger.LineID(lineID),
		logger.Amount("refund_amount", refundAmount),
		logger.Amount("reversed", result.Reversed))
	return result, nil
}
