// Package events 消费订单事件并驱动佣金归因与退款冲正
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
)

// 事件处理结果
const (
	resultOK      = "ok"
	resultDropped = "dropped"
	resultError   = "error"
	resultIgnored = "ignored"
)

// Attributor 订单完成后的佣金归因
type Attributor interface {
	Attribute(ctx context.Context, order *distribution.OrderCompleted) ([]*models.LedgerEntry, error)
}

// Refunder 订单退款后的佣金冲正
type Refunder interface {
	OnRefund(ctx context.Context, orderID, lineID string, refundAmount decimal.Decimal) (*distribution.RefundResult, error)
}

// Topics 事件主题
type Topics struct {
	Completed string
	Refunded  string
}

// List 返回全部主题
func (t Topics) List() []string {
	return []string{t.Completed, t.Refunded}
}

// DecodeOrderCompleted 解析订单完成事件，金额为十进制字符串
func DecodeOrderCompleted(payload []byte) (*distribution.OrderCompleted, error) {
	var order distribution.OrderCompleted
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, errors.ErrInvalidInput.WithMessage("订单完成事件格式错误").WithError(err)
	}
	if order.CompletedAt.IsZero() {
		order.CompletedAt = time.Now()
	}
	return &order, nil
}

// DecodeOrderRefunded 解析订单退款事件
func DecodeOrderRefunded(payload []byte) (*distribution.OrderRefunded, error) {
	var refund distribution.OrderRefunded
	if err := json.Unmarshal(payload, &refund); err != nil {
		return nil, errors.ErrInvalidInput.WithMessage("订单退款事件格式错误").WithError(err)
	}
	return &refund, nil
}

// Retryable 是否值得重新投递
// 只有内部错误和版本冲突可能在重试后成功
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsConcurrentUpdate(err) || errors.GetAppError(err).Code == errors.ErrInternal.Code
}

// Dispatcher 按主题分发订单事件
type Dispatcher struct {
	topics     Topics
	attributor Attributor
	refunder   Refunder
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewDispatcher 创建事件分发器
func NewDispatcher(topics Topics, attributor Attributor, refunder Refunder, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Dispatcher{
		topics:     topics,
		attributor: attributor,
		refunder:   refunder,
		metrics:    m,
		log:        log.Named("events"),
	}
}

// Topics 返回订阅的主题
func (d *Dispatcher) Topics() Topics {
	return d.topics
}

// Dispatch 处理一条事件
// 参数错误的事件记录日志后丢弃，其余错误返回给调用方决定是否重试
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) error {
	var err error
	switch topic {
	case d.topics.Completed:
		err = d.completed(ctx, payload)
	case d.topics.Refunded:
		err = d.refunded(ctx, payload)
	default:
		d.metrics.RecordEvent(topic, resultIgnored)
		d.log.Warn("忽略未知主题的事件", logger.String("topic", topic))
		return nil
	}

	switch {
	case err == nil:
		d.metrics.RecordEvent(topic, resultOK)
		return nil
	case errors.Is(err, errors.ErrInvalidInput):
		d.metrics.RecordEvent(topic, resultDropped)
		d.log.Warn("丢弃无效事件",
			logger.String("topic", topic),
			logger.String("payload", string(payload)),
			logger.Err(err))
		return nil
	default:
		d.metrics.RecordEvent(topic, resultError)
		return err
	}
}

func (d *Dispatcher) completed(ctx context.Context, payload []byte) error {
	order, err := DecodeOrderCompleted(payload)
	if err != nil {
		return err
	}
	entries, err := d.attributor.Attribute(ctx, order)
	if err != nil {
		return err
	}
	d.log.Info("订单佣金已归因", logger.OrderID(order.OrderID), logger.Int("entries", len(entries)))
	return nil
}

func (d *Dispatcher) refunded(ctx context.Context, payload []byte) error {
	refund, err := DecodeOrderRefunded(payload)
	if err != nil {
		return err
	}
	result, err := d.refunder.OnRefund(ctx, refund.OrderID, refund.LineID, refund.RefundAmount)
	if err != nil {
		return err
	}
	d.log.Info("订单退款已冲正",
		logger.OrderID(refund.OrderID),
		logger.LineID(refund.LineID),
		logger.Amount("reversed", result.Reversed))
	return nil
}

// dispatchWithRetry 对可重试错误按线性退避重试，最多 maxRetries 次
func dispatchWithRetry(ctx context.Context, d *Dispatcher, topic string, payload []byte, maxRetries int, backoff time.Duration) error {
	err := d.Dispatch(ctx, topic, payload)
	for attempt := 1; attempt <= maxRetries && Retryable(err); attempt++ {
		d.log.Warn("事件处理失败，准备重试",
			logger.String("topic", topic),
			logger.Int("attempt", attempt),
			logger.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt)):
		}
		err = d.Dispatch(ctx, topic, payload)
	}
	return err
}
