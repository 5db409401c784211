package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/pkg/mqtt"
)

// subscriber pkg/mqtt 客户端中订阅者用到的部分
type subscriber interface {
	SubscribeMultiple(topics map[string]mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTSubscriber MQTT 订单事件订阅者
// MQTT 没有位移提交，依赖 QoS 1 重传和下游幂等
type MQTTSubscriber struct {
	client     subscriber
	dispatcher *Dispatcher
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

// NewMQTTSubscriber 创建 MQTT 订阅者
func NewMQTTSubscriber(client subscriber, dispatcher *Dispatcher, maxRetries int, log *zap.Logger) *MQTTSubscriber {
	if log == nil {
		log = logger.GetLogger()
	}
	return &MQTTSubscriber{
		client:     client,
		dispatcher: dispatcher,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		log:        log.Named("mqtt"),
	}
}

// Run 订阅订单主题直到 ctx 取消
func (s *MQTTSubscriber) Run(ctx context.Context) error {
	handlers := make(map[string]mqtt.MessageHandler)
	for _, topic := range s.dispatcher.Topics().List() {
		handlers[topic] = s.handler(ctx)
	}
	if err := s.client.SubscribeMultiple(handlers); err != nil {
		return err
	}
	s.log.Info("MQTT 订阅者已启动", logger.Any("topics", s.dispatcher.Topics().List()))

	<-ctx.Done()
	return s.client.Unsubscribe(s.dispatcher.Topics().List()...)
}

func (s *MQTTSubscriber) handler(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		if err := dispatchWithRetry(ctx, s.dispatcher, topic, payload, s.maxRetries, s.backoff); err != nil && ctx.Err() == nil {
			s.log.Error("事件处理失败，已跳过",
				logger.String("topic", topic),
				logger.String("payload", string(payload)),
				logger.Err(err))
		}
	}
}
