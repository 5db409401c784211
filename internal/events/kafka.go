package events

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
)

// messageReader kafka.Reader 中消费者用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer Kafka 订单事件消费者
// 处理完成后才提交位移，进程崩溃时事件会被重新投递，依赖下游幂等
type KafkaConsumer struct {
	reader     messageReader
	dispatcher *Dispatcher
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

// NewKafkaConsumer 创建 Kafka 消费者，以消费组方式订阅全部订单主题
func NewKafkaConsumer(cfg config.KafkaConfig, dispatcher *Dispatcher, maxRetries int, log *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: dispatcher.Topics().List(),
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     time.Duration(cfg.MaxWait) * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newKafkaConsumer(reader, dispatcher, maxRetries, log)
}

func newKafkaConsumer(reader messageReader, dispatcher *Dispatcher, maxRetries int, log *zap.Logger) *KafkaConsumer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &KafkaConsumer{
		reader:     reader,
		dispatcher: dispatcher,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		log:        log.Named("kafka"),
	}
}

// Run 循环拉取并处理消息，ctx 取消后返回
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info("Kafka 消费者已启动", logger.Any("topics", c.dispatcher.Topics().List()))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("拉取消息失败", logger.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			// ctx 取消时不提交，重启后重新处理
			return nil
		}
	}
}

// handle 处理单条消息并提交位移
// 重试耗尽仍失败的消息记录错误日志后提交，避免阻塞分区
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	err := dispatchWithRetry(ctx, c.dispatcher, msg.Topic, msg.Value, c.maxRetries, c.backoff)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		c.log.Error("事件处理失败，已跳过",
			logger.String("topic", msg.Topic),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.String("payload", string(msg.Value)),
			logger.Err(err))
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Error("提交位移失败", logger.Int64("offset", msg.Offset), logger.Err(err))
	}
	return nil
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
