// Package mqtt 提供 MQTT 客户端封装
package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config MQTT 配置
type Config struct {
	Broker        string
	Port          int
	ClientID      string
	Username      string
	Password      string
	CleanSession  bool
	QoS           byte
	KeepAlive     int
	AutoReconnect bool
}

// MessageHandler 消息处理器
type MessageHandler func(topic string, payload []byte)

// Client MQTT 客户端
// 断线重连后自动重新订阅已注册的主题
type Client struct {
	config   *Config
	client   paho.Client
	handlers map[string]MessageHandler
	mu       sync.RWMutex
	log      *zap.Logger
}

// NewClient 创建 MQTT 客户端
func NewClient(config *Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		config:   config,
		handlers: make(map[string]MessageHandler),
		log:      log.Named("mqtt"),
	}
}

// Options 构造 paho 连接参数
func (c *Client) Options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(c.config.CleanSession)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetAutoReconnect(c.config.AutoReconnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetReconnectingHandler(c.onReconnecting)
	return opts
}

// Connect 连接 MQTT Broker
func (c *Client) Connect() error {
	c.client = paho.NewClient(c.Options())
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	c.log.Info("已连接 MQTT Broker", zap.String("broker", c.config.Broker), zap.Int("port", c.config.Port))
	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if c.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("已断开 MQTT Broker")
	}
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// SubscribeMultiple 批量订阅主题
func (c *Client) SubscribeMultiple(topics map[string]MessageHandler) error {
	if c.client == nil {
		return fmt.Errorf("mqtt subscribe: not connected")
	}
	filters := make(map[string]byte, len(topics))
	c.mu.Lock()
	for topic, handler := range topics {
		c.handlers[topic] = handler
		filters[topic] = c.config.QoS
	}
	c.mu.Unlock()

	token := c.client.SubscribeMultiple(filters, c.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe: %w", token.Error())
	}
	c.log.Info("已订阅主题", zap.Int("count", len(topics)))
	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt unsubscribe: %w", token.Error())
	}
	return nil
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.route(msg.Topic(), msg.Payload())
}

// route 按主题分发消息，未注册的主题忽略
func (c *Client) route(topic string, payload []byte) bool {
	c.mu.RLock()
	h, ok := c.handlers[topic]
	c.mu.RUnlock()
	if !ok {
		c.log.Debug("忽略未注册主题的消息", zap.String("topic", topic))
		return false
	}
	h(topic, payload)
	return true
}

// filters 当前已注册主题
func (c *Client) filters() map[string]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filters := make(map[string]byte, len(c.handlers))
	for topic := range c.handlers {
		filters[topic] = c.config.QoS
	}
	return filters
}

func (c *Client) onConnect(client paho.Client) {
	filters := c.filters()
	if len(filters) == 0 {
		return
	}
	if token := client.SubscribeMultiple(filters, c.onMessage); token.Wait() && token.Error() != nil {
		c.log.Error("重新订阅失败", zap.Error(token.Error()))
		return
	}
	c.log.Info("已重新订阅主题", zap.Int("count", len(filters)))
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("MQTT 连接断开", zap.Error(err))
}

func (c *Client) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	c.log.Info("正在重连 MQTT Broker")
}
