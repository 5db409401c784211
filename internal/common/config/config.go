// Package config 提供应用配置管理功能
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	once         sync.Once
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Events       EventsConfig       `mapstructure:"events"`
	Crypto       CryptoConfig       `mapstructure:"crypto"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Distribution DistributionConfig `mapstructure:"distribution"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Name            string `mapstructure:"name"`
	Mode            string `mapstructure:"mode"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogMode         bool   `mapstructure:"log_mode"`
	SlowThreshold   int    `mapstructure:"slow_threshold"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.Timezone,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 返回 Redis 地址
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EventsConfig 订单事件接入配置
type EventsConfig struct {
	Driver         string      `mapstructure:"driver"` // kafka / mqtt / none
	CompletedTopic string      `mapstructure:"completed_topic"`
	RefundedTopic  string      `mapstructure:"refunded_topic"`
	MaxRetries     int         `mapstructure:"max_retries"`
	Kafka          KafkaConfig `mapstructure:"kafka"`
	MQTT           MQTTConfig  `mapstructure:"mqtt"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	GroupID  string   `mapstructure:"group_id"`
	MinBytes int      `mapstructure:"min_bytes"`
	MaxBytes int      `mapstructure:"max_bytes"`
	MaxWait  int      `mapstructure:"max_wait"` // 毫秒
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string `mapstructure:"broker"`
	Port           int    `mapstructure:"port"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	KeepAlive      int    `mapstructure:"keep_alive"`
	AutoReconnect  bool   `mapstructure:"auto_reconnect"`
	QoS            byte   `mapstructure:"qos"`
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	AESKey string `mapstructure:"aes_key"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// DistributionConfig 分销佣金配置
type DistributionConfig struct {
	SettlementPolicy string  `mapstructure:"settlement_policy"` // immediate / frozen
	SettleDelayDays  int     `mapstructure:"settle_delay_days"` // 订单完成后多少天结算（退款窗口）
	FreezeDays       int     `mapstructure:"freeze_days"`       // frozen 策略下结算后冻结天数
	MinWithdraw      float64 `mapstructure:"min_withdraw"`
	FeeRate          float64 `mapstructure:"fee_rate"`
	MinFee           float64 `mapstructure:"min_fee"`
	MaxFee           float64 `mapstructure:"max_fee"`
	RuleCacheTTL     int     `mapstructure:"rule_cache_ttl"` // 秒
	BatchSize        int     `mapstructure:"batch_size"`
	TaskInterval     int     `mapstructure:"task_interval"` // 秒
}

// SettleDelay 返回结算延迟
func (d *DistributionConfig) SettleDelay() time.Duration {
	return time.Duration(d.SettleDelayDays) * 24 * time.Hour
}

// FreezeDuration 返回冻结时长
func (d *DistributionConfig) FreezeDuration() time.Duration {
	return time.Duration(d.FreezeDays) * 24 * time.Hour
}

// RuleCacheDuration 返回规则缓存有效期
func (d *DistributionConfig) RuleCacheDuration() time.Duration {
	return time.Duration(d.RuleCacheTTL) * time.Second
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./configs")
			v.AddConfigPath(".")
		}

		// 环境变量支持
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认值
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		globalConfig = &Config{}
		if err = v.Unmarshal(globalConfig); err != nil {
			return
		}
		err = globalConfig.Validate()
	})

	return globalConfig, err
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		globalConfig = Default()
	}
	return globalConfig
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate 校验业务配置
func (c *Config) Validate() error {
	d := c.Distribution
	if d.SettlementPolicy != "immediate" && d.SettlementPolicy != "frozen" {
		return fmt.Errorf("distribution.settlement_policy must be immediate or frozen, got %q", d.SettlementPolicy)
	}
	if d.FeeRate < 0 || d.FeeRate >= 1 {
		return fmt.Errorf("distribution.fee_rate must be in [0,1), got %v", d.FeeRate)
	}
	if d.MinFee < 0 || d.MaxFee < 0 {
		return fmt.Errorf("distribution.min_fee and max_fee must not be negative, 0 means no limit")
	}
	if d.MaxFee > 0 && d.MinFee > d.MaxFee {
		return fmt.Errorf("distribution.min_fee %v exceeds max_fee %v", d.MinFee, d.MaxFee)
	}
	switch c.Events.Driver {
	case "kafka", "mqtt", "none", "":
	default:
		return fmt.Errorf("events.driver must be kafka, mqtt or none, got %q", c.Events.Driver)
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.name", "commission-ledger")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "commission_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Shanghai")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_mode", false)
	v.SetDefault("database.slow_threshold", 200)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	// Events defaults
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.completed_topic", "order.completed")
	v.SetDefault("events.refunded_topic", "order.refunded")
	v.SetDefault("events.max_retries", 3)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.group_id", "commission-ledger")
	v.SetDefault("events.kafka.min_bytes", 1)
	v.SetDefault("events.kafka.max_bytes", 10e6)
	v.SetDefault("events.kafka.max_wait", 500)
	v.SetDefault("events.mqtt.broker", "localhost")
	v.SetDefault("events.mqtt.port", 1883)
	v.SetDefault("events.mqtt.client_id_prefix", "commission-ledger-")
	v.SetDefault("events.mqtt.keep_alive", 60)
	v.SetDefault("events.mqtt.auto_reconnect", true)
	v.SetDefault("events.mqtt.qos", 1)

	// Crypto defaults
	v.SetDefault("crypto.aes_key", "change-me-32-bytes-aes-key-00000")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "./logs/ledger.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.caller", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "commission_ledger")
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "commission-ledger")
	v.SetDefault("tracing.sample_rate", 1.0)

	// Distribution defaults
	v.SetDefault("distribution.settlement_policy", "immediate")
	v.SetDefault("distribution.settle_delay_days", 7)
	v.SetDefault("distribution.freeze_days", 7)
	v.SetDefault("distribution.min_withdraw", 10.0)
	v.SetDefault("distribution.fee_rate", 0.003)
	v.SetDefault("distribution.min_fee", 2.0)
	v.SetDefault("distribution.max_fee", 50.0)
	v.SetDefault("distribution.rule_cache_ttl", 300)
	v.SetDefault("distribution.batch_size", 200)
	v.SetDefault("distribution.task_interval", 60)
}

// IsDebug 是否为调试模式
func (c *Config) IsDebug() bool {
	return c.Server.Mode == "debug"
}

// IsRelease 是否为发布模式
func (c *Config) IsRelease() bool {
	return c.Server.Mode == "release"
}
