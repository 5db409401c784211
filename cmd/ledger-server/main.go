// Package main 是佣金账本服务入口
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/cache"
	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/database"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/tracing"
	"github.com/dumeirei/commission-ledger/internal/events"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/scheduler"
	"github.com/dumeirei/commission-ledger/pkg/mqtt"
)

const version = "1.0.0"

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.GetLogger()
	log.Info("Starting commission ledger",
		zap.String("version", version),
		zap.String("env", cfg.Server.Mode),
		zap.String("settlement_policy", cfg.Distribution.SettlementPolicy),
	)

	tracer, err := tracing.Init(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Server.Mode,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init(cfg.Metrics.Namespace)
	}

	// 初始化数据库连接
	db, err := database.Init(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, models.AllModels()...); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	log.Info("Database connected successfully")

	// 初始化 Redis 连接
	redisClient, err := cache.Init(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Redis connected successfully")

	svc, err := newServices(cfg, db, redisClient, m, log)
	if err != nil {
		log.Fatal("Failed to init services", zap.Error(err))
	}

	// 设置 Gin 模式
	switch cfg.Server.Mode {
	case "release", "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	setupRouter(engine, cfg, log, db, redisClient, m, svc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 定时任务
	sched := scheduler.NewScheduler(redisClient, m, log)
	scheduler.SetupTasks(sched, scheduler.NewTaskHandler(svc.maintenance, log),
		time.Duration(cfg.Distribution.TaskInterval)*time.Second)
	sched.Start()

	// 订单事件消费
	consumeCtx, stopConsume := context.WithCancel(context.Background())
	var consumers sync.WaitGroup
	stopEvents, err := startConsumer(consumeCtx, &consumers, cfg, svc, m, log)
	if err != nil {
		log.Fatal("Failed to start event consumer", zap.Error(err))
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	stopConsume()
	consumers.Wait()
	stopEvents()
	sched.Stop()

	if err := tracer.Shutdown(ctx); err != nil {
		log.Error("Failed to flush traces", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		log.Error("Failed to close database", zap.Error(err))
	}

	log.Info("Server exited")
}

// startConsumer 按配置的驱动启动订单事件消费，返回释放连接的函数
func startConsumer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	svc *services,
	m *metrics.Metrics,
	log *zap.Logger,
) (func(), error) {
	dispatcher := events.NewDispatcher(
		events.Topics{Completed: cfg.Events.CompletedTopic, Refunded: cfg.Events.RefundedTopic},
		svc.attribution, svc.refund, m, log,
	)

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event consumer stopped", zap.String("driver", name), zap.Error(err))
			}
		}()
	}

	switch cfg.Events.Driver {
	case "kafka":
		consumer := events.NewKafkaConsumer(cfg.Events.Kafka, dispatcher, cfg.Events.MaxRetries, log)
		run("kafka", consumer.Run)
		log.Info("Kafka consumer started", zap.Strings("brokers", cfg.Events.Kafka.Brokers))
		return func() {
			if err := consumer.Close(); err != nil {
				log.Warn("Failed to close kafka reader", zap.Error(err))
			}
		}, nil

	case "mqtt":
		mc := cfg.Events.MQTT
		client := mqtt.NewClient(&mqtt.Config{
			Broker:        mc.Broker,
			Port:          mc.Port,
			ClientID:      mc.ClientIDPrefix + uuid.NewString()[:8],
			Username:      mc.Username,
			Password:      mc.Password,
			CleanSession:  false,
			QoS:           mc.QoS,
			KeepAlive:     mc.KeepAlive,
			AutoReconnect: mc.AutoReconnect,
		}, log)
		if err := client.Connect(); err != nil {
			return nil, err
		}
		run("mqtt", events.NewMQTTSubscriber(client, dispatcher, cfg.Events.MaxRetries, log).Run)
		return client.Disconnect, nil

	default:
		log.Info("Event consumer disabled")
		return func() {}, nil
	}
}
