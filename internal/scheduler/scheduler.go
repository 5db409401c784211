// Package scheduler 提供定时任务调度
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/cache"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
)

// 任务执行结果
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

const defaultTaskTimeout = 5 * time.Minute

// Scheduler 定时任务调度器
// 配置了 Redis 时每次执行前获取任务锁，多实例部署下同一任务同时只有一个实例在跑
type Scheduler struct {
	tasks   []*Task
	rdb     *redis.Client
	metrics *metrics.Metrics
	log     *zap.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Task 定时任务
type Task struct {
	Name     string
	Interval time.Duration
	Handler  func(ctx context.Context) error
}

// NewScheduler 创建调度器，rdb 为 nil 时不加锁
func NewScheduler(rdb *redis.Client, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make([]*Task, 0),
		rdb:     rdb,
		metrics: m,
		log:     log.Named("scheduler"),
		timeout: defaultTaskTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetTimeout 设置单次执行超时，同时作为任务锁的过期时间
func (s *Scheduler) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// AddTask 添加任务
func (s *Scheduler) AddTask(name string, interval time.Duration, handler func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
	})
}

// Tasks 已注册的任务
func (s *Scheduler) Tasks() []*Task {
	return s.tasks
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.log.Info("调度器启动", logger.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop 停止调度器，等待执行中的任务退出
func (s *Scheduler) Stop() {
	s.log.Info("调度器停止中")
	s.cancel()
	s.wg.Wait()
	s.log.Info("调度器已停止")
}

// runTask 运行单个任务
func (s *Scheduler) runTask(task *Task) {
	defer s.wg.Done()

	s.log.Info("任务已启动", logger.String("task", task.Name), logger.Duration("interval", task.Interval))

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	// 立即执行一次
	s.executeTask(task)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.executeTask(task)
		}
	}
}

// executeTask 执行任务，返回执行结果
func (s *Scheduler) executeTask(task *Task) string {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	log := s.log.With(logger.String("task", task.Name))
	start := time.Now()

	if s.rdb != nil {
		lock, err := cache.TryLock(ctx, s.rdb, cache.TaskLockKey(task.Name), s.timeout)
		if errors.Is(err, cache.ErrLockHeld) {
			log.Debug("任务正在其他实例执行，跳过")
			s.metrics.RecordTask(task.Name, ResultSkipped, time.Since(start))
			return ResultSkipped
		}
		if err != nil {
			log.Error("获取任务锁失败", logger.Err(err))
			s.metrics.RecordTask(task.Name, ResultError, time.Since(start))
			return ResultError
		}
		defer func() {
			// 超时后 ctx 已取消，释放锁使用独立上下文
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Second)
			defer releaseCancel()
			if err := lock.Release(releaseCtx); err != nil {
				log.Warn("释放任务锁失败", logger.Err(err))
			}
		}()
	}

	if err := task.Handler(ctx); err != nil {
		log.Error("任务执行失败", logger.Err(err), logger.Latency(time.Since(start)))
		s.metrics.RecordTask(task.Name, ResultError, time.Since(start))
		return ResultError
	}
	log.Debug("任务执行完成", logger.Latency(time.Since(start)))
	s.metrics.RecordTask(task.Name, ResultOK, time.Since(start))
	return ResultOK
}
