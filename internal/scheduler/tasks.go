package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
)

// 任务名称
const (
	TaskSettleDue              = "settle_due"
	TaskReleaseDue             = "release_due"
	TaskDeactivateExpiredRules = "deactivate_expired_rules"
	TaskRollupTeamStats        = "rollup_team_stats"
	TaskResetMonthlyCounters   = "reset_monthly_counters"
)

// 团队统计和月度清零不需要频繁执行
const slowTaskFactor = 60

// TaskHandler 任务处理器
type TaskHandler struct {
	maintenance *distribution.MaintenanceService
	now         func() time.Time
	log         *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(maintenance *distribution.MaintenanceService, log *zap.Logger) *TaskHandler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &TaskHandler{
		maintenance: maintenance,
		now:         time.Now,
		log:         log.Named("task"),
	}
}

// SetClock 替换时钟
func (h *TaskHandler) SetClock(now func() time.Time) {
	h.now = now
}

func (h *TaskHandler) report(task string, result *distribution.BatchResult, err error) error {
	if err != nil {
		return err
	}
	if result.Processed == 0 && result.Failed == 0 {
		return nil
	}
	fields := []zap.Field{logger.String("task", task), logger.Int("processed", result.Processed), logger.Int("failed", result.Failed)}
	if result.Failed > 0 {
		h.log.Warn("批处理部分失败", fields...)
		return nil
	}
	h.log.Info("批处理完成", fields...)
	return nil
}

// SettleDue 结算到期的待结算佣金
func (h *TaskHandler) SettleDue(ctx context.Context) error {
	result, err := h.maintenance.SettleDue(ctx, h.now())
	return h.report(TaskSettleDue, result, err)
}

// ReleaseDue 解冻到期的冻结佣金
func (h *TaskHandler) ReleaseDue(ctx context.Context) error {
	result, err := h.maintenance.ReleaseDue(ctx, h.now())
	return h.report(TaskReleaseDue, result, err)
}

// DeactivateExpiredRules 停用过期规则
func (h *TaskHandler) DeactivateExpiredRules(ctx context.Context) error {
	result, err := h.maintenance.DeactivateExpiredRules(ctx, h.now())
	return h.report(TaskDeactivateExpiredRules, result, err)
}

// RollupTeamStats 重算团队人数
func (h *TaskHandler) RollupTeamStats(ctx context.Context) error {
	result, err := h.maintenance.RollupTeamStats(ctx)
	return h.report(TaskRollupTeamStats, result, err)
}

// ResetMonthlyCounters 跨月清零本月佣金
func (h *TaskHandler) ResetMonthlyCounters(ctx context.Context) error {
	result, err := h.maintenance.ResetMonthlyCounters(ctx, h.now())
	return h.report(TaskResetMonthlyCounters, result, err)
}

// SetupTasks 设置所有任务
func SetupTasks(scheduler *Scheduler, handler *TaskHandler, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	scheduler.AddTask(TaskSettleDue, interval, handler.SettleDue)
	scheduler.AddTask(TaskReleaseDue, interval, handler.ReleaseDue)
	scheduler.AddTask(TaskDeactivateExpiredRules, interval, handler.DeactivateExpiredRules)

	scheduler.AddTask(TaskRollupTeamStats, interval*slowTaskFactor, handler.RollupTeamStats)
	scheduler.AddTask(TaskResetMonthlyCounters, interval*slowTaskFactor, handler.ResetMonthlyCounters)
}
