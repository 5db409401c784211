// Package admin 管理端 HTTP Handler
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/commission-ledger/internal/common/handler"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
)

// DistributionHandler 分销管理处理器
type DistributionHandler struct {
	distributorService *distribution.DistributorService
	withdrawService    *distribution.WithdrawalWorkflow
	ruleEngine         *distribution.CommissionRuleEngine
}

// NewDistributionHandler 创建分销管理处理器
func NewDistributionHandler(
	distributorSvc *distribution.DistributorService,
	withdrawSvc *distribution.WithdrawalWorkflow,
	ruleEngine *distribution.CommissionRuleEngine,
) *DistributionHandler {
	return &DistributionHandler{
		distributorService: distributorSvc,
		withdrawService:    withdrawSvc,
		ruleEngine:         ruleEngine,
	}
}

// RegisterRoutes 注册管理端路由
func (h *DistributionHandler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/admin")
	g.GET("/distributors", h.ListDistributors)
	g.POST("/distributors/:id/audit", h.AuditDistributor)
	g.POST("/distributors/:id/disable", h.DisableDistributor)
	g.GET("/withdrawals", h.FindWithdrawal)
	g.GET("/withdrawals/:id", h.GetWithdrawal)
	g.POST("/withdrawals/:id/audit", h.AuditWithdrawal)
	g.POST("/withdrawals/:id/complete", h.CompleteWithdrawal)
	g.POST("/commission-rules", h.CreateRule)
	g.PUT("/commission-rules/:id", h.UpdateRule)
	g.POST("/commission-rules/:id/deactivate", h.DeactivateRule)
}

// ListDistributors 获取分销商列表
// @Summary 获取分销商列表
// @Tags 管理-分销
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Param status query string false "状态: pending approved rejected disabled"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/admin/distributors [get]
func (h *DistributionHandler) ListDistributors(c *gin.Context) {
	p := handler.BindPagination(c)
	list, total, err := h.distributorService.List(c.Request.Context(), p.Offset(), p.PageSize, c.Query("status"))
	handler.MustSucceedPage(c, err, list, total, p.Page, p.PageSize)
}

// AuditRequest 审核请求
type AuditRequest struct {
	Decision   string `json:"decision" binding:"required"`
	Reason     string `json:"reason"`
	OperatorID int64  `json:"operator_id"`
}

// AuditDistributor 审核分销商申请
// @Summary 审核分销商申请
// @Tags 管理-分销
// @Accept json
// @Produce json
// @Param id path int true "分销商ID"
// @Param request body AuditRequest true "approved 或 rejected"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/admin/distributors/{id}/audit [post]
func (h *DistributionHandler) AuditDistributor(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	var req AuditRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	distributor, err := h.distributorService.Audit(c.Request.Context(), id, req.Decision, req.Reason)
	handler.MustSucceed(c, err, distributor)
}

// DisableRequest 禁用请求
type DisableRequest struct {
	Reason string `json:"reason"`
}

// DisableDistributor 禁用分销商
// @Router /api/v1/admin/distributors/{id}/disable [post]
func (h *DistributionHandler) DisableDistributor(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	var req DisableRequest
	if c.Request.ContentLength > 0 && !handler.BindJSON(c, &req) {
		return
	}

	distributor, err := h.distributorService.Disable(c.Request.Context(), id, req.Reason)
	handler.MustSucceed(c, err, distributor)
}

// WithdrawalDetail 提现详情，收款信息只返回脱敏值
type WithdrawalDetail struct {
	Withdrawal *models.CashWithdrawal `json:"withdrawal"`
	BankInfo   string                 `json:"bank_info"`
}

// FindWithdrawal 按提现单号查询提现详情
// @Router /api/v1/admin/withdrawals [get]
func (h *DistributionHandler) FindWithdrawal(c *gin.Context) {
	withdrawal, err := h.withdrawService.GetByNo(c.Request.Context(), c.Query("withdrawal_no"))
	if handler.HandleError(c, err) {
		return
	}
	handler.MustSucceed(c, nil, &WithdrawalDetail{Withdrawal: withdrawal, BankInfo: withdrawal.BankInfoMasked})
}

// GetWithdrawal 获取提现详情
// @Router /api/v1/admin/withdrawals/{id} [get]
func (h *DistributionHandler) GetWithdrawal(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}

	withdrawal, err := h.withdrawService.Get(c.Request.Context(), id)
	if handler.HandleError(c, err) {
		return
	}
	handler.MustSucceed(c, nil, &WithdrawalDetail{Withdrawal: withdrawal, BankInfo: withdrawal.BankInfoMasked})
}

// AuditWithdrawal 审核提现
// @Summary 审核提现
// @Tags 管理-分销
// @Accept json
// @Produce json
// @Param id path int true "提现申请ID"
// @Param request body AuditRequest true "approved 或 rejected"
// @Success 200 {object} response.Response{data=models.CashWithdrawal}
// @Router /api/v1/admin/withdrawals/{id}/audit [post]
func (h *DistributionHandler) AuditWithdrawal(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}
	var req AuditRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	withdrawal, err := h.withdrawService.Audit(c.Request.Context(), id, req.Decision, req.Reason, req.OperatorID)
	handler.MustSucceed(c, err, withdrawal)
}

// CompleteRequest 打款完成请求
type CompleteRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required"`
}

// CompleteWithdrawal 标记提现已打款
// @Router /api/v1/admin/withdrawals/{id}/complete [post]
func (h *DistributionHandler) CompleteWithdrawal(c *gin.Context) {
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}
	var req CompleteRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	withdrawal, err := h.withdrawService.Complete(c.Request.Context(), id, req.TransactionRef)
	handler.MustSucceed(c, err, withdrawal)
}

// CreateRule 创建佣金规则
// @Summary 创建佣金规则
// @Tags 管理-分销
// @Accept json
// @Produce json
// @Param request body distribution.RuleRequest true "规则参数"
// @Success 200 {object} response.Response{data=models.CommissionRule}
// @Router /api/v1/admin/commission-rules [post]
func (h *DistributionHandler) CreateRule(c *gin.Context) {
	var req distribution.RuleRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	rule, err := h.ruleEngine.CreateRule(c.Request.Context(), &req)
	handler.MustSucceed(c, err, rule)
}

// UpdateRule 修改未被引用的佣金规则
// @Router /api/v1/admin/commission-rules/{id} [put]
func (h *DistributionHandler) UpdateRule(c *gin.Context) {
	id, ok := handler.ParseID(c, "规则")
	if !ok {
		return
	}
	var req distribution.RuleRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	rule, err := h.ruleEngine.UpdateRule(c.Request.Context(), id, &req)
	handler.MustSucceed(c, err, rule)
}

// DeactivateRule 停用佣金规则
// @Router /api/v1/admin/commission-rules/{id}/deactivate [post]
func (h *DistributionHandler) DeactivateRule(c *gin.Context) {
	id, ok := handler.ParseID(c, "规则")
	if !ok {
		return
	}

	rule, err := h.ruleEngine.DeactivateRule(c.Request.Context(), id)
	handler.MustSucceed(c, err, rule)
}
