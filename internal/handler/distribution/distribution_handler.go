// Package distribution 提供分销相关的 HTTP Handler
package distribution

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dumeirei/commission-ledger/internal/common/handler"
	"github.com/dumeirei/commission-ledger/internal/service/distribution"
)

// Handler 分销处理器
type Handler struct {
	distributorService *distribution.DistributorService
	withdrawService    *distribution.WithdrawalWorkflow
}

// NewHandler 创建分销处理器
func NewHandler(distributorSvc *distribution.DistributorService, withdrawSvc *distribution.WithdrawalWorkflow) *Handler {
	return &Handler{
		distributorService: distributorSvc,
		withdrawService:    withdrawSvc,
	}
}

// RegisterRoutes 注册分销路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, withdrawLimiter ...gin.HandlerFunc) {
	g := r.Group("/distribution")
	g.POST("/apply", h.Apply)
	g.GET("/:id", h.GetInfo)
	g.GET("/:id/summary", h.GetSummary)
	g.POST("/:id/withdrawals", append(withdrawLimiter, h.ApplyWithdrawal)...)
	g.GET("/:id/withdrawals", h.ListWithdrawals)
}

// ApplyRequest 申请成为分销商请求
type ApplyRequest struct {
	MemberID   int64  `json:"member_id" binding:"required"`
	ParentCode string `json:"parent_code"` // 上级分销码（可选）
}

// Apply 申请成为分销商
// @Summary 申请成为分销商
// @Tags 分销
// @Accept json
// @Produce json
// @Param request body ApplyRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Distributor}
// @Router /api/v1/distribution/apply [post]
func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.distributorService.Apply(c.Request.Context(), req.MemberID, req.ParentCode)
	handler.MustSucceed(c, err, result)
}

// GetInfo 获取分销商信息
// @Router /api/v1/distribution/{id} [get]
func (h *Handler) GetInfo(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}

	distributor, err := h.distributorService.GetByID(c.Request.Context(), id)
	handler.MustSucceed(c, err, distributor)
}

// GetSummary 获取佣金汇总
// @Summary 获取佣金汇总
// @Tags 分销
// @Produce json
// @Param id path int true "分销商ID"
// @Success 200 {object} response.Response{data=distribution.CommissionSummary}
// @Router /api/v1/distribution/{id}/summary [get]
func (h *Handler) GetSummary(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}

	summary, err := h.distributorService.Summary(c.Request.Context(), id)
	handler.MustSucceed(c, err, summary)
}

// WithdrawRequest 提现申请请求
type WithdrawRequest struct {
	Amount   decimal.Decimal        `json:"amount"`
	BankInfo *distribution.BankInfo `json:"bank_info" binding:"required"`
}

// ApplyWithdrawal 申请提现
// @Summary 申请提现
// @Tags 分销
// @Accept json
// @Produce json
// @Param id path int true "分销商ID"
// @Param request body WithdrawRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.CashWithdrawal}
// @Router /api/v1/distribution/{id}/withdrawals [post]
func (h *Handler) ApplyWithdrawal(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	var req WithdrawRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	withdrawal, err := h.withdrawService.Apply(c.Request.Context(), id, req.Amount, req.BankInfo)
	handler.MustSucceed(c, err, withdrawal)
}

// ListWithdrawals 获取提现记录
// @Router /api/v1/distribution/{id}/withdrawals [get]
func (h *Handler) ListWithdrawals(c *gin.Context) {
	id, ok := handler.ParseID(c, "分销商")
	if !ok {
		return
	}
	p := handler.BindPagination(c)

	list, total, err := h.withdrawService.ListByDistributor(c.Request.Context(), id, p.Offset(), p.PageSize)
	handler.MustSucceedPage(c, err, list, total, p.Page, p.PageSize)
}
