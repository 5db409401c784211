package distribution

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/dumeirei/commission-ledger/internal/common/crypto"
	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/metrics"
	"github.com/dumeirei/commission-ledger/internal/common/money"
	"github.com/dumeirei/commission-ledger/internal/common/tracing"
	"github.com/dumeirei/commission-ledger/internal/common/utils"
	"github.com/dumeirei/commission-ledger/internal/models"
	"github.com/dumeirei/commission-ledger/internal/repository"
)

// 审核结果
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// BankInfo 收款信息
type BankInfo struct {
	Method      string `json:"method" binding:"required,oneof=bank wechat alipay"`
	AccountName string `json:"account_name" binding:"required"`
	AccountNo   string `json:"account_no" binding:"required"`
	BankName    string `json:"bank_name"`
}

// Validate 校验收款信息
func (b *BankInfo) Validate() error {
	switch b.Method {
	case models.WithdrawalMethodBank:
		if b.BankName == "" {
			return errors.ErrInvalidInput.WithMessage("银行名称不能为空")
		}
		if !utils.ValidateBankCard(b.AccountNo) {
			return errors.ErrInvalidInput.WithMessage("银行卡号格式错误")
		}
	case models.WithdrawalMethodAlipay:
		if !utils.ValidatePhone(b.AccountNo) && !utils.ValidateEmail(b.AccountNo) {
			return errors.ErrInvalidInput.WithMessage("支付宝账号应为手机号或邮箱")
		}
	case models.WithdrawalMethodWechat:
	default:
		return errors.ErrInvalidInput.WithMessage("提现方式无效")
	}
	if strings.TrimSpace(b.AccountName) == "" || strings.TrimSpace(b.AccountNo) == "" {
		return errors.ErrInvalidInput.WithMessage("收款账户信息不完整")
	}
	return nil
}

// Masked 脱敏后的收款信息
func (b *BankInfo) Masked() string {
	parts := []string{b.Method, crypto.MaskName(b.AccountName)}
	if b.BankName != "" {
		parts = append(parts, b.BankName)
	}
	if b.Method == models.WithdrawalMethodBank {
		parts = append(parts, crypto.MaskBankCard(b.AccountNo))
	} else {
		parts = append(parts, crypto.MaskPhone(b.AccountNo))
	}
	return strings.Join(parts, " ")
}

// WithdrawalWorkflow 提现流程
type WithdrawalWorkflow struct {
	tx              *balanceTx
	distributorRepo *repository.DistributorRepository
	withdrawalRepo  *repository.WithdrawalRepository
	cipher          *crypto.AES
	minWithdraw     decimal.Decimal
	feeRate         decimal.Decimal
	minFee          decimal.NullDecimal
	maxFee          decimal.NullDecimal
	now             func() time.Time
	metrics         *metrics.Metrics
	log             *zap.Logger
}

// NewWithdrawalWorkflow 创建提现流程
func NewWithdrawalWorkflow(
	db *gorm.DB,
	distributorRepo *repository.DistributorRepository,
	withdrawalRepo *repository.WithdrawalRepository,
	cipher *crypto.AES,
	cfg *config.DistributionConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *WithdrawalWorkflow {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.Named("withdrawal")
	return &WithdrawalWorkflow{
		tx: &balanceTx{
			db:              db,
			distributorRepo: distributorRepo,
			metrics:         m,
			log:             log,
		},
		distributorRepo: distributorRepo,
		withdrawalRepo:  withdrawalRepo,
		cipher:          cipher,
		minWithdraw:     money.FromFloat(cfg.MinWithdraw),
		feeRate:         decimal.NewFromFloat(cfg.FeeRate),
		minFee:          feeBound(cfg.MinFee),
		maxFee:          feeBound(cfg.MaxFee),
		now:             time.Now,
		metrics:         m,
		log:             log,
	}
}

// SetClock 设置时钟
func (w *WithdrawalWorkflow) SetClock(now func() time.Time) {
	w.now = now
}

// feeBound 手续费上下限，未配置或为 0 时不限制
func feeBound(v float64) decimal.NullDecimal {
	if v <= 0 {
		return money.Unbounded()
	}
	return money.Bound(money.FromFloat(v))
}

// Fee 计算手续费
func (w *WithdrawalWorkflow) Fee(amount decimal.Decimal) decimal.Decimal {
	return money.Round(money.Clamp(money.Round(amount.Mul(w.feeRate)), w.minFee, w.maxFee))
}

// Apply 申请提现，申请金额从可提现转入冻结
func (w *WithdrawalWorkflow) Apply(ctx context.Context, distributorID int64, amount decimal.Decimal, bankInfo *BankInfo) (result *models.CashWithdrawal, err error) {
	ctx, span := tracing.Start(ctx, "withdrawal.Apply", tracing.AttrDistributorID.Int64(distributorID))
	defer func() { tracing.End(span, err) }()

	if !money.IsPositive(amount) {
		return nil, errors.ErrInvalidAmount
	}
	amount = money.Round(amount)
	if amount.LessThan(w.minWithdraw) {
		return nil, errors.ErrBelowMinWithdraw.WithMessagef("最低提现金额为%s元", w.minWithdraw.StringFixed(2))
	}
	if bankInfo == nil {
		return nil, errors.ErrInvalidInput.WithMessage("收款信息不能为空")
	}
	if err := bankInfo.Validate(); err != nil {
		return nil, err
	}

	fee := w.Fee(amount)
	net := amount.Sub(fee)
	if !money.IsPositive(net) {
		return nil, errors.ErrInvalidAmount.WithMessage("扣除手续费后到账金额必须大于0")
	}

	encrypted, err := w.cipher.EncryptJSON(bankInfo)
	if err != nil {
		return nil, errors.Internal(err)
	}

	now := w.now()
	withdrawal := &models.CashWithdrawal{
		WithdrawalNo:      utils.GenerateSerialNo("W", now),
		DistributorID:     distributorID,
		Amount:            amount,
		Fee:               fee,
		NetAmount:         net,
		Method:            bankInfo.Method,
		BankInfoEncrypted: encrypted,
		BankInfoMasked:    bankInfo.Masked(),
		Status:            models.WithdrawalStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = w.tx.run(ctx, "withdraw_apply", distributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		if !d.IsApproved() {
			return false, errors.ErrDistributorNotActive
		}
		withdrawals := w.withdrawalRepo.WithTx(tx)
		pending, err := withdrawals.HasPending(ctx, distributorID)
		if err != nil {
			return false, err
		}
		if pending {
			return false, errors.ErrPendingWithdrawal
		}
		if d.Available.LessThan(amount) {
			return false, errors.ErrAvailableInsufficient.WithMessagef("可提现余额不足，当前可提现: %s元", d.Available.StringFixed(2))
		}

		d.Available = money.Round(d.Available.Sub(amount))
		d.Frozen = money.Round(d.Frozen.Add(amount))
		withdrawal.ID = 0
		if err := withdrawals.Create(ctx, withdrawal); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	w.metrics.RecordWithdrawal(models.WithdrawalStatusPending)
	w.log.Info("提现申请已提交",
		logger.WithdrawalNo(withdrawal.WithdrawalNo),
		logger.DistributorID(distributorID),
		logger.Amount("amount", amount),
		logger.Amount("fee", fee))
	return withdrawal, nil
}

// Audit 审核提现申请
// 通过时冻结金额计入已提现，拒绝时冻结金额退回可提现
func (w *WithdrawalWorkflow) Audit(ctx context.Context, requestID int64, decision, reason string, operatorID int64) (result *models.CashWithdrawal, err error) {
	ctx, span := tracing.Start(ctx, "withdrawal.Audit")
	defer func() { tracing.End(span, err) }()

	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, errors.ErrInvalidDecision
	}

	withdrawal, err := w.withdrawalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status != models.WithdrawalStatusPending {
		return nil, errors.ErrWithdrawalStatus
	}
	span.SetAttributes(tracing.AttrDistributorID.Int64(withdrawal.DistributorID))

	now := w.now()
	err = w.tx.run(ctx, "withdraw_audit", withdrawal.DistributorID, func(tx *gorm.DB, d *models.Distributor) (bool, error) {
		withdrawals := w.withdrawalRepo.WithTx(tx)
		current, err := withdrawals.GetByID(ctx, requestID)
		if err != nil {
			return false, err
		}
		if current.Status != models.WithdrawalStatusPending {
			return false, errors.ErrWithdrawalStatus
		}
		if d.Frozen.LessThan(current.Amount) {
			return false, errors.ErrFrozenInsufficient
		}

		d.Frozen = money.Round(d.Frozen.Sub(current.Amount))
		if decision == DecisionApproved {
			d.TotalWithdrawn = money.Round(d.TotalWithdrawn.Add(current.Amount))
		} else {
			d.Available = money.Round(d.Available.Add(current.Amount))
		}

		ok, err := withdrawals.Transition(ctx, requestID, models.WithdrawalStatusPending, decision, map[string]interface{}{
			"audit_reason": reason,
			"audited_by":   operatorID,
			"audited_at":   now,
		})
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.ErrWithdrawalStatus
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	withdrawal.Status = decision
	withdrawal.AuditReason = reason
	withdrawal.AuditedBy = &operatorID
	withdrawal.AuditedAt = &now

	w.metrics.RecordWithdrawal(decision)
	w.log.Info("提现申请已审核",
		logger.WithdrawalNo(withdrawal.WithdrawalNo),
		logger.String("decision", decision),
		logger.Int64("operator_id", operatorID))
	return withdrawal, nil
}

// Complete 记录打款流水号，申请进入已完成
func (w *WithdrawalWorkflow) Complete(ctx context.Context, requestID int64, transactionRef string) (*models.CashWithdrawal, error) {
	if strings.TrimSpace(transactionRef) == "" {
		return nil, errors.ErrInvalidInput.WithMessage("打款流水号不能为空")
	}
	withdrawal, err := w.withdrawalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := w.now()
	ok, err := w.withdrawalRepo.Transition(ctx, requestID, models.WithdrawalStatusApproved, models.WithdrawalStatusCompleted,
		map[string]interface{}{
			"transaction_ref": transactionRef,
			"completed_at":    now,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrWithdrawalStatus
	}

	withdrawal.Status = models.WithdrawalStatusCompleted
	withdrawal.TransactionRef = transactionRef
	withdrawal.CompletedAt = &now
	w.metrics.RecordWithdrawal(models.WithdrawalStatusCompleted)
	return withdrawal, nil
}

// Get 获取提现申请
func (w *WithdrawalWorkflow) Get(ctx context.Context, requestID int64) (*models.CashWithdrawal, error) {
	return w.withdrawalRepo.GetByID(ctx, requestID)
}

// GetByNo 根据提现单号获取提现申请
func (w *WithdrawalWorkflow) GetByNo(ctx context.Context, withdrawalNo string) (*models.CashWithdrawal, error) {
	withdrawalNo = strings.TrimSpace(withdrawalNo)
	if withdrawalNo == "" {
		return nil, errors.ErrInvalidInput.WithMessage("提现单号不能为空")
	}
	return w.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
}

// BankInfo 解密提现申请的收款信息
func (w *WithdrawalWorkflow) BankInfo(withdrawal *models.CashWithdrawal) (*BankInfo, error) {
	var info BankInfo
	if err := w.cipher.DecryptJSON(withdrawal.BankInfoEncrypted, &info); err != nil {
		return nil, errors.Internal(err)
	}
	return &info, nil
}

// ListByDistributor 获取分销商提现记录
func (w *WithdrawalWorkflow) ListByDistributor(ctx context.Context, distributorID int64, offset, limit int) ([]*models.CashWithdrawal, int64, error) {
	return w.withdrawalRepo.ListByDistributor(ctx, distributorID, offset, limit)
}
