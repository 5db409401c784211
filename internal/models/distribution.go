package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Distributor 分销商模型
// 余额字段只允许通过账本和提现流程在加锁事务中修改
type Distributor struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID         int64           `gorm:"uniqueIndex;not null" json:"member_id"`
	DistributionCode string          `gorm:"type:varchar(16);uniqueIndex;not null" json:"distribution_code"`
	ParentID         *int64          `gorm:"index" json:"parent_id,omitempty"`
	Level            int             `gorm:"not null;default:1" json:"level"`
	Status           string          `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	Available        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"available"`
	Frozen           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"frozen"`
	TotalCommission  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_commission"`
	TotalWithdrawn   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_withdrawn"`
	MonthCommission  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"month_commission"`
	CommissionMonth  string          `gorm:"type:varchar(7);not null;default:''" json:"commission_month"`
	DirectCount      int             `gorm:"not null;default:0" json:"direct_count"`
	TeamCount        int             `gorm:"not null;default:0" json:"team_count"`
	RealName         string          `gorm:"type:varchar(64)" json:"real_name"`
	Mobile           string          `gorm:"type:varchar(20)" json:"mobile"`
	AuditReason      string          `gorm:"type:varchar(255)" json:"audit_reason,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	Version          int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Distributor) TableName() string {
	return "distributors"
}

// IsApproved 是否已通过审核
func (d *Distributor) IsApproved() bool {
	return d.Status == DistributorStatusApproved
}

// DistributorStatus 分销商状态
const (
	DistributorStatusPending  = "pending"  // 待审核
	DistributorStatusApproved = "approved" // 已通过
	DistributorStatusRejected = "rejected" // 已拒绝
	DistributorStatusDisabled = "disabled" // 已禁用
)

// MaxLevel 分佣最大层级
const MaxLevel = 3

// CommissionRule 佣金规则
type CommissionRule struct {
	ID             int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	GoodsID        string              `gorm:"type:varchar(64);index;not null" json:"goods_id"`
	GoodsName      string              `gorm:"type:varchar(128)" json:"goods_name"`
	CommissionType string              `gorm:"type:varchar(16);not null" json:"commission_type"`
	Level1Rate     decimal.Decimal     `gorm:"type:decimal(12,4);not null;default:0" json:"level1_rate"`
	Level2Rate     decimal.Decimal     `gorm:"type:decimal(12,4);not null;default:0" json:"level2_rate"`
	Level3Rate     decimal.Decimal     `gorm:"type:decimal(12,4);not null;default:0" json:"level3_rate"`
	MinCommission  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"min_commission"`
	MaxCommission  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"max_commission"`
	StartTime      *time.Time          `json:"start_time,omitempty"`
	EndTime        *time.Time          `json:"end_time,omitempty"`
	Status         string              `gorm:"type:varchar(16);index;not null;default:'active'" json:"status"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (CommissionRule) TableName() string {
	return "commission_rules"
}

// RateFor 返回指定层级的费率，层级越界返回零
func (r *CommissionRule) RateFor(level int) decimal.Decimal {
	switch level {
	case 1:
		return r.Level1Rate
	case 2:
		return r.Level2Rate
	case 3:
		return r.Level3Rate
	default:
		return decimal.Zero
	}
}

// ActiveAt 规则在 at 时刻是否生效，窗口为 [start, end)
func (r *CommissionRule) ActiveAt(at time.Time) bool {
	if r.Status != RuleStatusActive {
		return false
	}
	if r.StartTime != nil && at.Before(*r.StartTime) {
		return false
	}
	if r.EndTime != nil && !at.Before(*r.EndTime) {
		return false
	}
	return true
}

// CommissionType 佣金计算方式
const (
	CommissionTypePercentage = "percentage" // 按比例，费率为百分数
	CommissionTypeFixed      = "fixed"      // 固定金额
)

// RuleStatus 规则状态
const (
	RuleStatusActive   = "active"
	RuleStatusInactive = "inactive"
)

// LedgerEntry 佣金流水，只追加不删除
type LedgerEntry struct {
	ID                       int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID                  string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_entry_line_level,priority:1" json:"order_id"`
	OrderLineID              string              `gorm:"type:varchar(64);not null;uniqueIndex:uk_entry_line_level,priority:2" json:"order_line_id"`
	Level                    int                 `gorm:"not null;uniqueIndex:uk_entry_line_level,priority:3" json:"level"`
	GoodsID                  string              `gorm:"type:varchar(64);not null" json:"goods_id"`
	BeneficiaryDistributorID int64               `gorm:"index;not null" json:"beneficiary_distributor_id"`
	LineAmount               decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"line_amount"`
	RuleID                   int64               `gorm:"index;not null" json:"rule_id"`
	RuleType                 string              `gorm:"type:varchar(16);not null" json:"rule_type"`
	RuleRate                 decimal.Decimal     `gorm:"type:decimal(12,4);not null" json:"rule_rate"`
	RuleMin                  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"rule_min"`
	RuleMax                  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"rule_max"`
	Amount                   decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	RefundedAmount           decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	Status                   string              `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	FreezeUntil              *time.Time          `gorm:"index" json:"freeze_until,omitempty"`
	AuditFlag                bool                `gorm:"not null;default:false" json:"audit_flag"`
	CreatedAt                time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	SettledAt                *time.Time          `json:"settled_at,omitempty"`
	ReleasedAt               *time.Time          `json:"released_at,omitempty"`
	RefundedAt               *time.Time          `json:"refunded_at,omitempty"`
	CancelledAt              *time.Time          `json:"cancelled_at,omitempty"`
}

// TableName 表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// IsCredited 资金是否已计入分销商余额
func (e *LedgerEntry) IsCredited() bool {
	switch e.Status {
	case EntryStatusSettled, EntryStatusFrozen, EntryStatusAvailable:
		return true
	}
	return false
}

// IsTerminal 是否为终态
func (e *LedgerEntry) IsTerminal() bool {
	return e.Status == EntryStatusRefunded || e.Status == EntryStatusCancelled
}

// IsReversed 是否已做过退款冲正，每条流水只冲正一次
// 待结算流水部分退款后状态不变，只记录 RefundedAmount
func (e *LedgerEntry) IsReversed() bool {
	return e.IsTerminal() || e.RefundedAmount.IsPositive()
}

// CreditAmount 结算时计入余额的金额
func (e *LedgerEntry) CreditAmount() decimal.Decimal {
	return e.Amount.Sub(e.RefundedAmount)
}

// NetAmount 扣除退款后仍计入余额的金额
func (e *LedgerEntry) NetAmount() decimal.Decimal {
	if e.IsCredited() || e.Status == EntryStatusRefunded {
		return e.CreditAmount()
	}
	return decimal.Zero
}

// EntryStatus 佣金流水状态
const (
	EntryStatusPending   = "pending"   // 待结算
	EntryStatusSettled   = "settled"   // 已结算，计入可提现
	EntryStatusFrozen    = "frozen"    // 已结算，冻结中
	EntryStatusAvailable = "available" // 冻结期满，计入可提现
	EntryStatusRefunded  = "refunded"  // 已退款冲正
	EntryStatusCancelled = "cancelled" // 结算前取消
)

// CashWithdrawal 提现申请
type CashWithdrawal struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	DistributorID     int64           `gorm:"index;not null" json:"distributor_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Fee               decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"fee"`
	NetAmount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	Method            string          `gorm:"type:varchar(16);not null" json:"method"`
	BankInfoEncrypted string          `gorm:"type:text;not null" json:"-"`
	BankInfoMasked    string          `gorm:"type:varchar(255)" json:"bank_info_masked"`
	Status            string          `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	AuditReason       string          `gorm:"type:varchar(255)" json:"audit_reason,omitempty"`
	AuditedBy         *int64          `json:"audited_by,omitempty"`
	AuditedAt         *time.Time      `json:"audited_at,omitempty"`
	TransactionRef    string          `gorm:"type:varchar(128)" json:"transaction_ref,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (CashWithdrawal) TableName() string {
	return "cash_withdrawals"
}

// WithdrawalStatus 提现状态
const (
	WithdrawalStatusPending   = "pending"   // 待审核
	WithdrawalStatusApproved  = "approved"  // 已通过，待打款
	WithdrawalStatusRejected  = "rejected"  // 已拒绝
	WithdrawalStatusCompleted = "completed" // 已打款
)

// WithdrawalMethod 提现方式
const (
	WithdrawalMethodBank   = "bank"
	WithdrawalMethodWechat = "wechat"
	WithdrawalMethodAlipay = "alipay"
)

// AllModels 需要自动迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&Distributor{},
		&CommissionRule{},
		&LedgerEntry{},
		&CashWithdrawal{},
	}
}
