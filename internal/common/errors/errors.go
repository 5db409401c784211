// Package errors 定义业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，使 errors.Is(err, ErrNotFound) 对同类错误成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// WithMessagef 格式化修改错误消息
func (e *AppError) WithMessagef(format string, args ...interface{}) *AppError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// 错误分类
// 服务边界只允许这几类错误向外传播
var (
	ErrInvalidInput        = New(1001, "参数错误")
	ErrNotFound            = New(1002, "资源不存在")
	ErrConflict            = New(1003, "资源冲突")
	ErrInternal            = New(1006, "内部错误")
	ErrInvalidState        = New(1011, "当前状态不允许该操作")
	ErrInsufficientBalance = New(3006, "余额不足")
)

// 分销业务错误
var (
	ErrDistributorNotFound   = ErrNotFound.WithMessage("分销商不存在")
	ErrRuleNotFound          = ErrNotFound.WithMessage("佣金规则不存在")
	ErrEntryNotFound         = ErrNotFound.WithMessage("佣金记录不存在")
	ErrWithdrawalNotFound    = ErrNotFound.WithMessage("提现申请不存在")
	ErrMemberNotFound        = ErrNotFound.WithMessage("会员不存在")
	ErrGoodsNotFound         = ErrNotFound.WithMessage("商品不存在")
	ErrParentCodeNotFound    = ErrNotFound.WithMessage("邀请码不存在")
	ErrDistributorExists     = ErrConflict.WithMessage("已提交过分销商申请")
	ErrChainCycle            = ErrConflict.WithMessage("推荐关系存在循环")
	ErrPendingWithdrawal     = ErrConflict.WithMessage("存在待审核的提现申请")
	ErrConcurrentUpdate      = ErrConflict.WithMessage("数据已被并发修改，请重试")
	ErrInvalidCode           = ErrInvalidInput.WithMessage("邀请码格式错误")
	ErrInvalidAmount         = ErrInvalidInput.WithMessage("金额无效")
	ErrBelowMinWithdraw      = ErrInvalidInput.WithMessage("低于最低提现金额")
	ErrDistributorNotActive  = ErrInvalidState.WithMessage("分销商未通过审核")
	ErrRuleReferenced        = ErrInvalidState.WithMessage("规则已被佣金记录引用，不可修改")
	ErrEntryStatus           = ErrInvalidState.WithMessage("佣金记录状态不允许该操作")
	ErrWithdrawalStatus      = ErrInvalidState.WithMessage("提现申请状态不允许该操作")
	ErrInvalidDecision       = ErrInvalidInput.WithMessage("审核结果无效")
	ErrAvailableInsufficient = ErrInsufficientBalance.WithMessage("可提现余额不足")
	ErrFrozenInsufficient    = ErrInsufficientBalance.WithMessage("冻结余额不足")
)

// IsConcurrentUpdate 是否为版本冲突，只有这类错误允许重试整个事务
func IsConcurrentUpdate(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr == ErrConcurrentUpdate
}

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误，非应用错误归为内部错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithError(err)
}

// Is 同标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Internal 将底层错误包装为内部错误，已是应用错误的原样返回
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if IsAppError(err) {
		return err
	}
	return ErrInternal.WithError(err)
}
