// Package repository 提供数据访问层
package repository

import (
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
)

// translate 将 gorm 错误转换为业务错误
// 记录不存在转换为 notFound，其余错误包装为内部错误
func translate(err error, notFound *errors.AppError) error {
	if err == nil {
		return nil
	}
	if notFound != nil && stderrors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return errors.Internal(err)
}

// IsDuplicate 是否为唯一约束冲突
func IsDuplicate(err error) bool {
	return stderrors.Is(err, gorm.ErrDuplicatedKey)
}
