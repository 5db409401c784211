// Package handler 提供 API Handler 的通用辅助函数
// 用于统一错误处理、参数解析和分页
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/commission-ledger/internal/common/errors"
	"github.com/dumeirei/commission-ledger/internal/common/logger"
	"github.com/dumeirei/commission-ledger/internal/common/response"
)

// HandleError 处理错误并发送适当的响应
// 如果 err 为 nil，返回 false（表示无错误需要处理）
// 如果 err 不为 nil，发送错误响应并返回 true（调用方应该 return）
//
// 使用示例:
//
//	result, err := service.DoSomething()
//	if HandleError(c, err) {
//	    return
//	}
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	appErr := errors.GetAppError(err)
	if appErr.Code == errors.ErrInternal.Code {
		// 内部错误不向调用方暴露细节
		logger.Error("request failed", logger.Path(c.FullPath()), logger.Err(err))
		response.InternalError(c, appErr.Message)
		return true
	}
	response.Error(c, appErr.Code, appErr.Message)
	return true
}

// MustSucceed 如果有错误则返回错误响应，否则返回成功响应
// 调用 MustSucceed 后必须 return
func MustSucceed(c *gin.Context, err error, data interface{}) {
	if HandleError(c, err) {
		return
	}
	response.Success(c, data)
}

// MustSucceedPage 分页响应版本
func MustSucceedPage(c *gin.Context, err error, list interface{}, total int64, page, pageSize int) {
	if HandleError(c, err) {
		return
	}
	response.SuccessPage(c, list, total, page, pageSize)
}

// BindJSON 绑定请求体，失败时返回 400
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return false
	}
	return true
}

// ParseID 解析路径参数 "id" 为 int64
// 返回 (0, false) 表示解析失败（已发送400响应，调用方应该 return）
func ParseID(c *gin.Context, resourceName string) (int64, bool) {
	return ParseParamID(c, "id", resourceName)
}

// ParseParamID 解析指定路径参数为 int64
func ParseParamID(c *gin.Context, paramName, resourceName string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(paramName), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return 0, false
	}
	return id, true
}

// Pagination 分页参数
type Pagination struct {
	Page     int
	PageSize int
}

// Offset 偏移量
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// BindPagination 从查询参数绑定并规范化分页参数
// 默认 page=1, pageSize=10, 最大 pageSize=100
func BindPagination(c *gin.Context) Pagination {
	var p Pagination
	p.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	p.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}
