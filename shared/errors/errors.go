package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 按错误码比较，包装后的错误也能匹配预定义错误
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// IsAppError 是否为业务错误
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 参数相关 11000-11999
	CodeInvalidParams = 11002

	// 房间相关 20000-20999
	CodeRoomNotFound          = 20001
	CodeRoomLocked            = 20002
	CodeRoomFull              = 20003
	CodeInsufficientPlayers   = 20004
	CodeRoomCreationExhausted = 20005
	CodeNotAuthorized         = 20006
	CodeNotInRoom             = 20007

	// 系统错误 50000-50999
	CodeServerError    = 50001
	CodeTooManyReqest  = 50003
	CodeTransientStore = 50004
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "token is invalid")
	ErrTokenExpired = NewError(CodeTokenExpired, "token has expired")
)

// 参数相关
var (
	ErrInvalidParams = NewError(CodeInvalidParams, "invalid parameters")
)

// 房间相关
var (
	ErrRoomNotFound          = NewError(CodeRoomNotFound, "room not found")
	ErrRoomLocked            = NewError(CodeRoomLocked, "room is locked")
	ErrRoomFull              = NewError(CodeRoomFull, "room is full")
	ErrInsufficientPlayers   = NewError(CodeInsufficientPlayers, "not enough players to start")
	ErrRoomCreationExhausted = NewError(CodeRoomCreationExhausted, "could not allocate a room code, try again")
	ErrNotAuthorized         = NewError(CodeNotAuthorized, "only the host can do this")
	ErrNotInRoom             = NewError(CodeNotInRoom, "player is not in this room")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "internal server error")
	ErrTooManyRequest = NewError(CodeTooManyReqest, "too many requests, slow down")
	ErrTransientStore = NewError(CodeTransientStore, "store temporarily unavailable")
)
