package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	sharedErrors "sudooom.mathrush/shared/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 错误码常量（使用 shared/errors 包的定义）
const (
	CodeSuccess = sharedErrors.CodeSuccess

	// 认证相关 10000-10999
	CodeTokenInvalid = sharedErrors.CodeTokenInvalid
	CodeTokenExpired = sharedErrors.CodeTokenExpired

	// 参数相关 11000-11999
	CodeInvalidParams = sharedErrors.CodeInvalidParams

	// 房间相关 20000-20999
	CodeRoomNotFound = sharedErrors.CodeRoomNotFound
	CodeNotInRoom    = sharedErrors.CodeNotInRoom

	// 系统错误 50000-50999
	CodeServerError    = sharedErrors.CodeServerError
	CodeTooManyRequest = sharedErrors.CodeTooManyReqest
	CodeTransientStore = sharedErrors.CodeTransientStore
)

var codeMessages = map[int]string{
	CodeSuccess:        "success",
	CodeTokenInvalid:   "token is invalid",
	CodeTokenExpired:   "token has expired",
	CodeInvalidParams:  "invalid parameters",
	CodeRoomNotFound:   "room not found",
	CodeNotInRoom:      "player is not in this room",
	CodeServerError:    "internal server error",
	CodeTooManyRequest: "too many requests, slow down",
	CodeTransientStore: "store temporarily unavailable",
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int) {
	message := codeMessages[code]
	if message == "" {
		message = "unknown error"
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
func ErrorFromAppError(c *gin.Context, err error) {
	code := sharedErrors.GetCode(err)
	message := sharedErrors.GetMessage(err)
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeTokenInvalid,
		Message: codeMessages[CodeTokenInvalid],
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, Response{
		Code:    CodeTooManyRequest,
		Message: codeMessages[CodeTooManyRequest],
		Data:    nil,
	})
}
