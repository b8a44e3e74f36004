package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"sudooom.mathrush/internal/middleware"
	"sudooom.mathrush/internal/room"
	"sudooom.mathrush/pkg/response"
	sharedErrors "sudooom.mathrush/shared/errors"
	"sudooom.mathrush/shared/model"
)

// RoomHandler 房间处理器
type RoomHandler struct {
	roomService *room.Service
	logger      *slog.Logger
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(roomService *room.Service) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		logger:      slog.Default().With("component", "room_handler"),
	}
}

// JoinRequest 加入房间请求，display_name 为空时使用 token 中的昵称
type JoinRequest struct {
	DisplayName string `json:"display_name" binding:"max=32"`
}

// DurationRequest 修改比赛时长请求
type DurationRequest struct {
	DurationSec int `json:"duration_sec" binding:"required"`
}

// AnswerRequest 上报单题结果请求
type AnswerRequest struct {
	Correct *bool `json:"correct" binding:"required"`
	// Attempt 本题序号（从 1 开始），重试时用于去重；0 表示不去重
	Attempt int `json:"attempt" binding:"gte=0"`
}

// FinishRequest 结束个人比赛请求。成绩字段要么都给要么都不给，都不给时保留已上报的成绩
type FinishRequest struct {
	Score    *int   `json:"score"`
	Attempts *int   `json:"attempts"`
	Correct  *int   `json:"correct"`
	Reason   string `json:"reason" binding:"required,oneof=timeout exit"`
}

// progress 解析请求中的成绩，未携带时返回 nil
func (r FinishRequest) progress() (*model.Progress, bool) {
	if r.Score == nil && r.Attempts == nil && r.Correct == nil {
		return nil, true
	}
	if r.Score == nil || r.Attempts == nil || r.Correct == nil {
		return nil, false
	}
	return &model.Progress{Score: *r.Score, Attempts: *r.Attempts, Correct: *r.Correct}, true
}

// RoomView 房间详情
type RoomView struct {
	Room    *model.Room    `json:"room"`
	Players []model.Player `json:"players"`
}

// Create 创建房间
// POST /api/v1/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	who := middleware.GetIdentity(c)

	r, err := h.roomService.CreateRoom(c.Request.Context(), who)
	if err != nil {
		fail(c, h.logger, "create", err)
		return
	}

	response.Success(c, r)
}

// Join 加入房间
// POST /api/v1/rooms/:code/join
func (h *RoomHandler) Join(c *gin.Context) {
	who := middleware.GetIdentity(c)

	if c.Request.ContentLength > 0 {
		var req JoinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
			return
		}
		if req.DisplayName != "" {
			who.DisplayName = req.DisplayName
		}
	}

	r, err := h.roomService.JoinRoom(c.Request.Context(), c.Param("code"), who)
	if err != nil {
		fail(c, h.logger, "join", err)
		return
	}

	response.Success(c, r)
}

// Leave 离开房间
// POST /api/v1/rooms/:code/leave
func (h *RoomHandler) Leave(c *gin.Context) {
	who := middleware.GetIdentity(c)

	if err := h.roomService.LeaveRoom(c.Request.Context(), c.Param("code"), who); err != nil {
		fail(c, h.logger, "leave", err)
		return
	}

	response.Success(c, nil)
}

// SetDuration 房主修改比赛时长
// PUT /api/v1/rooms/:code/duration
func (h *RoomHandler) SetDuration(c *gin.Context) {
	who := middleware.GetIdentity(c)

	var req DurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	r, err := h.roomService.SetDuration(c.Request.Context(), c.Param("code"), who, req.DurationSec)
	if err != nil {
		fail(c, h.logger, "duration", err)
		return
	}

	response.Success(c, r)
}

// Start 房主开始比赛
// POST /api/v1/rooms/:code/start
func (h *RoomHandler) Start(c *gin.Context) {
	who := middleware.GetIdentity(c)

	r, err := h.roomService.StartMatch(c.Request.Context(), c.Param("code"), who)
	if err != nil {
		fail(c, h.logger, "start", err)
		return
	}

	response.Success(c, r)
}

// Answer 上报单题结果
// POST /api/v1/rooms/:code/answers
func (h *RoomHandler) Answer(c *gin.Context) {
	who := middleware.GetIdentity(c)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	p, err := h.roomService.ReportAnswerAt(c.Request.Context(), c.Param("code"), who, *req.Correct, req.Attempt)
	if err != nil {
		fail(c, h.logger, "answer", err)
		return
	}

	response.Success(c, p)
}

// Finish 结束个人比赛
// POST /api/v1/rooms/:code/finish
func (h *RoomHandler) Finish(c *gin.Context) {
	who := middleware.GetIdentity(c)

	var req FinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return
	}

	progress, ok := req.progress()
	if !ok {
		response.ErrorWithMsg(c, response.CodeInvalidParams, "score, attempts and correct must be given together")
		return
	}
	result, err := h.roomService.FinishMatch(c.Request.Context(), c.Param("code"), who, progress, room.FinishReason(req.Reason))
	if err != nil {
		fail(c, h.logger, "finish", err)
		return
	}

	response.Success(c, result)
}

// Get 获取房间详情
// GET /api/v1/rooms/:code
func (h *RoomHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	r, err := h.roomService.GetRoom(ctx, code)
	if err != nil {
		fail(c, h.logger, "get", err)
		return
	}
	players, err := h.roomService.ListPlayers(ctx, code)
	if err != nil {
		fail(c, h.logger, "get", err)
		return
	}

	response.Success(c, RoomView{Room: r, Players: players})
}

// Results 获取比赛结果与排名
// GET /api/v1/rooms/:code/results
func (h *RoomHandler) Results(c *gin.Context) {
	results, err := h.roomService.GetResults(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, h.logger, "results", err)
		return
	}

	response.Success(c, results)
}

// fail 业务错误原样返回错误码，其他错误记录日志后返回服务器错误
func fail(c *gin.Context, logger *slog.Logger, op string, err error) {
	if sharedErrors.IsAppError(err) {
		if sharedErrors.Is(err, sharedErrors.ErrTransientStore) {
			logger.Warn("Room operation hit transient store error",
				"op", op, "code", c.Param("code"), "error", err)
		}
		response.ErrorFromAppError(c, err)
		return
	}
	logger.Error("Room operation failed", "op", op, "code", c.Param("code"), "error", err)
	response.Error(c, response.CodeServerError)
}
