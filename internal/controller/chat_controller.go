package controller

import (
	"errors"
	"net/http"

	"learnpath_backend/internal/model"
	"learnpath_backend/internal/service"
	"learnpath_backend/internal/util"
	"learnpath_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChatController 处理支持会话相关的HTTP请求与 WebSocket 握手
type ChatController struct {
	ChatService *service.ChatService
	Hub         *service.ChatHub
	Events      service.EventHandler
	Upgrader    websocket.Upgrader
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Subject string `json:"subject" binding:"required" example:"函数作业求助"`
	Message string `json:"message" binding:"required" example:"第三题不会做"`
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Message string `json:"message" binding:"required" example:"你好"`
}

func NewChatController(chatService *service.ChatService, hub *service.ChatHub, events service.EventHandler, checkOrigin func(r *http.Request) bool) *ChatController {
	return &ChatController{
		ChatService: chatService,
		Hub:         hub,
		Events:      events,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// HandleWS godoc
// @Summary WebSocket 连接
// @Description 建立 WebSocket 连接以收发实时聊天事件，令牌无效时在升级前返回 401
// @Tags 聊天
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   token query string true "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} util.Response "Unauthorized"
// @Router /api/chat/ws [get]
func (ctrl *ChatController) HandleWS(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	conn, err := ctrl.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", claims.UserID))
		return
	}
	ctrl.Hub.Attach(conn, claims.Principal(), ctrl.Events)
}

// CreateSession godoc
// @Summary 发起支持会话
// @Tags 聊天
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body CreateSessionRequest true "会话主题与首条消息"
// @Success 201 {object} util.Response{data=model.ChatSession} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "仅学生可发起"
// @Router /api/chat/sessions [post]
func (ctrl *ChatController) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	session, err := ctrl.ChatService.CreateSession(c.Request.Context(), util.GetUserFromContext(c).Principal(), req.Subject, req.Message)
	if err != nil {
		respondChatError(c, err)
		return
	}
	util.Created(c, session)
}

// ListSessions godoc
// @Summary 会话列表
// @Description 学生返回自己的会话，客服返回全部会话，按最近活动倒序
// @Tags 聊天
// @Produce  json
// @Security ApiKeyAuth
// @Param status query string false "open / in_progress / closed"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/chat/sessions [get]
func (ctrl *ChatController) ListSessions(c *gin.Context) {
	status := model.ChatStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		util.BadRequest(c, "invalid status")
		return
	}
	page, limit := util.ParsePage(c)

	sessions, total, err := ctrl.ChatService.ListSessions(c.Request.Context(), util.GetUserFromContext(c).Principal(), status, page, limit)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Page(c, sessions, total, page, limit)
}

// GetSession godoc
// @Summary 会话详情
// @Tags 聊天
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.ChatSession} "成功"
// @Failure 403 {object} util.Response "无权访问"
// @Failure 404 {object} util.Response "会话不存在"
// @Router /api/chat/sessions/{id} [get]
func (ctrl *ChatController) GetSession(c *gin.Context) {
	session, err := ctrl.ChatService.GetSession(c.Request.Context(), util.GetUserFromContext(c).Principal(), c.Param("id"))
	if err != nil {
		respondChatError(c, err)
		return
	}
	util.Success(c, session)
}

// SendMessage godoc
// @Summary 发送消息
// @Description 与 WebSocket send_message 事件相同的扇出，但没有 message_sent 回执
// @Tags 聊天
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Param body body SendMessageRequest true "消息内容"
// @Success 201 {object} util.Response{data=model.ChatMessage} "成功"
// @Failure 404 {object} util.Response "会话不存在"
// @Failure 409 {object} util.Response "会话已关闭"
// @Router /api/chat/sessions/{id}/messages [post]
func (ctrl *ChatController) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	msg, err := ctrl.ChatService.SendMessage(c.Request.Context(), util.GetUserFromContext(c).Principal(), c.Param("id"), req.Message, nil)
	if err != nil {
		respondChatError(c, err)
		return
	}
	util.Created(c, msg)
}

// CloseSession godoc
// @Summary 关闭会话
// @Tags 聊天
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.ChatSession} "成功"
// @Failure 403 {object} util.Response "仅客服可关闭"
// @Failure 409 {object} util.Response "会话已关闭"
// @Router /api/chat/sessions/{id}/close [put]
func (ctrl *ChatController) CloseSession(c *gin.Context) {
	session, err := ctrl.ChatService.CloseSession(c.Request.Context(), util.GetUserFromContext(c).Principal(), c.Param("id"))
	if err != nil {
		respondChatError(c, err)
		return
	}
	util.Success(c, session)
}

func respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		util.NotFound(c)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(c)
	case errors.Is(err, util.ErrSessionClosed):
		util.Conflict(c, "Chat session is closed")
	case errors.Is(err, util.ErrEmptyMessage), errors.Is(err, util.ErrEmptySubject):
		util.BadRequest(c, err.Error())
	default:
		util.LogInternalError(c, err)
	}
}
