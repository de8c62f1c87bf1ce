package controller

import (
	"errors"

	"learnpath_backend/internal/service"
	"learnpath_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type NotificationController struct {
	NotificationService *service.NotificationService
}

func NewNotificationController(notificationService *service.NotificationService) *NotificationController {
	return &NotificationController{NotificationService: notificationService}
}

// GetNotifications godoc
// @Summary 通知列表
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Param unread query bool false "只看未读"
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/notifications [get]
func (n *NotificationController) GetNotifications(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	page, limit := util.ParsePage(c)
	unreadOnly := c.Query("unread") == "true"

	list, total, err := n.NotificationService.List(c.Request.Context(), claims.UserID, unreadOnly, page, limit)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Page(c, list, total, page, limit)
}

// GetUnreadCount godoc
// @Summary 未读通知数量
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/notifications/unread-count [get]
func (n *NotificationController) GetUnreadCount(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	count, err := n.NotificationService.UnreadCount(c.Request.Context(), claims.UserID)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, gin.H{"count": count})
}

// MarkRead godoc
// @Summary 标记通知已读
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "通知ID"
// @Success 200 {object} util.Response{data=model.Notification} "成功"
// @Failure 404 {object} util.Response "通知不存在"
// @Router /api/notifications/{id}/read [put]
func (n *NotificationController) MarkRead(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	note, err := n.NotificationService.MarkRead(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrNotificationNotFound) {
			util.NotFound(c)
		} else {
			util.LogInternalError(c, err)
		}
		return
	}
	util.Success(c, note)
}

// MarkAllRead godoc
// @Summary 全部标记为已读
// @Tags 通知
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=object} "成功"
// @Router /api/notifications/read-all [put]
func (n *NotificationController) MarkAllRead(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	updated, err := n.NotificationService.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, gin.H{"updated": updated})
}
