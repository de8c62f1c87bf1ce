package app

import (
	"learnpath_backend/internal/middleware"
	"learnpath_backend/internal/model"
	"learnpath_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(a.services.auth))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		a.registerChatRoutes(authGroup, c)
		a.registerNotificationRoutes(authGroup, c)

		// 客服相关接口
		authGroup.GET("/auth/users", middleware.RoleMiddleware(model.Staff), c.auth.ListUsers)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	router.GET("/api/health", c.health.HealthCheck)

	auth := router.Group("/api/auth")
	{
		auth.POST("/register", c.auth.Register)
		auth.POST("/login", c.auth.Login)
		auth.GET("/check-staff", c.auth.CheckStaff)
	}
}

func (a *App) registerChatRoutes(group *gin.RouterGroup, c *controllers) {
	chat := group.Group("/chat")
	{
		// 握手前由 AuthMiddleware 完成认证，失败直接 401
		chat.GET("/ws", c.chat.HandleWS)

		chat.GET("/sessions", c.chat.ListSessions)
		chat.POST("/sessions", c.chat.CreateSession)
		chat.GET("/sessions/:id", c.chat.GetSession)
		chat.POST("/sessions/:id/messages", c.chat.SendMessage)
		chat.PUT("/sessions/:id/close", middleware.RoleMiddleware(model.Staff), c.chat.CloseSession)
	}
}

func (a *App) registerNotificationRoutes(group *gin.RouterGroup, c *controllers) {
	notifications := group.Group("/notifications")
	{
		notifications.GET("", c.notification.GetNotifications)
		notifications.GET("/unread-count", c.notification.GetUnreadCount)
		notifications.PUT("/read-all", c.notification.MarkAllRead)
		notifications.PUT("/:id/read", c.notification.MarkRead)
	}
}
