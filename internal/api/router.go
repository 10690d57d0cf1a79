// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkmind/ManuscriptMind/internal/config"
	"github.com/inkmind/ManuscriptMind/internal/di"
	"github.com/inkmind/ManuscriptMind/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// ✅ 只从容器获取服务，不再创建新实例
	chapterService, ok := di.Resolve[*services.ChapterService]("chapters")
	if !ok {
		return nil, fmt.Errorf("章节服务未正确初始化")
	}

	sessionService, ok := di.Resolve[*services.SessionService]("sessions")
	if !ok {
		return nil, fmt.Errorf("会话服务未正确初始化")
	}

	contextService, ok := di.Resolve[*services.ContextService]("contexts")
	if !ok {
		return nil, fmt.Errorf("上下文服务未正确初始化")
	}

	statsService, ok := di.Resolve[*services.StatsService]("stats")
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	exportService, ok := di.Resolve[*services.ExportService]("exports")
	if !ok {
		return nil, fmt.Errorf("导出服务未正确初始化")
	}

	// 创建 WebSocket 处理器并接上编辑通知，分析完成后推送给章节的连接
	wsHandler := NewWebSocketHandler()
	sessionService.SetNotifier(wsHandler.NotifyIntelligenceUpdated)

	// ✅ 创建API处理器 - 只传递从容器获取的服务
	handler := NewHandler(
		chapterService,
		sessionService,
		contextService,
		statsService,
		exportService,
		wsHandler,
	)

	// 创建路由
	r := gin.Default()

	// 启用CORS和请求指标
	r.Use(corsMiddleware())
	r.Use(MetricsMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// 静态文件服务（编辑器前端）
	if cfg.StaticDir != "" {
		r.Static("/static", cfg.StaticDir)
	}

	// WebSocket 支持
	r.GET("/ws/chapters/:id", handler.ChapterWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 项目相关路由
		// ===============================
		projectsGroup := api.Group("/projects")
		{
			projectsGroup.GET("", handler.GetProjects)
			projectsGroup.POST("", handler.CreateProject)
			projectsGroup.GET("/:id", handler.GetProject)
			projectsGroup.PUT("/:id", handler.UpdateProject)
			projectsGroup.DELETE("/:id", handler.DeleteProject)
			projectsGroup.GET("/:id/chapters", handler.GetProjectChapters)
			projectsGroup.GET("/:id/export", handler.ExportProject)
		}

		// ===============================
		// 章节相关路由
		// ===============================
		chaptersGroup := api.Group("/chapters")
		{
			chaptersGroup.POST("", handler.CreateChapter)
			chaptersGroup.GET("/:id", handler.GetChapter)
			chaptersGroup.PUT("/:id", handler.UpdateChapter)
			chaptersGroup.DELETE("/:id", handler.DeleteChapter)

			// 正文保存走更宽松的编辑限流
			chaptersGroup.PUT("/:id/text", EditRateLimit(), handler.UpdateChapterText)

			// 分析结果
			chaptersGroup.GET("/:id/intelligence", handler.GetIntelligence)
			chaptersGroup.GET("/:id/hud", handler.GetHUD)
			chaptersGroup.GET("/:id/context", handler.GetContext)
			chaptersGroup.GET("/:id/timeline", handler.GetTimeline)
			chaptersGroup.GET("/:id/timeline/context", handler.GetTimelineContext)

			// 全量重算代价高，单独限流
			chaptersGroup.POST("/:id/reanalyze", ReanalyzeRateLimit(), handler.ReanalyzeChapter)

			// 导出
			chaptersGroup.GET("/:id/export", handler.ExportChapter)

			// 修订历史
			chaptersGroup.GET("/:id/revisions", handler.GetRevisions)
			chaptersGroup.GET("/:id/revisions/:name", handler.GetRevision)
		}

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
		}

		// ===============================
		// 统计路由
		// ===============================
		api.GET("/stats", handler.GetProcessingStats)
		api.GET("/metrics", handler.GetMetrics)

		// WebSocket 管理路由
		wsGroup := api.Group("/ws")
		{
			wsGroup.GET("/status", handler.GetWebSocketStatus)
			wsGroup.POST("/cleanup", handler.CleanupWebSocketConnections)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
