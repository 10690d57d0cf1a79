// internal/api/handlers.go
package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inkmind/ManuscriptMind/internal/config"
	apperrors "github.com/inkmind/ManuscriptMind/internal/errors"
	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/services"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	ChapterService   *services.ChapterService // 项目与章节服务
	SessionService   *services.SessionService // 编辑会话服务
	ContextService   *services.ContextService // 上下文服务
	StatsService     *services.StatsService   // 处理统计服务
	ExportService    *services.ExportService  // 导出服务
	WebSocketHandler *WebSocketHandler        // WebSocket 处理器
	Response         *ResponseHelper          // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	chapterService *services.ChapterService,
	sessionService *services.SessionService,
	contextService *services.ContextService,
	statsService *services.StatsService,
	exportService *services.ExportService,
	wsHandler *WebSocketHandler) *Handler {

	return &Handler{
		ChapterService:   chapterService,
		SessionService:   sessionService,
		ContextService:   contextService,
		StatsService:     statsService,
		ExportService:    exportService,
		WebSocketHandler: wsHandler,
		Response:         NewResponseHelper(),
	}
}

// CreateProjectRequest 创建项目的请求结构
type CreateProjectRequest struct {
	Title       string `json:"title" binding:"required"` // 项目标题
	Description string `json:"description"`              // 项目描述
}

// UpdateProjectRequest 更新项目的请求结构
type UpdateProjectRequest struct {
	Title       string `json:"title"`       // 项目标题
	Description string `json:"description"` // 项目描述
}

// CreateChapterRequest 创建章节的请求结构
type CreateChapterRequest struct {
	ProjectID string `json:"project_id" binding:"required"` // 所属项目ID
	Title     string `json:"title" binding:"required"`      // 章节标题
	Text      string `json:"text"`                          // 初始正文，可为空
}

// UpdateChapterRequest 更新章节元数据的请求结构
type UpdateChapterRequest struct {
	Title      string `json:"title"`       // 章节标题
	OrderIndex *int   `json:"order_index"` // 排序位置，nil 表示不变
}

// UpdateChapterTextRequest 保存章节正文的请求结构
type UpdateChapterTextRequest struct {
	Text string `json:"text"` // 全量正文，允许清空
	Mode string `json:"mode"` // sync | debounced，默认 sync
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta 分页元数据
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginatedResponse 带分页的响应
type PaginatedResponse struct {
	*APIResponse
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// ------------------------------------------------
// ChapterWebSocket 处理章节编辑会话的 WebSocket 连接
func (h *Handler) ChapterWebSocket(c *gin.Context) {
	h.WebSocketHandler.ChapterWebSocket(c)
}

// BroadcastToChapter 提供外部调用的广播方法
func (h *Handler) BroadcastToChapter(chapterID string, payload interface{}) {
	wsHub.broadcastToChapter(chapterID, payload)
}

// GetWebSocketStatus 获取编辑会话集线器状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hub":                  wsHub.Status(),
		"idle_timeout_seconds": int(wsHub.idleTimeout.Seconds()),
		"timestamp":            time.Now().Format(time.RFC3339),
	})
}

// CleanupWebSocketConnections 手动触发一次闲置连接清理
func (h *Handler) CleanupWebSocketConnections(c *gin.Context) {
	removed := wsHub.sweepIdle()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"removed":   removed,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// respondServiceError 按服务层错误类型映射HTTP状态码
func (h *Handler) respondServiceError(c *gin.Context, resource string, err error) {
	switch {
	case apperrors.IsNotFoundError(err):
		h.Response.NotFound(c, resource, err.Error())
	case apperrors.IsValidationError(err):
		h.Response.BadRequest(c, err.Error())
	case apperrors.IsConflictError(err):
		h.Response.Conflict(c, err.Error())
	default:
		h.Response.InternalError(c, "操作失败", err.Error())
	}
}

// ========================================
// 项目处理器
// ========================================

// CreateProject 创建新项目
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	project, err := h.ChapterService.CreateProject(req.Title, req.Description)
	if err != nil {
		h.respondServiceError(c, "项目", err)
		return
	}

	h.Response.Created(c, project, "项目创建成功")
}

// GetProjects 获取项目列表（分页）
func (h *Handler) GetProjects(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	projects, err := h.ChapterService.ListProjects()
	if err != nil {
		h.Response.InternalError(c, "获取项目列表失败", err.Error())
		return
	}

	total := len(projects)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	meta := &PaginationMeta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	h.Response.PaginatedSuccess(c, projects[start:end], meta)
}

// GetProject 获取单个项目
func (h *Handler) GetProject(c *gin.Context) {
	projectID := c.Param("id")

	project, err := h.ChapterService.GetProject(projectID)
	if err != nil {
		h.respondServiceError(c, "项目", err)
		return
	}

	h.Response.Success(c, project)
}

// UpdateProject 更新项目信息
func (h *Handler) UpdateProject(c *gin.Context) {
	projectID := c.Param("id")

	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	project, err := h.ChapterService.UpdateProject(projectID, req.Title, req.Description)
	if err != nil {
		h.respondServiceError(c, "项目", err)
		return
	}

	h.Response.Success(c, project, "项目更新成功")
}

// DeleteProject 删除项目及其全部章节
func (h *Handler) DeleteProject(c *gin.Context) {
	projectID := c.Param("id")

	if err := h.ChapterService.DeleteProject(projectID); err != nil {
		h.respondServiceError(c, "项目", err)
		return
	}

	h.Response.Success(c, nil, "项目删除成功")
}

// GetProjectChapters 获取项目的章节列表
func (h *Handler) GetProjectChapters(c *gin.Context) {
	projectID := c.Param("id")

	if _, err := h.ChapterService.GetProject(projectID); err != nil {
		h.respondServiceError(c, "项目", err)
		return
	}

	chapters, err := h.ChapterService.ListChapters(projectID)
	if err != nil {
		h.Response.InternalError(c, "获取章节列表失败", err.Error())
		return
	}

	h.Response.Success(c, chapters)
}

// ========================================
// 章节处理器
// ========================================

// CreateChapter 创建新章节
func (h *Handler) CreateChapter(c *gin.Context) {
	var req CreateChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	chapter, err := h.ChapterService.CreateChapter(req.ProjectID, req.Title, req.Text)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Created(c, chapter, "章节创建成功")
}

// GetChapter 获取单个章节（含正文）
func (h *Handler) GetChapter(c *gin.Context) {
	chapterID := c.Param("id")

	chapter, err := h.ChapterService.GetChapter(chapterID)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, chapter)
}

// UpdateChapter 更新章节元数据（标题、排序）
func (h *Handler) UpdateChapter(c *gin.Context) {
	chapterID := c.Param("id")

	var req UpdateChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	orderIndex := -1
	if req.OrderIndex != nil {
		orderIndex = *req.OrderIndex
	}

	chapter, err := h.ChapterService.UpdateChapterMeta(chapterID, req.Title, orderIndex)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, chapter, "章节更新成功")
}

// UpdateChapterText 保存章节正文并触发分析
// mode=sync 同步返回最新快照，mode=debounced 走防抖队列只确认保存
func (h *Handler) UpdateChapterText(c *gin.Context) {
	chapterID := c.Param("id")

	var req UpdateChapterTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if req.Mode == "debounced" {
		if err := h.SessionService.ApplyEditDebounced(chapterID, req.Text); err != nil {
			h.respondServiceError(c, "章节", err)
			return
		}
		h.Response.Success(c, gin.H{
			"chapter_id": chapterID,
			"scheduled":  true,
		}, "正文已保存，分析已调度")
		return
	}

	intel, stats, err := h.SessionService.ApplyEdit(chapterID, req.Text)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, gin.H{
		"chapter_id":   chapterID,
		"intelligence": intel,
		"stats":        stats,
	}, "正文已保存")
}

// DeleteChapter 删除章节
func (h *Handler) DeleteChapter(c *gin.Context) {
	chapterID := c.Param("id")

	if err := h.ChapterService.DeleteChapter(chapterID); err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, nil, "章节删除成功")
}

// ========================================
// 智能快照处理器
// ========================================

// GetIntelligence 获取章节的智能快照，缺失时触发一次全量分析
func (h *Handler) GetIntelligence(c *gin.Context) {
	chapterID := c.Param("id")

	intel, err := h.SessionService.GetIntelligence(chapterID)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, intel)
}

// GetHUD 获取光标位置的 HUD 态势摘要
func (h *Handler) GetHUD(c *gin.Context) {
	chapterID := c.Param("id")
	cursor, _ := strconv.Atoi(c.DefaultQuery("cursor", "0"))

	chapter, err := h.ChapterService.GetChapter(chapterID)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	intel, err := h.SessionService.GetIntelligence(chapterID)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorSnapshotUnavailable,
			"获取分析结果失败", err.Error())
		return
	}

	hud := intelligence.BuildHUD(intel, len(chapter.Text), cursor, models.TierInstant)
	h.Response.Success(c, hud)
}

// GetContext 获取光标附近的提示词上下文
func (h *Handler) GetContext(c *gin.Context) {
	chapterID := c.Param("id")
	cursor, _ := strconv.Atoi(c.DefaultQuery("cursor", "0"))
	budget, _ := strconv.Atoi(c.DefaultQuery("budget", "0"))

	promptContext, err := h.ContextService.BuildContext(chapterID, cursor, budget)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorContextBuildFailed,
			"构建上下文失败", err.Error())
		return
	}

	h.Response.Success(c, promptContext)
}

// GetTimeline 获取章节的时间线分析
func (h *Handler) GetTimeline(c *gin.Context) {
	chapterID := c.Param("id")

	intel, err := h.SessionService.GetIntelligence(chapterID)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, intel.Timeline)
}

// GetTimelineContext 获取某偏移附近时间线的自然语言摘要
// 供外部AI以工具调用的方式消费
func (h *Handler) GetTimelineContext(c *gin.Context) {
	chapterID := c.Param("id")
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	summary, err := h.ContextService.TimelineContextNear(chapterID, offset)
	if err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	h.Response.Success(c, gin.H{
		"chapter_id": chapterID,
		"offset":     offset,
		"summary":    summary,
	})
}

// ReanalyzeChapter 强制全量重新分析
func (h *Handler) ReanalyzeChapter(c *gin.Context) {
	chapterID := c.Param("id")

	intel, stats, err := h.SessionService.Reanalyze(chapterID)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorProcessingFailed,
			"重新分析失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"intelligence": intel,
		"stats":        stats,
	}, "重新分析完成")
}

// ========================================
// 修订历史处理器
// ========================================

// GetRevisions 获取章节的修订列表
func (h *Handler) GetRevisions(c *gin.Context) {
	chapterID := c.Param("id")

	if _, err := h.ChapterService.GetChapter(chapterID); err != nil {
		h.respondServiceError(c, "章节", err)
		return
	}

	revisions, err := h.ChapterService.ListRevisions(chapterID)
	if err != nil {
		h.Response.InternalError(c, "获取修订列表失败", err.Error())
		return
	}

	h.Response.Success(c, revisions)
}

// GetRevision 获取某个修订的完整正文
func (h *Handler) GetRevision(c *gin.Context) {
	chapterID := c.Param("id")
	name := c.Param("name")

	text, err := h.ChapterService.LoadRevision(chapterID, name)
	if err != nil {
		h.Response.NotFound(c, "修订", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"chapter_id": chapterID,
		"name":       name,
		"text":       text,
	})
}

// ========================================
// 导出处理器
// ========================================

// ExportChapter 导出章节为文档
// format: json | markdown | txt，默认 markdown
// analysis=true 时附带分析摘要；download=true 时以附件形式返回
func (h *Handler) ExportChapter(c *gin.Context) {
	chapterID := c.Param("id")
	format := c.DefaultQuery("format", "markdown")
	includeAnalysis := c.DefaultQuery("analysis", "true") == "true"

	result, err := h.ExportService.ExportChapter(c.Request.Context(), chapterID, format, includeAnalysis)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, err.Error())
			return
		}
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "章节", err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed,
			"导出章节失败", err.Error())
		return
	}

	if c.Query("download") == "true" {
		fileName := filepath.Base(result.FilePath)
		h.Response.FileResponse(c, result.Content, fileName, exportContentType(result.Format))
		return
	}

	h.Response.Success(c, result)
}

// ExportProject 导出项目全部章节为一份完整文稿
func (h *Handler) ExportProject(c *gin.Context) {
	projectID := c.Param("id")
	format := c.DefaultQuery("format", "markdown")

	result, err := h.ExportService.ExportProjectAsDocument(c.Request.Context(), projectID, format)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, err.Error())
			return
		}
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "项目", err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed,
			"导出项目失败", err.Error())
		return
	}

	if c.Query("download") == "true" {
		fileName := filepath.Base(result.FilePath)
		h.Response.FileResponse(c, result.Content, fileName, exportContentType(result.Format))
		return
	}

	h.Response.Success(c, result)
}

func exportContentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// ========================================
// 统计与设置处理器
// ========================================

// GetProcessingStats 获取处理统计
func (h *Handler) GetProcessingStats(c *gin.Context) {
	stats := h.StatsService.GetStats()

	h.Response.Success(c, gin.H{
		"stats":             stats,
		"incremental_ratio": h.StatsService.IncrementalRatio(),
	})
}

// GetMetrics 获取进程内指标快照（计数器、仪表、直方图）
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// GetSettings 获取当前配置
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorConfigNotLoaded,
			"配置尚未初始化")
		return
	}

	h.Response.Success(c, gin.H{
		"processing":     cfg.Processing,
		"debug_mode":     cfg.DebugMode,
		"revision_limit": cfg.RevisionLimit,
	})
}

// SaveSettings 更新增量处理阈值并立即生效
func (h *Handler) SaveSettings(c *gin.Context) {
	var req config.ProcessingConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if err := config.UpdateProcessingConfig(req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorThresholdInvalid,
			"阈值校验失败", err.Error())
		return
	}

	thresholds := intelligence.DefaultThresholds()
	thresholds.MaxChangedRanges = req.MaxChangedRanges
	thresholds.FullRewriteRatio = req.FullRewriteRatio
	thresholds.StyleRecomputeChars = req.StyleRecomputeChars
	thresholds.StructuralRebuildChars = req.StructuralRebuildChars
	h.SessionService.UpdateThresholds(thresholds)

	if req.DebounceMS > 0 {
		h.SessionService.SetDebounceWindow(time.Duration(req.DebounceMS) * time.Millisecond)
	}

	h.Response.Success(c, config.GetCurrentConfig().Processing, "设置已保存")
}
