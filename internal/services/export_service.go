// internal/services/export_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/inkmind/ManuscriptMind/internal/errors"
	"github.com/inkmind/ManuscriptMind/internal/models"
)

// ExportService 将章节正文和分析结果导出为可下载的文档
type ExportService struct {
	ChapterService *ChapterService
	SessionService *SessionService
	dataDir        string
}

func NewExportService(chapterService *ChapterService, sessionService *SessionService, dataDir string) *ExportService {
	return &ExportService{
		ChapterService: chapterService,
		SessionService: sessionService,
		dataDir:        dataDir,
	}
}

var supportedExportFormats = []string{"json", "markdown", "txt"}

func isSupportedExportFormat(format string) bool {
	for _, f := range supportedExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ExportChapter 导出单个章节
// includeAnalysis 为 true 时附带当前分析快照的摘要
func (s *ExportService) ExportChapter(ctx context.Context, chapterID string, format string, includeAnalysis bool) (*models.ExportResult, error) {
	if chapterID == "" {
		return nil, apperrors.NewValidationError("章节ID不能为空", nil)
	}

	format = strings.ToLower(format)
	if !isSupportedExportFormat(format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, supportedExportFormats), nil)
	}

	chapter, err := s.ChapterService.GetChapter(chapterID)
	if err != nil {
		return nil, fmt.Errorf("加载章节失败: %w", err)
	}

	// 分析快照可选：没有快照不阻塞导出
	var intel *models.ManuscriptIntelligence
	if includeAnalysis && s.SessionService != nil {
		intel, _ = s.SessionService.GetIntelligence(chapterID)
	}

	stats := s.analyzeManuscriptStatistics(chapter, intel)
	summary := s.generateManuscriptSummary(chapter, intel, stats)

	content, err := s.formatChapterContent(chapter, intel, summary, stats, format)
	if err != nil {
		return nil, fmt.Errorf("格式化导出内容失败: %w", err)
	}

	result := &models.ExportResult{
		ChapterID:   chapterID,
		ProjectID:   chapter.ProjectID,
		Title:       chapter.Title,
		Format:      format,
		Content:     content,
		GeneratedAt: time.Now(),
		ExportType:  "chapter",
		Summary:     summary,
		Stats:       stats,
	}

	filePath, fileSize, err := s.saveExportToDataDir(result)
	if err != nil {
		return nil, fmt.Errorf("保存导出文件失败: %w", err)
	}

	result.FilePath = filePath
	result.FileSize = fileSize

	return result, nil
}

// ExportProjectAsDocument 按排序号拼装项目全部章节为一份完整文稿
func (s *ExportService) ExportProjectAsDocument(ctx context.Context, projectID string, format string) (*models.ExportResult, error) {
	if projectID == "" {
		return nil, apperrors.NewValidationError("项目ID不能为空", nil)
	}

	format = strings.ToLower(format)
	if !isSupportedExportFormat(format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, supportedExportFormats), nil)
	}

	project, err := s.ChapterService.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("加载项目失败: %w", err)
	}

	metas, err := s.ChapterService.ListChapters(projectID)
	if err != nil {
		return nil, fmt.Errorf("读取章节列表失败: %w", err)
	}

	chapters := make([]*models.Chapter, 0, len(metas))
	for _, meta := range metas {
		chapter, err := s.ChapterService.GetChapter(meta.ID)
		if err != nil {
			return nil, fmt.Errorf("加载章节 %s 失败: %w", meta.ID, err)
		}
		chapters = append(chapters, chapter)
	}

	stats := s.analyzeProjectStatistics(chapters)
	summary := fmt.Sprintf("《%s》共 %d 章、%d 字。", project.Title, stats.ChapterCount, stats.WordCount)

	content, err := s.formatProjectContent(project, chapters, summary, stats, format)
	if err != nil {
		return nil, fmt.Errorf("格式化导出内容失败: %w", err)
	}

	result := &models.ExportResult{
		ProjectID:   projectID,
		Title:       project.Title,
		Format:      format,
		Content:     content,
		GeneratedAt: time.Now(),
		ExportType:  "project",
		Summary:     summary,
		Stats:       stats,
	}

	filePath, fileSize, err := s.saveExportToDataDir(result)
	if err != nil {
		return nil, fmt.Errorf("保存导出文件失败: %w", err)
	}

	result.FilePath = filePath
	result.FileSize = fileSize

	return result, nil
}

// analyzeManuscriptStatistics 汇总章节级统计
func (s *ExportService) analyzeManuscriptStatistics(chapter *models.Chapter, intel *models.ManuscriptIntelligence) *models.ManuscriptExportStats {
	stats := &models.ManuscriptExportStats{
		WordCount: chapter.WordCount,
	}
	if intel == nil {
		return stats
	}

	if intel.Structural != nil {
		stats.SceneCount = intel.Structural.Stats.SceneCount
		stats.ParagraphCount = intel.Structural.Stats.ParagraphCount
		stats.DialogueRatio = intel.Structural.Stats.DialogueRatio
	}
	if intel.Entities != nil {
		stats.EntityCount = len(intel.Entities.Nodes)
	}
	if intel.Timeline != nil {
		stats.EventCount = len(intel.Timeline.Events)
		stats.OpenPromiseCount = len(intel.Timeline.OpenPromises())
	}
	if intel.Style != nil {
		stats.StyleFlagCount = len(intel.Style.Flags)
	}
	if intel.Voice != nil {
		stats.VoiceAlertCount = len(intel.Voice.Alerts)
	}
	return stats
}

func (s *ExportService) analyzeProjectStatistics(chapters []*models.Chapter) *models.ManuscriptExportStats {
	stats := &models.ManuscriptExportStats{
		ChapterCount: len(chapters),
	}
	for _, chapter := range chapters {
		stats.WordCount += chapter.WordCount
	}
	return stats
}

// generateManuscriptSummary 生成自然语言摘要
func (s *ExportService) generateManuscriptSummary(chapter *models.Chapter, intel *models.ManuscriptIntelligence, stats *models.ManuscriptExportStats) string {
	var summary strings.Builder

	summary.WriteString(fmt.Sprintf("《%s》共 %d 字", chapter.Title, stats.WordCount))
	if stats.SceneCount > 0 {
		summary.WriteString(fmt.Sprintf("，分 %d 个场景、%d 个段落", stats.SceneCount, stats.ParagraphCount))
	}
	summary.WriteString("。")

	if intel == nil {
		summary.WriteString("尚未生成分析快照。")
		return summary.String()
	}

	if stats.EntityCount > 0 {
		summary.WriteString(fmt.Sprintf("出场实体 %d 个。", stats.EntityCount))
	}
	if stats.EventCount > 0 {
		summary.WriteString(fmt.Sprintf("时间线事件 %d 个", stats.EventCount))
		if stats.OpenPromiseCount > 0 {
			summary.WriteString(fmt.Sprintf("，其中 %d 个伏笔尚未回收", stats.OpenPromiseCount))
		}
		summary.WriteString("。")
	}
	if stats.StyleFlagCount > 0 || stats.VoiceAlertCount > 0 {
		summary.WriteString(fmt.Sprintf("待处理问题：文体标记 %d 类、声纹告警 %d 条。",
			stats.StyleFlagCount, stats.VoiceAlertCount))
	}

	return summary.String()
}

func (s *ExportService) formatChapterContent(
	chapter *models.Chapter,
	intel *models.ManuscriptIntelligence,
	summary string,
	stats *models.ManuscriptExportStats,
	format string) (string, error) {

	switch format {
	case "json":
		return s.formatChapterAsJSON(chapter, intel, summary, stats)
	case "markdown":
		return s.formatChapterAsMarkdown(chapter, intel, summary, stats), nil
	case "txt":
		return s.formatChapterAsText(chapter, summary), nil
	default:
		return "", fmt.Errorf("不支持的格式: %s", format)
	}
}

// formatChapterAsJSON JSON格式导出
func (s *ExportService) formatChapterAsJSON(
	chapter *models.Chapter,
	intel *models.ManuscriptIntelligence,
	summary string,
	stats *models.ManuscriptExportStats) (string, error) {

	exportData := map[string]interface{}{
		"chapter_info": map[string]interface{}{
			"id":           chapter.ID,
			"project_id":   chapter.ProjectID,
			"title":        chapter.Title,
			"order_index":  chapter.OrderIndex,
			"word_count":   chapter.WordCount,
			"content_hash": chapter.ContentHash,
			"created_at":   chapter.CreatedAt.Format("2006-01-02 15:04:05"),
		},
		"summary":    summary,
		"statistics": stats,
		"text":       chapter.Text,
		"export_info": map[string]interface{}{
			"generated_at": time.Now().Format("2006-01-02 15:04:05"),
			"format":       "json",
			"version":      "1.0",
		},
	}
	if intel != nil {
		exportData["intelligence"] = intel
	}

	jsonData, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("JSON序列化失败: %w", err)
	}

	return string(jsonData), nil
}

// formatChapterAsMarkdown Markdown格式导出
func (s *ExportService) formatChapterAsMarkdown(
	chapter *models.Chapter,
	intel *models.ManuscriptIntelligence,
	summary string,
	stats *models.ManuscriptExportStats) string {

	var content strings.Builder

	content.WriteString(fmt.Sprintf("# %s\n\n", chapter.Title))
	content.WriteString(fmt.Sprintf("> %s\n\n", summary))

	content.WriteString("## 统计\n\n")
	content.WriteString(fmt.Sprintf("- 字数: %d\n", stats.WordCount))
	if stats.SceneCount > 0 {
		content.WriteString(fmt.Sprintf("- 场景: %d\n", stats.SceneCount))
		content.WriteString(fmt.Sprintf("- 段落: %d\n", stats.ParagraphCount))
		content.WriteString(fmt.Sprintf("- 对话占比: %.0f%%\n", stats.DialogueRatio*100))
	}
	if stats.EntityCount > 0 {
		content.WriteString(fmt.Sprintf("- 实体: %d\n", stats.EntityCount))
	}
	if stats.EventCount > 0 {
		content.WriteString(fmt.Sprintf("- 时间线事件: %d (未回收伏笔 %d)\n", stats.EventCount, stats.OpenPromiseCount))
	}
	content.WriteString("\n")

	if intel != nil && intel.Structural != nil && len(intel.Structural.Scenes) > 0 {
		content.WriteString("## 场景结构\n\n")
		for i, scene := range intel.Structural.Scenes {
			line := fmt.Sprintf("%d. [%s] %d 字，张力 %.2f", i+1, scene.Type, scene.WordCount, scene.Tension)
			if scene.POV != "" {
				line += fmt.Sprintf("，视角 %s", scene.POV)
			}
			if scene.Location != "" {
				line += fmt.Sprintf("，地点 %s", scene.Location)
			}
			content.WriteString(line + "\n")
		}
		content.WriteString("\n")
	}

	if intel != nil && intel.Timeline != nil {
		open := intel.Timeline.OpenPromises()
		if len(open) > 0 {
			content.WriteString("## 未回收伏笔\n\n")
			for _, promise := range open {
				content.WriteString(fmt.Sprintf("- (%s) %s\n", promise.Type, promise.Quote))
			}
			content.WriteString("\n")
		}
	}

	content.WriteString("## 正文\n\n")
	content.WriteString(chapter.Text)
	content.WriteString("\n\n---\n")
	content.WriteString(fmt.Sprintf("*导出时间: %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	return content.String()
}

// formatChapterAsText 纯文本导出
func (s *ExportService) formatChapterAsText(chapter *models.Chapter, summary string) string {
	var content strings.Builder

	content.WriteString(chapter.Title + "\n")
	content.WriteString(strings.Repeat("=", 40) + "\n\n")
	content.WriteString(summary + "\n\n")
	content.WriteString(chapter.Text)
	content.WriteString("\n")

	return content.String()
}

func (s *ExportService) formatProjectContent(
	project *models.Project,
	chapters []*models.Chapter,
	summary string,
	stats *models.ManuscriptExportStats,
	format string) (string, error) {

	switch format {
	case "json":
		exportData := map[string]interface{}{
			"project_info": map[string]interface{}{
				"id":          project.ID,
				"title":       project.Title,
				"description": project.Description,
				"created_at":  project.CreatedAt.Format("2006-01-02 15:04:05"),
			},
			"summary":    summary,
			"statistics": stats,
			"chapters":   chapters,
			"export_info": map[string]interface{}{
				"generated_at": time.Now().Format("2006-01-02 15:04:05"),
				"format":       "json",
				"version":      "1.0",
			},
		}
		jsonData, err := json.MarshalIndent(exportData, "", "  ")
		if err != nil {
			return "", fmt.Errorf("JSON序列化失败: %w", err)
		}
		return string(jsonData), nil
	case "markdown":
		var content strings.Builder
		content.WriteString(fmt.Sprintf("# %s\n\n", project.Title))
		if project.Description != "" {
			content.WriteString(fmt.Sprintf("> %s\n\n", project.Description))
		}
		content.WriteString(summary + "\n\n")
		for _, chapter := range chapters {
			content.WriteString(fmt.Sprintf("## %s\n\n", chapter.Title))
			content.WriteString(chapter.Text)
			content.WriteString("\n\n")
		}
		content.WriteString("---\n")
		content.WriteString(fmt.Sprintf("*导出时间: %s*\n", time.Now().Format("2006-01-02 15:04:05")))
		return content.String(), nil
	case "txt":
		var content strings.Builder
		content.WriteString(project.Title + "\n")
		content.WriteString(strings.Repeat("=", 40) + "\n\n")
		for _, chapter := range chapters {
			content.WriteString(chapter.Title + "\n")
			content.WriteString(strings.Repeat("-", 40) + "\n\n")
			content.WriteString(chapter.Text)
			content.WriteString("\n\n")
		}
		return content.String(), nil
	default:
		return "", fmt.Errorf("不支持的格式: %s", format)
	}
}

func (s *ExportService) saveExportToDataDir(result *models.ExportResult) (string, int64, error) {
	exportDir := filepath.Join(s.dataDir, "exports", result.ExportType+"s")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", 0, fmt.Errorf("创建导出目录失败: %w", err)
	}

	sourceID := result.ChapterID
	if result.ExportType == "project" {
		sourceID = result.ProjectID
	}

	timestamp := result.GeneratedAt.Format("20060102_150405")
	fileName := fmt.Sprintf("%s_%s_%s.%s", sourceID, result.ExportType, timestamp, exportFileExtension(result.Format))

	filePath := filepath.Join(exportDir, fileName)

	if err := os.WriteFile(filePath, []byte(result.Content), 0644); err != nil {
		return "", 0, fmt.Errorf("写入导出文件失败: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("获取文件信息失败: %w", err)
	}

	return filePath, fileInfo.Size(), nil
}

func exportFileExtension(format string) string {
	if format == "markdown" {
		return "md"
	}
	return format
}
