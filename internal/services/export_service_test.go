// internal/services/export_service_test.go
package services

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	apperrors "github.com/inkmind/ManuscriptMind/internal/errors"
)

func newExportService(t *testing.T, chapters *ChapterService, sessions *SessionService) *ExportService {
	t.Helper()
	return NewExportService(chapters, sessions, t.TempDir())
}

func TestExportService_ExportChapterMarkdown(t *testing.T) {
	chapters, sessions, _, _ := newServiceStack(t)
	exports := newExportService(t, chapters, sessions)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	result, err := exports.ExportChapter(context.Background(), chapter.ID, "markdown", true)
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	if result.Format != "markdown" || result.ExportType != "chapter" {
		t.Errorf("导出元数据不正确: %+v", result)
	}
	if !strings.Contains(result.Content, "# "+chapter.Title) {
		t.Error("Markdown导出应包含章节标题")
	}
	if !strings.Contains(result.Content, "## 正文") {
		t.Error("Markdown导出应包含正文区块")
	}
	if !strings.Contains(result.Content, "Aria Voss") {
		t.Error("导出内容应包含原文")
	}
	if result.Stats == nil || result.Stats.SceneCount == 0 {
		t.Error("附带分析时应包含场景统计")
	}
	if result.Summary == "" {
		t.Error("应生成自然语言摘要")
	}

	// 导出文件应已落盘
	if result.FilePath == "" || result.FileSize <= 0 {
		t.Fatalf("导出文件信息不完整: %+v", result)
	}
	if !strings.HasSuffix(result.FilePath, ".md") {
		t.Errorf("Markdown导出应使用.md扩展名: %s", result.FilePath)
	}
	data, err := os.ReadFile(result.FilePath)
	if err != nil {
		t.Fatalf("读取导出文件失败: %v", err)
	}
	if string(data) != result.Content {
		t.Error("落盘内容应与返回内容一致")
	}
}

func TestExportService_ExportChapterJSON(t *testing.T) {
	chapters, sessions, _, _ := newServiceStack(t)
	exports := newExportService(t, chapters, sessions)
	chapter := seedChapter(t, chapters, sampleText)

	result, err := exports.ExportChapter(context.Background(), chapter.ID, "json", false)
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("JSON导出内容应可解析: %v", err)
	}
	if _, ok := payload["chapter_info"]; !ok {
		t.Error("JSON导出应包含 chapter_info")
	}
	if _, ok := payload["intelligence"]; ok {
		t.Error("未请求分析时不应附带智能快照")
	}

	// 没有分析快照时导出仍可用
	if result.Stats == nil || result.Stats.WordCount != chapter.WordCount {
		t.Errorf("字数统计不正确: %+v", result.Stats)
	}
}

func TestExportService_ExportChapterValidation(t *testing.T) {
	chapters, sessions, _, _ := newServiceStack(t)
	exports := newExportService(t, chapters, sessions)

	if _, err := exports.ExportChapter(context.Background(), "", "markdown", false); !apperrors.IsValidationError(err) {
		t.Errorf("空章节ID应返回校验错误, got %v", err)
	}
	if _, err := exports.ExportChapter(context.Background(), "ch_x", "pdf", false); !apperrors.IsValidationError(err) {
		t.Errorf("不支持的格式应返回校验错误, got %v", err)
	}

	chapter := seedChapter(t, chapters, sampleText)
	if _, err := exports.ExportChapter(context.Background(), chapter.ID+"_missing", "txt", false); !apperrors.IsNotFoundError(err) {
		t.Errorf("不存在的章节应返回未找到错误, got %v", err)
	}
}

func TestExportService_ExportProjectAsDocument(t *testing.T) {
	chapters, sessions, _, _ := newServiceStack(t)
	exports := newExportService(t, chapters, sessions)

	project, err := chapters.CreateProject("远航", "海雾中的三部曲")
	if err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	if _, err := chapters.CreateChapter(project.ID, "第一章", sampleText); err != nil {
		t.Fatalf("创建章节失败: %v", err)
	}
	if _, err := chapters.CreateChapter(project.ID, "第二章", "The search continued at dawn."); err != nil {
		t.Fatalf("创建章节失败: %v", err)
	}

	result, err := exports.ExportProjectAsDocument(context.Background(), project.ID, "markdown")
	if err != nil {
		t.Fatalf("导出项目失败: %v", err)
	}

	if result.ExportType != "project" || result.ProjectID != project.ID {
		t.Errorf("导出元数据不正确: %+v", result)
	}
	if result.Stats == nil || result.Stats.ChapterCount != 2 {
		t.Errorf("章节数统计不正确: %+v", result.Stats)
	}
	first := strings.Index(result.Content, "## 第一章")
	second := strings.Index(result.Content, "## 第二章")
	if first < 0 || second < 0 || first > second {
		t.Error("章节应按排序号依次出现")
	}
	if !strings.Contains(result.Content, "海雾中的三部曲") {
		t.Error("项目描述应出现在文稿头部")
	}
}
