// internal/models/export.go
package models

import (
	"time"
)

// ExportResult 导出结果
type ExportResult struct {
	ChapterID   string                 `json:"chapter_id,omitempty"`
	ProjectID   string                 `json:"project_id,omitempty"`
	Title       string                 `json:"title"`
	Format      string                 `json:"format"`
	Content     string                 `json:"content"`
	GeneratedAt time.Time              `json:"generated_at"`
	ExportType  string                 `json:"export_type"`
	Summary     string                 `json:"summary"`
	FilePath    string                 `json:"file_path"` // 导出文件路径
	FileSize    int64                  `json:"file_size"` // 文件大小
	Stats       *ManuscriptExportStats `json:"stats,omitempty"`
}

// ManuscriptExportStats 手稿导出统计
type ManuscriptExportStats struct {
	WordCount        int     `json:"word_count"`
	SceneCount       int     `json:"scene_count"`
	ParagraphCount   int     `json:"paragraph_count"`
	DialogueRatio    float64 `json:"dialogue_ratio"`
	EntityCount      int     `json:"entity_count"`
	EventCount       int     `json:"event_count"`
	OpenPromiseCount int     `json:"open_promise_count"`
	StyleFlagCount   int     `json:"style_flag_count"`
	VoiceAlertCount  int     `json:"voice_alert_count"`
	ChapterCount     int     `json:"chapter_count,omitempty"` // 项目级导出才有
}
