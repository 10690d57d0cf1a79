// internal/models/intelligence.go
package models

import "time"

// ProcessingTier 表示快照底层数据的新鲜度/成本标签
// 由调用方设置，本组件只透传
type ProcessingTier string

const (
	TierInstant    ProcessingTier = "instant"
	TierDebounced  ProcessingTier = "debounced"
	TierBackground ProcessingTier = "background"
	TierOnDemand   ProcessingTier = "on-demand"
)

// HUDIssue HUD中按严重度和光标距离排序的问题条目
type HUDIssue struct {
	Kind     string  `json:"kind"` // style | promise | voice
	Message  string  `json:"message"`
	Offset   int     `json:"offset"`
	Severity float64 `json:"severity"`
}

// ManuscriptHUD 光标相关的手稿态势摘要，供UI和agent低成本消费
type ManuscriptHUD struct {
	SceneIndex        int             `json:"scene_index"` // -1 表示光标不在任何场景内
	SceneType         SceneType       `json:"scene_type,omitempty"`
	POV               string          `json:"pov,omitempty"`
	Location          string          `json:"location,omitempty"`
	ParagraphIndex    int             `json:"paragraph_index"`
	NarrativePosition float64         `json:"narrative_position"` // 0.0-1.0
	Pacing            string          `json:"pacing"`             // slow | steady | brisk
	Tension           float64         `json:"tension"`
	Issues            []HUDIssue      `json:"issues,omitempty"`
	Stats             StructuralStats `json:"stats"`
	OpenPromiseCount  int             `json:"open_promise_count"`
	ProcessingTier    ProcessingTier  `json:"processing_tier"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// ManuscriptIntelligence 手稿智能快照
// 由增量处理器独占产出；一经产出即不可变——每次更新生成新的快照值，
// 绝不原地修改，UI和agent持有引用是安全的
type ManuscriptIntelligence struct {
	ChapterID  string              `json:"chapter_id"`
	Structural *StructuralAnalysis `json:"structural"`
	Entities   *EntityGraph        `json:"entities"`
	Timeline   *TimelineAnalysis   `json:"timeline"`
	Style      *StyleAnalysis      `json:"style"`
	Voice      *VoiceAnalysis      `json:"voice"`
	Heatmap    *Heatmap            `json:"heatmap"`
	Delta      *ManuscriptDelta    `json:"delta"` // 最近一次变更记录，供消费方审计
	HUD        *ManuscriptHUD      `json:"hud"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ContentHash 返回快照所描述文本的指纹，快照无 delta 时为空
func (m *ManuscriptIntelligence) ContentHash() string {
	if m == nil || m.Delta == nil {
		return ""
	}
	return m.Delta.ContentHash
}

// FullReprocessReason 处理统计中记录强制全量重建的原因
const (
	ReasonMajorityScenes      = "majority-scenes-affected"
	ReasonChangeSizeThreshold = "change-size-threshold"
	ReasonMajorityEntities    = "majority-entities-affected"
	ReasonTooManyRanges       = "too-many-changed-ranges"
	ReasonContractViolation   = "contract-violation"
	ReasonNoPrevSnapshot      = "no-previous-snapshot"
)

// ProcessingStats 单次处理的复用/重算统计，用于观测和调参
type ProcessingStats struct {
	Incremental         bool   `json:"incremental"`
	ScenesReprocessed   int    `json:"scenes_reprocessed"`
	ScenesReused        int    `json:"scenes_reused"`
	EntitiesUpdated     int    `json:"entities_updated"`
	EntitiesReused      int    `json:"entities_reused"`
	StyleRecomputed     bool   `json:"style_recomputed"`
	FullReprocessReason string `json:"full_reprocess_reason,omitempty"`
	ChangedRangeCount   int    `json:"changed_range_count"`
	ChangedVolume       int    `json:"changed_volume"`
	DurationMS          int64  `json:"duration_ms"`
}
