// internal/models/context.go
package models

import (
	"time"
)

// PromptContext 围绕光标组装的手稿上下文
// 供外部AI续写/改写时作为提示词素材，按预算裁剪
type PromptContext struct {
	ChapterID    string          `json:"chapter_id"`
	Cursor       int             `json:"cursor"`
	Scene        *SceneContext   `json:"scene,omitempty"`
	Excerpt      string          `json:"excerpt,omitempty"` // 光标附近的原文片段
	Entities     []EntityContext `json:"entities,omitempty"`
	OpenPromises []PlotPromise   `json:"open_promises,omitempty"`
	RecentEvents []TimelineEvent `json:"recent_events,omitempty"`
	Voice        *VoiceProfile   `json:"voice,omitempty"` // 当前POV的声纹
	Pacing       string          `json:"pacing,omitempty"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// SceneContext 光标所在场景的摘要
type SceneContext struct {
	Index      int       `json:"index"`
	Type       SceneType `json:"type"`
	POV        string    `json:"pov,omitempty"`
	Location   string    `json:"location,omitempty"`
	TimeMarker string    `json:"time_marker,omitempty"`
	Tension    float64   `json:"tension"`
}

// EntityContext 上下文中激活的实体及其关系
type EntityContext struct {
	Node          EntityNode   `json:"node"`
	Distance      int          `json:"distance"` // 最近一次提及到光标的字符距离
	Relationships []EntityEdge `json:"relationships,omitempty"`
}
