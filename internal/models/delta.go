// internal/models/delta.go
package models

import "time"

// ChangeType 表示一次文本变更的类型
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeDelete ChangeType = "delete"
	ChangeModify ChangeType = "modify"
)

// TextRange 表示文本中的一个字符偏移区间 [Start, End)
type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Length 返回区间长度
func (r TextRange) Length() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains 检查偏移是否落在区间内（含起点，不含终点）
func (r TextRange) Contains(offset int) bool {
	return offset >= r.Start && offset < r.End
}

// ChangedRange 表示一次编辑产生的单个变更区间
type ChangedRange struct {
	TextRange
	ChangeType ChangeType `json:"change_type"`
	OldText    string     `json:"old_text,omitempty"`
	NewText    string     `json:"new_text,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ManuscriptDelta 表示两个文本版本之间的变更记录
// 每次编辑通知都会创建一个新的 delta，仅作为快照的一部分持久化
type ManuscriptDelta struct {
	ChapterID           string         `json:"chapter_id"`
	ChangedRanges       []ChangedRange `json:"changed_ranges"`
	InvalidatedSections []TextRange    `json:"invalidated_sections,omitempty"`
	AffectedEntities    []string       `json:"affected_entities,omitempty"` // 被变更波及的实体节点ID
	NewPromises         []string       `json:"new_promises,omitempty"`
	ResolvedPromises    []string       `json:"resolved_promises,omitempty"`
	ContentHash         string         `json:"content_hash"` // 新文本的指纹
	ProcessedAt         time.Time      `json:"processed_at"`
}

// IsEmpty 检查 delta 是否不包含任何有效变更
func (d *ManuscriptDelta) IsEmpty() bool {
	return d == nil || len(d.ChangedRanges) == 0
}

// ChangedVolume 返回变更字符总量（每个区间取新旧文本长度的较大值）
func (d *ManuscriptDelta) ChangedVolume() int {
	total := 0
	for _, r := range d.ChangedRanges {
		oldLen := len(r.OldText)
		newLen := len(r.NewText)
		if oldLen > newLen {
			total += oldLen
		} else {
			total += newLen
		}
	}
	return total
}
