// internal/models/structure.go
package models

// ElementKind 结构元素的标签类型（场景 | 段落 | 对话行）
// 在解析边界一次性校验，避免在合并逻辑深处做形状检查
type ElementKind string

const (
	ElementScene     ElementKind = "scene"
	ElementParagraph ElementKind = "paragraph"
	ElementDialogue  ElementKind = "dialogue"
)

// SceneType 表示场景的叙事类型
type SceneType string

const (
	SceneAction      SceneType = "action"
	SceneDialogue    SceneType = "dialogue"
	SceneDescription SceneType = "description"
	SceneTransition  SceneType = "transition"
	SceneMixed       SceneType = "mixed"
)

// StructuralScene 表示手稿中的一个场景
type StructuralScene struct {
	TextRange
	Kind       ElementKind `json:"kind"`
	Type       SceneType   `json:"type"`
	POV        string      `json:"pov,omitempty"`      // 叙事视角（轻量重解析不重算）
	Location   string      `json:"location,omitempty"` // 场景地点（轻量重解析不重算）
	TimeMarker string      `json:"time_marker,omitempty"`
	Tension    float64     `json:"tension"` // 0.0-1.0
	WordCount  int         `json:"word_count"`
}

// StructuralParagraph 表示一个段落
type StructuralParagraph struct {
	TextRange
	Kind          ElementKind `json:"kind"`
	SentenceCount int         `json:"sentence_count"`
	WordCount     int         `json:"word_count"`
	IsDialogue    bool        `json:"is_dialogue"`
}

// DialogueLine 表示一句对话
type DialogueLine struct {
	TextRange
	Kind    ElementKind `json:"kind"`
	Speaker string      `json:"speaker,omitempty"` // 归属说话人，可能为空
	Text    string      `json:"text"`
}

// StructuralStats 全文的结构统计
type StructuralStats struct {
	WordCount      int     `json:"word_count"`
	SentenceCount  int     `json:"sentence_count"`
	ParagraphCount int     `json:"paragraph_count"`
	SceneCount     int     `json:"scene_count"`
	DialogueRatio  float64 `json:"dialogue_ratio"` // 对话字数占比 0.0-1.0
}

// StructuralAnalysis 结构分析结果：场景按 StartOffset 升序排列
type StructuralAnalysis struct {
	Scenes     []StructuralScene     `json:"scenes"`
	Paragraphs []StructuralParagraph `json:"paragraphs"`
	Dialogue   []DialogueLine        `json:"dialogue"`
	Stats      StructuralStats       `json:"stats"`
}

// SceneAt 返回包含给定偏移的场景索引，未命中返回 -1
// 场景有序，使用二分查找
func (a *StructuralAnalysis) SceneAt(offset int) int {
	lo, hi := 0, len(a.Scenes)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		s := a.Scenes[mid]
		switch {
		case offset < s.Start:
			hi = mid - 1
		case offset >= s.End:
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}
