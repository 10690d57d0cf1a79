// internal/models/timeline.go
package models

// RelativePosition 事件相对于叙事当前时刻的位置
type RelativePosition string

const (
	PositionBefore     RelativePosition = "before"
	PositionAfter      RelativePosition = "after"
	PositionConcurrent RelativePosition = "concurrent"
	PositionUnknown    RelativePosition = "unknown"
)

// TimelineEvent 时间线上的一个事件
type TimelineEvent struct {
	ID             string           `json:"id"`
	Offset         int              `json:"offset"`
	Description    string           `json:"description"`
	TemporalMarker string           `json:"temporal_marker,omitempty"`
	Position       RelativePosition `json:"position"`
	DependsOn      []string         `json:"depends_on,omitempty"` // 依赖事件ID
}

// CausalLink 因果链：原因事件 → 结果事件
type CausalLink struct {
	CauseID    string  `json:"cause_id"`
	EffectID   string  `json:"effect_id"`
	Confidence float64 `json:"confidence"` // 0.0-1.0
	Connective string  `json:"connective"` // 触发识别的连接词
}

// PromiseType 伏笔的类型
type PromiseType string

const (
	PromiseForeshadowing PromiseType = "foreshadowing"
	PromiseSetup         PromiseType = "setup"
	PromiseQuestion      PromiseType = "question"
)

// PlotPromise 叙事伏笔：埋设后跟踪至回收
type PlotPromise struct {
	ID       string      `json:"id"`
	Type     PromiseType `json:"type"`
	Quote    string      `json:"quote"`
	Offset   int         `json:"offset"`
	Resolved bool        `json:"resolved"`
}

// TimelineAnalysis 时间线分析结果
type TimelineAnalysis struct {
	Events   []TimelineEvent `json:"events"`
	Causal   []CausalLink    `json:"causal_chains"`
	Promises []PlotPromise   `json:"promises"`
}

// OpenPromises 返回所有未回收的伏笔
func (t *TimelineAnalysis) OpenPromises() []PlotPromise {
	var open []PlotPromise
	for _, p := range t.Promises {
		if !p.Resolved {
			open = append(open, p)
		}
	}
	return open
}
