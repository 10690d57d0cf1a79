// internal/intelligence/timeline.go
package intelligence

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// TimelineTracker 从当前结构和实体状态重推时间线
// 事件和伏笔的扫描成本低，每次处理都完整重算以保证正确性
type TimelineTracker interface {
	Track(text string, structural *models.StructuralAnalysis, entities *models.EntityGraph) (*models.TimelineAnalysis, error)
}

// HeuristicTimelineTracker 基于时间标记词和因果连接词的默认时间线跟踪器
type HeuristicTimelineTracker struct{}

// NewTimelineTracker 创建默认时间线跟踪器
func NewTimelineTracker() *HeuristicTimelineTracker {
	return &HeuristicTimelineTracker{}
}

var (
	causalRe = regexp.MustCompile(`(?i)\b(because|therefore|as a result|so that|consequently|which meant|thanks to)\b`)

	// 连接词到置信度：显式因果词高，弱暗示词低
	causalConfidence = map[string]float64{
		"because":      0.9,
		"therefore":    0.85,
		"as a result":  0.85,
		"consequently": 0.8,
		"so that":      0.7,
		"which meant":  0.6,
		"thanks to":    0.6,
	}

	promiseRes = []struct {
		re  *regexp.Regexp
		typ models.PromiseType
	}{
		{regexp.MustCompile(`(?i)[^.!?\n]*\blittle did \w+ know\b[^.!?\n]*[.!?]?`), models.PromiseForeshadowing},
		{regexp.MustCompile(`(?i)[^.!?\n]*\bwould (?:come to|soon|one day|later|never)\b[^.!?\n]*[.!?]?`), models.PromiseForeshadowing},
		{regexp.MustCompile(`(?i)[^.!?\n]*\b(?:promised|swore|vowed)\b[^.!?\n]*[.!?]?`), models.PromiseSetup},
		{regexp.MustCompile(`(?i)[^.!?\n]*\b(?:someday|one day)\b[^.!?\n]*[.!?]?`), models.PromiseSetup},
		{regexp.MustCompile(`(?i)[^.!?\n]*\bno one (?:knew|suspected|noticed)\b[^.!?\n]*[.!?]?`), models.PromiseQuestion},
	}

	resolutionRe = regexp.MustCompile(`(?i)\b(finally|at last|as promised|fulfilled|kept (?:his|her|their) word|came to pass)\b`)
)

// Track 重建时间线：时间标记事件、因果链、伏笔及其回收状态
func (t *HeuristicTimelineTracker) Track(text string, structural *models.StructuralAnalysis, entities *models.EntityGraph) (*models.TimelineAnalysis, error) {
	analysis := &models.TimelineAnalysis{
		Events:   []models.TimelineEvent{},
		Causal:   []models.CausalLink{},
		Promises: []models.PlotPromise{},
	}
	if strings.TrimSpace(text) == "" {
		return analysis, nil
	}

	sentences := splitSentences(text)
	seq := 0
	eventAtSentence := make(map[int]string) // 句子索引 → 事件ID

	// 时间标记词所在句子成为事件
	for si, sent := range sentences {
		body := text[sent.Start:sent.End]
		marker := timeMarkerRe.FindString(body)
		if marker == "" {
			continue
		}
		ev := models.TimelineEvent{
			ID:             fmt.Sprintf("ev-%04d", seq),
			Offset:         sent.Start,
			Description:    trimEvidence(body),
			TemporalMarker: marker,
			Position:       classifyPosition(marker),
		}
		seq++
		analysis.Events = append(analysis.Events, ev)
		eventAtSentence[si] = ev.ID
	}

	// 每个场景的开头也是叙事节点
	if structural != nil {
		for _, scene := range structural.Scenes {
			desc := sceneOpening(text, scene)
			if desc == "" {
				continue
			}
			ev := models.TimelineEvent{
				ID:          fmt.Sprintf("ev-%04d", seq),
				Offset:      scene.Start,
				Description: desc,
				Position:    models.PositionUnknown,
			}
			if scene.TimeMarker != "" {
				ev.TemporalMarker = scene.TimeMarker
				ev.Position = classifyPosition(scene.TimeMarker)
			}
			seq++
			analysis.Events = append(analysis.Events, ev)
		}
	}

	sort.Slice(analysis.Events, func(i, j int) bool {
		return analysis.Events[i].Offset < analysis.Events[j].Offset
	})

	analysis.Causal = t.extractCausal(text, sentences, analysis, &seq)
	analysis.Promises = t.extractPromises(text)
	return analysis, nil
}

// extractCausal 含因果连接词的句子切成原因/结果两个事件并连边
func (t *HeuristicTimelineTracker) extractCausal(text string, sentences []sentenceSpan, analysis *models.TimelineAnalysis, seq *int) []models.CausalLink {
	var links []models.CausalLink
	for _, sent := range sentences {
		body := text[sent.Start:sent.End]
		loc := causalRe.FindStringIndex(body)
		if loc == nil {
			continue
		}
		connective := strings.ToLower(body[loc[0]:loc[1]])
		first := strings.TrimSpace(body[:loc[0]])
		second := strings.TrimSpace(body[loc[1]:])
		if first == "" || second == "" {
			continue
		}

		// "because" 引导的是原因从句，其余连接词前句为因
		causeText, effectText := first, second
		causeOff, effectOff := sent.Start, sent.Start+loc[1]
		if connective == "because" || connective == "thanks to" {
			causeText, effectText = second, first
			causeOff, effectOff = sent.Start+loc[1], sent.Start
		}

		cause := models.TimelineEvent{
			ID:          fmt.Sprintf("ev-%04d", *seq),
			Offset:      causeOff,
			Description: trimEvidence(causeText),
			Position:    models.PositionBefore,
		}
		*seq++
		effect := models.TimelineEvent{
			ID:          fmt.Sprintf("ev-%04d", *seq),
			Offset:      effectOff,
			Description: trimEvidence(effectText),
			Position:    models.PositionAfter,
			DependsOn:   []string{cause.ID},
		}
		*seq++
		analysis.Events = append(analysis.Events, cause, effect)

		confidence := causalConfidence[connective]
		if confidence == 0 {
			confidence = 0.5
		}
		links = append(links, models.CausalLink{
			CauseID:    cause.ID,
			EffectID:   effect.ID,
			Confidence: confidence,
			Connective: connective,
		})
	}
	return links
}

// extractPromises 识别伏笔并扫描后文判断是否已回收
func (t *HeuristicTimelineTracker) extractPromises(text string) []models.PlotPromise {
	var promises []models.PlotPromise
	seen := make(map[int]bool)
	idx := 0
	for _, pr := range promiseRes {
		for _, loc := range pr.re.FindAllStringIndex(text, -1) {
			if seen[loc[0]] {
				continue
			}
			seen[loc[0]] = true
			quote := trimEvidence(text[loc[0]:loc[1]])
			promises = append(promises, models.PlotPromise{
				ID:       fmt.Sprintf("pp-%04d", idx),
				Type:     pr.typ,
				Quote:    quote,
				Offset:   loc[0],
				Resolved: promiseResolved(text, loc[1], quote),
			})
			idx++
		}
	}
	sort.Slice(promises, func(i, j int) bool { return promises[i].Offset < promises[j].Offset })
	return promises
}

// promiseResolved 在伏笔之后的文本里找回收信号：
// 回收措辞出现在包含伏笔关键词的句子附近
func promiseResolved(text string, after int, quote string) bool {
	tail := text[after:]
	keyword := longestContentWord(quote)
	if keyword == "" {
		return false
	}
	lowerTail := strings.ToLower(tail)
	kidx := strings.Index(lowerTail, keyword)
	for kidx >= 0 {
		from := kidx - 200
		if from < 0 {
			from = 0
		}
		to := kidx + 200
		if to > len(lowerTail) {
			to = len(lowerTail)
		}
		if resolutionRe.MatchString(lowerTail[from:to]) {
			return true
		}
		next := strings.Index(lowerTail[kidx+1:], keyword)
		if next < 0 {
			break
		}
		kidx += 1 + next
	}
	return false
}

func longestContentWord(quote string) string {
	longest := ""
	for _, w := range strings.Fields(strings.ToLower(quote)) {
		w = strings.Trim(w, `.,!?"'“”`)
		if len(w) > len(longest) && len(w) > 4 {
			longest = w
		}
	}
	return longest
}

func classifyPosition(marker string) models.RelativePosition {
	m := strings.ToLower(marker)
	switch {
	case strings.Contains(m, "ago") || strings.Contains(m, "earlier") || strings.Contains(m, "before"):
		return models.PositionBefore
	case strings.Contains(m, "meanwhile") || strings.Contains(m, "same time"):
		return models.PositionConcurrent
	case strings.Contains(m, "later") || strings.Contains(m, "next") || strings.Contains(m, "by "):
		return models.PositionAfter
	}
	return models.PositionUnknown
}

func sceneOpening(text string, scene models.StructuralScene) string {
	body := strings.TrimSpace(text[scene.Start:scene.End])
	if body == "" {
		return ""
	}
	if loc := sentenceEndRe.FindStringIndex(body); loc != nil {
		body = body[:loc[1]]
	}
	return trimEvidence(body)
}
