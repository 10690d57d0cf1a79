// internal/intelligence/structural.go
package intelligence

import (
	"regexp"
	"sort"
	"strings"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// StructuralParser 把原始文本切分为场景、段落和对话行
// 无状态纯函数；解析质量是可插拔的启发式，不在编排契约之内
type StructuralParser interface {
	Parse(text string) (*models.StructuralAnalysis, error)
}

// HeuristicStructuralParser 基于分隔符和空行的默认结构解析器
type HeuristicStructuralParser struct{}

// NewStructuralParser 创建默认结构解析器
func NewStructuralParser() *HeuristicStructuralParser {
	return &HeuristicStructuralParser{}
}

var (
	sceneBreakRe    = regexp.MustCompile(`(?m)^[ \t]*(\*\s*\*\s*\*|\* \* \*|\*{3,}|-{3,}|#{1,3}[^\n]*)[ \t]*$`)
	sentenceEndRe   = regexp.MustCompile(`[.!?。！？]["'”’]?(\s|$)`)
	quoteRe         = regexp.MustCompile(`"[^"\n]+"|“[^”\n]+”`)
	speakerAfterRe  = regexp.MustCompile(`^[,，]?\s*(said|asked|replied|whispered|shouted|muttered|answered|called|cried)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
	speakerBeforeRe = regexp.MustCompile(`([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+(said|asked|replied|whispered|shouted|muttered|answered|called|cried)[^.!?\n]*$`)
	timeMarkerRe    = regexp.MustCompile(`(?i)\b(that (night|morning|evening|afternoon)|the next (day|morning|night|week|year)|(hours|days|weeks|months|years) (later|earlier|ago)|later that \w+|at (dawn|dusk|noon|midnight)|meanwhile|by (morning|nightfall|evening))\b`)
	locationRe      = regexp.MustCompile(`\b(?:at|in|inside|near|outside) the ([A-Z][a-z]+(?: [A-Z][a-z]+)*|[a-z]+(?: [a-z]+)?)\b`)
)

// Parse 解析文本结构
// 产出的场景保证按 StartOffset 升序且携带标签类型，后续合并逻辑无需再做形状检查
func (p *HeuristicStructuralParser) Parse(text string) (*models.StructuralAnalysis, error) {
	analysis := &models.StructuralAnalysis{
		Scenes:     []models.StructuralScene{},
		Paragraphs: []models.StructuralParagraph{},
		Dialogue:   []models.DialogueLine{},
	}
	if strings.TrimSpace(text) == "" {
		return analysis, nil
	}

	analysis.Dialogue = extractDialogue(text)
	analysis.Paragraphs = extractParagraphs(text)
	analysis.Scenes = extractScenes(text, analysis.Dialogue)
	analysis.Stats = computeStats(text, analysis)
	return analysis, nil
}

// extractScenes 按场景分隔线和大段空行切分场景
func extractScenes(text string, dialogue []models.DialogueLine) []models.StructuralScene {
	boundaries := []int{0}
	for _, loc := range sceneBreakRe.FindAllStringIndex(text, -1) {
		boundaries = append(boundaries, loc[0], loc[1])
	}
	// 三个以上连续换行也视为场景切换
	for i := 0; i+2 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' && text[i+2] == '\n' {
			j := i
			for j < len(text) && text[j] == '\n' {
				j++
			}
			boundaries = append(boundaries, i, j)
			i = j
		}
	}
	boundaries = append(boundaries, len(text))
	sort.Ints(boundaries)

	var scenes []models.StructuralScene
	for i := 0; i+1 < len(boundaries); i += 2 {
		start, end := boundaries[i], boundaries[i+1]
		if end > len(text) {
			end = len(text)
		}
		body := text[start:end]
		if strings.TrimSpace(body) == "" {
			continue
		}
		scenes = append(scenes, buildScene(text, start, end, body, dialogue))
	}
	return scenes
}

func buildScene(text string, start, end int, body string, dialogue []models.DialogueLine) models.StructuralScene {
	scene := models.StructuralScene{
		TextRange: models.TextRange{Start: start, End: end},
		Kind:      models.ElementScene,
		WordCount: len(strings.Fields(body)),
	}

	// 对话占比决定场景类型
	dialogueChars := 0
	for _, d := range dialogue {
		if d.Start >= start && d.End <= end {
			dialogueChars += d.Length()
		}
	}
	ratio := 0.0
	if len(body) > 0 {
		ratio = float64(dialogueChars) / float64(len(body))
	}
	exclaims := strings.Count(body, "!")
	switch {
	case ratio > 0.5:
		scene.Type = models.SceneDialogue
	case exclaims > 3 && ratio < 0.2:
		scene.Type = models.SceneAction
	case ratio < 0.05 && scene.WordCount > 80:
		scene.Type = models.SceneDescription
	case scene.WordCount < 40:
		scene.Type = models.SceneTransition
	default:
		scene.Type = models.SceneMixed
	}

	scene.POV = detectPOV(body)
	if m := locationRe.FindStringSubmatch(body); m != nil {
		scene.Location = m[1]
	}
	if m := timeMarkerRe.FindString(body); m != "" {
		scene.TimeMarker = m
	}
	scene.Tension = sceneTension(body)
	return scene
}

// detectPOV 粗粒度叙事视角检测
func detectPOV(body string) string {
	lower := " " + strings.ToLower(body) + " "
	first := strings.Count(lower, " i ") + strings.Count(lower, " my ")
	second := strings.Count(lower, " you ") + strings.Count(lower, " your ")
	third := strings.Count(lower, " he ") + strings.Count(lower, " she ") + strings.Count(lower, " they ")
	switch {
	case first > third && first > second && first > 2:
		return "first"
	case second > first && second > third && second > 2:
		return "second"
	case third > 0:
		return "third"
	}
	return ""
}

// sceneTension 根据感叹号密度和短句占比估算张力
func sceneTension(body string) float64 {
	sentences := sentenceEndRe.FindAllStringIndex(body, -1)
	if len(sentences) == 0 {
		return 0
	}
	words := len(strings.Fields(body))
	avgLen := float64(words) / float64(len(sentences))
	exclaims := float64(strings.Count(body, "!"))

	tension := exclaims / float64(len(sentences))
	if avgLen < 8 {
		tension += 0.3
	} else if avgLen < 12 {
		tension += 0.15
	}
	if tension > 1 {
		tension = 1
	}
	return tension
}

// extractParagraphs 按空行切分段落
func extractParagraphs(text string) []models.StructuralParagraph {
	var paras []models.StructuralParagraph
	start := 0
	flush := func(end int) {
		body := text[start:end]
		if strings.TrimSpace(body) == "" {
			start = end
			return
		}
		paras = append(paras, models.StructuralParagraph{
			TextRange:     models.TextRange{Start: start, End: end},
			Kind:          models.ElementParagraph,
			SentenceCount: len(sentenceEndRe.FindAllString(body, -1)),
			WordCount:     len(strings.Fields(body)),
			IsDialogue:    quoteRe.MatchString(body),
		})
		start = end
	}
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			flush(i)
			for i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	flush(len(text))
	return paras
}

// extractDialogue 抽取带引号的对话并尝试归属说话人
func extractDialogue(text string) []models.DialogueLine {
	var lines []models.DialogueLine
	for _, loc := range quoteRe.FindAllStringIndex(text, -1) {
		line := models.DialogueLine{
			TextRange: models.TextRange{Start: loc[0], End: loc[1]},
			Kind:      models.ElementDialogue,
			Text:      strings.Trim(text[loc[0]:loc[1]], `"“”`),
		}
		// 先看引号后的 "said X"，再看引号前的 "X said"
		after := text[loc[1]:min(loc[1]+60, len(text))]
		if m := speakerAfterRe.FindStringSubmatch(after); m != nil {
			line.Speaker = m[2]
		} else {
			before := text[max(0, loc[0]-80):loc[0]]
			if m := speakerBeforeRe.FindStringSubmatch(before); m != nil {
				line.Speaker = m[1]
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func computeStats(text string, a *models.StructuralAnalysis) models.StructuralStats {
	dialogueChars := 0
	for _, d := range a.Dialogue {
		dialogueChars += d.Length()
	}
	ratio := 0.0
	if len(text) > 0 {
		ratio = float64(dialogueChars) / float64(len(text))
	}
	return models.StructuralStats{
		WordCount:      len(strings.Fields(text)),
		SentenceCount:  len(sentenceEndRe.FindAllString(text, -1)),
		ParagraphCount: len(a.Paragraphs),
		SceneCount:     len(a.Scenes),
		DialogueRatio:  ratio,
	}
}
