// internal/intelligence/style.go
package intelligence

import (
	"regexp"
	"strings"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// StyleAnalyzer 计算全文词汇/句法/节奏度量和文体风险标记
// 全文统计量：小编辑对其影响可忽略，编排层会按变更量决定是否跳过重算
type StyleAnalyzer interface {
	Analyze(text string, structural *models.StructuralAnalysis) (*models.StyleAnalysis, error)
}

// HeuristicStyleAnalyzer 默认文体分析器
type HeuristicStyleAnalyzer struct{}

// NewStyleAnalyzer 创建默认文体分析器
func NewStyleAnalyzer() *HeuristicStyleAnalyzer {
	return &HeuristicStyleAnalyzer{}
}

var (
	passiveRe = regexp.MustCompile(`(?i)\b(was|were|been|being|is|are|be)\s+(\w+(?:ed|wn|de))\b`)
	adverbRe  = regexp.MustCompile(`(?i)\b\w{3,}ly\b`)
	wordRe    = regexp.MustCompile(`[A-Za-z']+`)

	filterWords = []string{
		"saw", "felt", "heard", "noticed", "realized", "watched",
		"seemed", "thought", "wondered", "knew", "decided",
	}

	cliches = []string{
		"crack of dawn", "dead of night", "heart skipped a beat",
		"time stood still", "cold sweat", "deafening silence",
		"blood ran cold", "heart pounded", "sigh of relief",
		"piercing gaze", "bated breath",
	}
)

// Analyze 全文文体分析
func (a *HeuristicStyleAnalyzer) Analyze(text string, structural *models.StructuralAnalysis) (*models.StyleAnalysis, error) {
	analysis := &models.StyleAnalysis{Flags: []models.StyleFlag{}}
	if strings.TrimSpace(text) == "" {
		return analysis, nil
	}

	analysis.Metrics = computeMetrics(text, structural)

	if f := passiveFlag(text); f != nil {
		analysis.Flags = append(analysis.Flags, *f)
	}
	if f := adverbFlag(text, analysis.Metrics.AdverbRatio); f != nil {
		analysis.Flags = append(analysis.Flags, *f)
	}
	if f := wordListFlag(text, filterWords, models.FlagFilterWord, 0.4); f != nil {
		analysis.Flags = append(analysis.Flags, *f)
	}
	if f := phraseListFlag(text, cliches, models.FlagCliche, 0.7); f != nil {
		analysis.Flags = append(analysis.Flags, *f)
	}
	if f := repeatedPhraseFlag(text); f != nil {
		analysis.Flags = append(analysis.Flags, *f)
	}
	return analysis, nil
}

func computeMetrics(text string, structural *models.StructuralAnalysis) models.StyleMetrics {
	words := wordRe.FindAllString(text, -1)
	sentences := splitSentences(text)

	metrics := models.StyleMetrics{}
	if len(words) == 0 {
		return metrics
	}

	unique := make(map[string]bool, len(words))
	totalLen := 0
	adverbs := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		unique[lw] = true
		totalLen += len(w)
		if adverbRe.MatchString(w) {
			adverbs++
		}
	}
	metrics.VocabularyRichness = float64(len(unique)) / float64(len(words))
	metrics.AvgWordLength = float64(totalLen) / float64(len(words))
	metrics.AdverbRatio = float64(adverbs) / float64(len(words))

	if len(sentences) > 0 {
		// 句长均值与方差（节奏）
		lens := make([]float64, 0, len(sentences))
		sum := 0.0
		for _, s := range sentences {
			n := float64(len(wordRe.FindAllString(text[s.Start:s.End], -1)))
			lens = append(lens, n)
			sum += n
		}
		mean := sum / float64(len(lens))
		variance := 0.0
		for _, l := range lens {
			variance += (l - mean) * (l - mean)
		}
		metrics.AvgSentenceLength = mean
		metrics.SentenceVariance = variance / float64(len(lens))
	}

	if structural != nil {
		metrics.DialogueRatio = structural.Stats.DialogueRatio
	}
	return metrics
}

func passiveFlag(text string) *models.StyleFlag {
	matches := passiveRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	flag := &models.StyleFlag{Type: models.FlagPassiveVoice}
	for _, loc := range matches {
		flag.Instances = append(flag.Instances, models.FlagInstance{
			TextRange: models.TextRange{Start: loc[0], End: loc[1]},
			Text:      text[loc[0]:loc[1]],
		})
	}
	words := len(wordRe.FindAllString(text, -1))
	flag.Severity = clamp01(float64(len(matches)) * 50.0 / float64(words+1))
	return flag
}

func adverbFlag(text string, ratio float64) *models.StyleFlag {
	if ratio < 0.03 {
		return nil
	}
	flag := &models.StyleFlag{Type: models.FlagAdverbDensity, Severity: clamp01(ratio * 10)}
	for _, loc := range adverbRe.FindAllStringIndex(text, -1) {
		flag.Instances = append(flag.Instances, models.FlagInstance{
			TextRange: models.TextRange{Start: loc[0], End: loc[1]},
			Text:      text[loc[0]:loc[1]],
		})
	}
	return flag
}

func wordListFlag(text string, list []string, typ models.StyleFlagType, severity float64) *models.StyleFlag {
	lower := strings.ToLower(text)
	flag := &models.StyleFlag{Type: typ, Severity: severity}
	for _, w := range list {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], w)
			if pos < 0 {
				break
			}
			start := idx + pos
			if isWordBoundary(lower, start, len(w)) {
				flag.Instances = append(flag.Instances, models.FlagInstance{
					TextRange: models.TextRange{Start: start, End: start + len(w)},
					Text:      text[start : start+len(w)],
				})
			}
			idx = start + len(w)
		}
	}
	if len(flag.Instances) == 0 {
		return nil
	}
	return flag
}

func phraseListFlag(text string, list []string, typ models.StyleFlagType, severity float64) *models.StyleFlag {
	lower := strings.ToLower(text)
	flag := &models.StyleFlag{Type: typ, Severity: severity}
	for _, p := range list {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], p)
			if pos < 0 {
				break
			}
			start := idx + pos
			flag.Instances = append(flag.Instances, models.FlagInstance{
				TextRange: models.TextRange{Start: start, End: start + len(p)},
				Text:      text[start : start+len(p)],
			})
			idx = start + len(p)
		}
	}
	if len(flag.Instances) == 0 {
		return nil
	}
	return flag
}

// repeatedPhraseFlag 统计出现三次以上的三词短语
func repeatedPhraseFlag(text string) *models.StyleFlag {
	locs := wordRe.FindAllStringIndex(text, -1)
	if len(locs) < 3 {
		return nil
	}
	type occurrence struct{ start, end int }
	trigrams := make(map[string][]occurrence)
	for i := 0; i+2 < len(locs); i++ {
		key := strings.ToLower(text[locs[i][0]:locs[i][1]]) + " " +
			strings.ToLower(text[locs[i+1][0]:locs[i+1][1]]) + " " +
			strings.ToLower(text[locs[i+2][0]:locs[i+2][1]])
		trigrams[key] = append(trigrams[key], occurrence{start: locs[i][0], end: locs[i+2][1]})
	}

	flag := &models.StyleFlag{Type: models.FlagRepeatedPhrase, Severity: 0.5}
	for _, occs := range trigrams {
		if len(occs) < 3 {
			continue
		}
		for _, o := range occs {
			flag.Instances = append(flag.Instances, models.FlagInstance{
				TextRange: models.TextRange{Start: o.start, End: o.end},
				Text:      text[o.start:o.end],
			})
		}
	}
	if len(flag.Instances) == 0 {
		return nil
	}
	return flag
}

func isWordBoundary(lower string, start, length int) bool {
	if start > 0 {
		c := lower[start-1]
		if (c >= 'a' && c <= 'z') || c == '\'' {
			return false
		}
	}
	end := start + length
	if end < len(lower) {
		c := lower[end]
		if (c >= 'a' && c <= 'z') || c == '\'' {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
