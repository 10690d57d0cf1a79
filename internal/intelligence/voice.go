// internal/intelligence/voice.go
package intelligence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// VoiceProfiler 按说话人计算语言指纹和一致性告警
type VoiceProfiler interface {
	Profile(text string, dialogue []models.DialogueLine) (*models.VoiceAnalysis, error)
}

// HeatmapBuilder 基于结构/文体/时间线数据构建风险热力图
// 永远最后构建，绝不反映部分陈旧状态
type HeatmapBuilder interface {
	Build(text string, structural *models.StructuralAnalysis, style *models.StyleAnalysis, timeline *models.TimelineAnalysis) (*models.Heatmap, error)
}

// HeuristicVoiceProfiler 默认声纹分析器
type HeuristicVoiceProfiler struct{}

// NewVoiceProfiler 创建默认声纹分析器
func NewVoiceProfiler() *HeuristicVoiceProfiler {
	return &HeuristicVoiceProfiler{}
}

// Profile 按说话人聚合对话并生成语言指纹
func (p *HeuristicVoiceProfiler) Profile(text string, dialogue []models.DialogueLine) (*models.VoiceAnalysis, error) {
	analysis := &models.VoiceAnalysis{Profiles: []models.VoiceProfile{}}

	bySpeaker := make(map[string][]models.DialogueLine)
	for _, d := range dialogue {
		if d.Speaker == "" {
			continue
		}
		bySpeaker[d.Speaker] = append(bySpeaker[d.Speaker], d)
	}

	// 全体说话人的词频，用于找签名词
	globalFreq := make(map[string]int)
	for _, lines := range bySpeaker {
		for _, d := range lines {
			for _, w := range wordRe.FindAllString(strings.ToLower(d.Text), -1) {
				globalFreq[w]++
			}
		}
	}

	speakers := make([]string, 0, len(bySpeaker))
	for s := range bySpeaker {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)

	for _, speaker := range speakers {
		lines := bySpeaker[speaker]
		if len(lines) < 2 {
			continue
		}
		var joined strings.Builder
		for _, d := range lines {
			joined.WriteString(d.Text)
			joined.WriteString(" ")
		}
		spoken := joined.String()
		metrics := computeMetrics(spoken, nil)

		profile := models.VoiceProfile{
			Speaker:        speaker,
			Metrics:        metrics,
			SignatureWords: signatureWords(spoken, globalFreq),
			Impression:     voiceImpression(metrics),
		}
		analysis.Profiles = append(analysis.Profiles, profile)

		if alert := consistencyAlert(speaker, lines); alert != nil {
			analysis.Alerts = append(analysis.Alerts, *alert)
		}
	}
	return analysis, nil
}

// signatureWords 该说话人高频但整体低频的词
func signatureWords(spoken string, globalFreq map[string]int) []string {
	freq := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(spoken), -1) {
		if len(w) < 4 {
			continue
		}
		freq[w]++
	}
	var sig []string
	for w, n := range freq {
		if n >= 3 && n*2 > globalFreq[w] {
			sig = append(sig, w)
		}
	}
	sort.Strings(sig)
	if len(sig) > 8 {
		sig = sig[:8]
	}
	return sig
}

func voiceImpression(m models.StyleMetrics) string {
	var parts []string
	switch {
	case m.AvgSentenceLength < 6:
		parts = append(parts, "short, clipped sentences")
	case m.AvgSentenceLength > 15:
		parts = append(parts, "long, flowing sentences")
	default:
		parts = append(parts, "measured sentence rhythm")
	}
	if m.VocabularyRichness > 0.7 {
		parts = append(parts, "varied vocabulary")
	} else if m.VocabularyRichness < 0.4 {
		parts = append(parts, "repetitive word choice")
	}
	if m.AdverbRatio > 0.05 {
		parts = append(parts, "adverb-heavy delivery")
	}
	return strings.Join(parts, "; ")
}

// consistencyAlert 前后两半对话的平均句长漂移超过四成时告警
func consistencyAlert(speaker string, lines []models.DialogueLine) *models.VoiceAlert {
	if len(lines) < 4 {
		return nil
	}
	half := len(lines) / 2
	avgLen := func(ls []models.DialogueLine) float64 {
		words := 0
		for _, d := range ls {
			words += len(strings.Fields(d.Text))
		}
		return float64(words) / float64(len(ls))
	}
	early := avgLen(lines[:half])
	late := avgLen(lines[half:])
	if early == 0 {
		return nil
	}
	drift := (late - early) / early
	if drift > 0.4 || drift < -0.4 {
		return &models.VoiceAlert{
			Speaker: speaker,
			Message: fmt.Sprintf("%s 的对话节奏前后漂移 %.0f%%，语言风格可能不一致", speaker, drift*100),
			Offset:  lines[half].Start,
		}
	}
	return nil
}

// ------------------------------------

// SectionHeatmapBuilder 按场景分段的默认热力图构建器
type SectionHeatmapBuilder struct{}

// NewHeatmapBuilder 创建默认热力图构建器
func NewHeatmapBuilder() *SectionHeatmapBuilder {
	return &SectionHeatmapBuilder{}
}

const hotspotRiskThreshold = 0.7

// Build 为每个场景计算风险分：文体标记密度、张力、未回收伏笔密度加权
func (b *SectionHeatmapBuilder) Build(text string, structural *models.StructuralAnalysis, style *models.StyleAnalysis, timeline *models.TimelineAnalysis) (*models.Heatmap, error) {
	heatmap := &models.Heatmap{Sections: []models.HeatmapSection{}}
	if structural == nil || len(structural.Scenes) == 0 {
		return heatmap, nil
	}

	for _, scene := range structural.Scenes {
		section := models.HeatmapSection{TextRange: scene.TextRange}

		flagCount := 0
		if style != nil {
			for _, flag := range style.Flags {
				for _, inst := range flag.Instances {
					if inst.Start >= scene.Start && inst.Start < scene.End {
						flagCount++
					}
				}
			}
		}
		flagDensity := 0.0
		if scene.WordCount > 0 {
			flagDensity = clamp01(float64(flagCount) * 25.0 / float64(scene.WordCount))
		}
		if flagDensity > 0.3 {
			section.Reasons = append(section.Reasons, "文体标记密集")
		}

		openPromises := 0
		if timeline != nil {
			for _, p := range timeline.Promises {
				if !p.Resolved && p.Offset >= scene.Start && p.Offset < scene.End {
					openPromises++
				}
			}
		}
		promiseDensity := clamp01(float64(openPromises) / 3.0)
		if openPromises > 0 {
			section.Reasons = append(section.Reasons, fmt.Sprintf("%d 个未回收伏笔", openPromises))
		}

		section.Risk = clamp01(0.5*flagDensity + 0.3*scene.Tension + 0.2*promiseDensity)
		heatmap.Sections = append(heatmap.Sections, section)

		if section.Risk > hotspotRiskThreshold {
			heatmap.Hotspots = append(heatmap.Hotspots, models.Hotspot{
				TextRange: section.TextRange,
				Risk:      section.Risk,
				Summary:   strings.Join(section.Reasons, "；"),
			})
		}
	}
	return heatmap, nil
}
