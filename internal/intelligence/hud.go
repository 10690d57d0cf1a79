// internal/intelligence/hud.go
package intelligence

import (
	"fmt"
	"sort"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// 问题按光标距离衰减的半径（字节）
const issueProximityRadius = 2000

// BuildHUD 从合并后的分析数据合成光标相关的态势摘要
// 必须足够便宜，能在每次按键的 instant 档位运行：
// 场景定位是有序区间上的二分查找，其余是一次线性扫描
func BuildHUD(intel *models.ManuscriptIntelligence, textLength, cursor int, tier models.ProcessingTier) *models.ManuscriptHUD {
	hud := &models.ManuscriptHUD{
		SceneIndex:     -1,
		ParagraphIndex: -1,
		Pacing:         "steady",
		ProcessingTier: tier,
		GeneratedAt:    time.Now(),
	}
	if intel == nil {
		return hud
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > textLength {
		cursor = textLength
	}

	if intel.Structural != nil {
		hud.Stats = intel.Structural.Stats
		if idx := intel.Structural.SceneAt(cursor); idx >= 0 {
			scene := intel.Structural.Scenes[idx]
			hud.SceneIndex = idx
			hud.SceneType = scene.Type
			hud.POV = scene.POV
			hud.Location = scene.Location
			hud.Tension = scene.Tension
		}
		for i, p := range intel.Structural.Paragraphs {
			if p.Contains(cursor) || (cursor == p.End && cursor > p.Start) {
				hud.ParagraphIndex = i
				break
			}
		}
		hud.Pacing = classifyPacing(intel.Structural, hud.SceneIndex)
	}

	if textLength > 0 {
		hud.NarrativePosition = float64(cursor) / float64(textLength)
	}

	if intel.Timeline != nil {
		hud.OpenPromiseCount = len(intel.Timeline.OpenPromises())
	}

	hud.Issues = prioritizeIssues(intel, cursor)
	return hud
}

// classifyPacing 按光标附近的场景长度判断节奏
func classifyPacing(structural *models.StructuralAnalysis, sceneIdx int) string {
	scenes := structural.Scenes
	if len(scenes) == 0 {
		return "steady"
	}
	// 当前场景及相邻场景的平均字数
	from, to := 0, len(scenes)
	if sceneIdx >= 0 {
		from = sceneIdx - 1
		if from < 0 {
			from = 0
		}
		to = sceneIdx + 2
		if to > len(scenes) {
			to = len(scenes)
		}
	}
	words := 0
	for _, s := range scenes[from:to] {
		words += s.WordCount
	}
	avg := float64(words) / float64(to-from)
	switch {
	case avg < 600:
		return "brisk"
	case avg > 1500:
		return "slow"
	}
	return "steady"
}

// prioritizeIssues 按严重度乘以光标邻近度排序问题列表
func prioritizeIssues(intel *models.ManuscriptIntelligence, cursor int) []models.HUDIssue {
	var issues []models.HUDIssue

	if intel.Style != nil {
		for _, flag := range intel.Style.Flags {
			for _, inst := range flag.Instances {
				if distance(inst.Start, cursor) > issueProximityRadius {
					continue
				}
				issues = append(issues, models.HUDIssue{
					Kind:     "style",
					Message:  fmt.Sprintf("%s: %q", flag.Type, inst.Text),
					Offset:   inst.Start,
					Severity: flag.Severity,
				})
			}
		}
	}
	if intel.Timeline != nil {
		for _, p := range intel.Timeline.OpenPromises() {
			issues = append(issues, models.HUDIssue{
				Kind:     "promise",
				Message:  fmt.Sprintf("未回收伏笔: %q", p.Quote),
				Offset:   p.Offset,
				Severity: 0.6,
			})
		}
	}
	if intel.Voice != nil {
		for _, a := range intel.Voice.Alerts {
			issues = append(issues, models.HUDIssue{
				Kind:     "voice",
				Message:  a.Message,
				Offset:   a.Offset,
				Severity: 0.5,
			})
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issueScore(issues[i], cursor) > issueScore(issues[j], cursor)
	})
	if len(issues) > 12 {
		issues = issues[:12]
	}
	return issues
}

func issueScore(issue models.HUDIssue, cursor int) float64 {
	d := float64(distance(issue.Offset, cursor))
	proximity := 1.0 / (1.0 + d/500.0)
	return issue.Severity * proximity
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
