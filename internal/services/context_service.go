// internal/services/context_service.go
package services

import (
	"sort"
	"strings"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
)

// ContextService 围绕光标组装提示词上下文
// 从智能快照里摘出当前场景、活跃实体、未回收伏笔和近期事件，
// 按字符预算裁剪后交给外部AI做续写/改写
type ContextService struct {
	chapters *ChapterService
	sessions *SessionService

	activationRadius int // 实体视作"活跃"的提及距离
	maxEntities      int
	maxPromises      int
	maxEvents        int
}

// NewContextService 创建上下文服务
func NewContextService(chapters *ChapterService, sessions *SessionService) *ContextService {
	return &ContextService{
		chapters:         chapters,
		sessions:         sessions,
		activationRadius: 3000,
		maxEntities:      8,
		maxPromises:      5,
		maxEvents:        5,
	}
}

// BuildContext 组装章节在光标处的提示词上下文
// budget 为上下文的字符预算，<=0 时用默认4000
func (s *ContextService) BuildContext(chapterID string, cursor, budget int) (*models.PromptContext, error) {
	chapter, err := s.chapters.GetChapter(chapterID)
	if err != nil {
		return nil, err
	}
	intel, err := s.sessions.GetIntelligence(chapterID)
	if err != nil {
		return nil, err
	}

	if budget <= 0 {
		budget = 4000
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(chapter.Text) {
		cursor = len(chapter.Text)
	}

	ctx := &models.PromptContext{
		ChapterID:   chapterID,
		Cursor:      cursor,
		GeneratedAt: time.Now(),
	}

	// HUD 已经做了场景定位和节奏判断，直接借用
	hud := intelligence.BuildHUD(intel, len(chapter.Text), cursor, models.TierOnDemand)
	ctx.Pacing = hud.Pacing

	if intel.Structural != nil && hud.SceneIndex >= 0 {
		scene := intel.Structural.Scenes[hud.SceneIndex]
		ctx.Scene = &models.SceneContext{
			Index:      hud.SceneIndex,
			Type:       scene.Type,
			POV:        scene.POV,
			Location:   scene.Location,
			TimeMarker: scene.TimeMarker,
			Tension:    scene.Tension,
		}
	}

	// 原文片段占预算的一半
	ctx.Excerpt = excerptAround(chapter.Text, cursor, budget/2)
	ctx.Entities = s.activeEntities(intel, cursor)
	ctx.OpenPromises = s.openPromises(intel, cursor)
	ctx.RecentEvents = s.recentEvents(intel, cursor)

	if ctx.Scene != nil && ctx.Scene.POV != "" && intel.Voice != nil {
		for i := range intel.Voice.Profiles {
			if strings.EqualFold(intel.Voice.Profiles[i].Speaker, ctx.Scene.POV) {
				profile := intel.Voice.Profiles[i]
				ctx.Voice = &profile
				break
			}
		}
	}

	return ctx, nil
}

// TimelineContextNear 返回某偏移附近时间线状况的自然语言摘要
// 面向外部AI的工具调用边界，输出纯文本而非结构化数据
func (s *ContextService) TimelineContextNear(chapterID string, offset int) (string, error) {
	chapter, err := s.chapters.GetChapter(chapterID)
	if err != nil {
		return "", err
	}
	intel, err := s.sessions.GetIntelligence(chapterID)
	if err != nil {
		return "", err
	}

	if offset < 0 {
		offset = 0
	}
	if offset > len(chapter.Text) {
		offset = len(chapter.Text)
	}
	if intel.Timeline == nil {
		return "该章节暂无时间线信息。", nil
	}

	var b strings.Builder

	events := s.recentEvents(intel, offset)
	if len(events) > 0 {
		b.WriteString("此前发生的事件：\n")
		for _, event := range events {
			if event.TemporalMarker != "" {
				b.WriteString("- [" + event.TemporalMarker + "] " + event.Description + "\n")
			} else {
				b.WriteString("- " + event.Description + "\n")
			}
		}
	}

	promises := s.openPromises(intel, offset)
	if len(promises) > 0 {
		b.WriteString("尚未回收的伏笔：\n")
		for _, promise := range promises {
			b.WriteString("- (" + string(promise.Type) + ") " + promise.Quote + "\n")
		}
	}

	if len(intel.Timeline.Causal) > 0 {
		eventByID := make(map[string]models.TimelineEvent, len(intel.Timeline.Events))
		for _, event := range intel.Timeline.Events {
			eventByID[event.ID] = event
		}
		wrote := 0
		for _, link := range intel.Timeline.Causal {
			cause, okCause := eventByID[link.CauseID]
			effect, okEffect := eventByID[link.EffectID]
			if !okCause || !okEffect || effect.Offset > offset {
				continue
			}
			if wrote == 0 {
				b.WriteString("因果链：\n")
			}
			b.WriteString("- " + cause.Description + " → " + effect.Description + "\n")
			wrote++
			if wrote >= s.maxEvents {
				break
			}
		}
	}

	if b.Len() == 0 {
		return "该偏移之前尚无时间线事件。", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// activeEntities 找出光标附近提及过的实体，按距离升序
func (s *ContextService) activeEntities(intel *models.ManuscriptIntelligence, cursor int) []models.EntityContext {
	if intel.Entities == nil {
		return nil
	}

	var active []models.EntityContext
	for _, node := range intel.Entities.Nodes {
		distance := -1
		for _, mention := range node.Mentions {
			d := mention - cursor
			if d < 0 {
				d = -d
			}
			if distance < 0 || d < distance {
				distance = d
			}
		}
		if distance < 0 || distance > s.activationRadius {
			continue
		}

		entityCtx := models.EntityContext{Node: node, Distance: distance}
		for _, edge := range intel.Entities.Edges {
			if edge.Source == node.ID || edge.Target == node.ID {
				entityCtx.Relationships = append(entityCtx.Relationships, edge)
			}
		}
		active = append(active, entityCtx)
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].Distance < active[j].Distance
	})
	if len(active) > s.maxEntities {
		active = active[:s.maxEntities]
	}
	return active
}

// openPromises 未回收的伏笔，离光标近的优先
func (s *ContextService) openPromises(intel *models.ManuscriptIntelligence, cursor int) []models.PlotPromise {
	if intel.Timeline == nil {
		return nil
	}

	open := intel.Timeline.OpenPromises()
	sort.Slice(open, func(i, j int) bool {
		di, dj := open[i].Offset-cursor, open[j].Offset-cursor
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di < dj
	})
	if len(open) > s.maxPromises {
		open = open[:s.maxPromises]
	}
	return open
}

// recentEvents 光标之前最近的时间线事件，按偏移升序
func (s *ContextService) recentEvents(intel *models.ManuscriptIntelligence, cursor int) []models.TimelineEvent {
	if intel.Timeline == nil {
		return nil
	}

	var before []models.TimelineEvent
	for _, event := range intel.Timeline.Events {
		if event.Offset <= cursor {
			before = append(before, event)
		}
	}
	if len(before) > s.maxEvents {
		before = before[len(before)-s.maxEvents:]
	}
	return before
}

// excerptAround 截取光标前后的原文，尽量对齐到词边界
func excerptAround(text string, cursor, maxChars int) string {
	if text == "" || maxChars <= 0 {
		return ""
	}

	// 光标前占三分之二，给续写留足前文
	before := maxChars * 2 / 3
	start := cursor - before
	if start < 0 {
		start = 0
	}
	end := start + maxChars
	if end > len(text) {
		end = len(text)
		start = end - maxChars
		if start < 0 {
			start = 0
		}
	}

	// 对齐到空白，避免把词切成两半
	if start > 0 {
		if idx := strings.IndexAny(text[start:end], " \n\t"); idx >= 0 && idx < 40 {
			start += idx + 1
		}
	}
	if end < len(text) {
		if idx := strings.LastIndexAny(text[start:end], " \n\t"); idx >= 0 && end-start-idx < 40 {
			end = start + idx
		}
	}
	return text[start:end]
}
