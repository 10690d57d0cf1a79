// internal/intelligence/processor.go
package intelligence

import (
	"fmt"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// Thresholds 增量处理的策略阈值
// 最优取值是经验性的，作为配置暴露而非硬编码，便于按部署调参
type Thresholds struct {
	MaxChangedRanges       int     `json:"max_changed_ranges"`       // 变更区间数超过此值视为碎片化过度
	FullRewriteRatio       float64 `json:"full_rewrite_ratio"`       // 变更量占比严格大于此值时整体重算（边界值不触发）
	StyleRecomputeChars    int     `json:"style_recompute_chars"`    // 变更量超过此值才重算文体
	StructuralRebuildChars int     `json:"structural_rebuild_chars"` // 变更量超过此值强制结构全量重建
	MajorityFraction       float64 `json:"majority_fraction"`        // "多数"的定义：严格大于该比例
	OverlapBuffer          int     `json:"overlap_buffer"`           // 区间重叠判定的上下文缓冲
	SceneMatchTolerance    int     `json:"scene_match_tolerance"`    // 场景桶匹配的偏移容差
}

// DefaultThresholds 返回默认策略阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxChangedRanges:       20,
		FullRewriteRatio:       0.30,
		StyleRecomputeChars:    500,
		StructuralRebuildChars: 2000,
		MajorityFraction:       0.5,
		OverlapBuffer:          50,
		SceneMatchTolerance:    50,
	}
}

// Processor 增量处理器：决定每个子分析复用、修补还是重算，
// 并把新算出的数据与上一快照中可复用的数据合并成一致的新快照
type Processor struct {
	thresholds Thresholds
	tier       models.ProcessingTier

	structural StructuralParser
	entities   EntityExtractor
	timeline   TimelineTracker
	style      StyleAnalyzer
	voice      VoiceProfiler
	heatmap    HeatmapBuilder
}

// NewProcessor 用默认分析器创建增量处理器
func NewProcessor(thresholds Thresholds) *Processor {
	return &Processor{
		thresholds: thresholds,
		tier:       models.TierDebounced,
		structural: NewStructuralParser(),
		entities:   NewEntityExtractor(),
		timeline:   NewTimelineTracker(),
		style:      NewStyleAnalyzer(),
		voice:      NewVoiceProfiler(),
		heatmap:    NewHeatmapBuilder(),
	}
}

// WithAnalyzers 替换部分分析器（nil 表示保留默认），分析器是可插拔的
func (p *Processor) WithAnalyzers(structural StructuralParser, entities EntityExtractor, timeline TimelineTracker, style StyleAnalyzer, voice VoiceProfiler, heatmap HeatmapBuilder) *Processor {
	if structural != nil {
		p.structural = structural
	}
	if entities != nil {
		p.entities = entities
	}
	if timeline != nil {
		p.timeline = timeline
	}
	if style != nil {
		p.style = style
	}
	if voice != nil {
		p.voice = voice
	}
	if heatmap != nil {
		p.heatmap = heatmap
	}
	return p
}

// SetTier 设置产出快照携带的处理档位标签（由调用方的调度策略决定）
func (p *Processor) SetTier(tier models.ProcessingTier) {
	p.tier = tier
}

// Thresholds 返回当前策略阈值
func (p *Processor) Thresholds() Thresholds {
	return p.thresholds
}

// ShouldUseIncremental 判断能否走增量路径
// 返回 false 表示调用方应整体重算：变更区间为空（无可修补的依据）、
// 区间数超限（碎片化过度，修补不划算）、或变更量严格超过全文的
// FullRewriteRatio（这么大的改写整体重算更便宜）
func (p *Processor) ShouldUseIncremental(delta *models.ManuscriptDelta, totalLength int) bool {
	if delta.IsEmpty() {
		return false
	}
	if len(delta.ChangedRanges) > p.thresholds.MaxChangedRanges {
		return false
	}
	if totalLength > 0 {
		ratio := float64(delta.ChangedVolume()) / float64(totalLength)
		if ratio > p.thresholds.FullRewriteRatio {
			return false
		}
	}
	return true
}

// ProcessIncremental 处理一次编辑，返回新的一致快照和处理统计
// 纯函数：不读写任何存储；调用方负责串行化同一章节的编辑，
// 并丢弃被更新编辑取代的过期结果
func (p *Processor) ProcessIncremental(newText, chapterID, oldText string, prev *models.ManuscriptIntelligence) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	start := time.Now()
	newHash := HashContent(newText)

	// 恒等短路：哈希一致则原样返回旧快照，不触发任何分析器
	if prev != nil && prev.ContentHash() == newHash {
		return prev, &models.ProcessingStats{Incremental: true}, nil
	}

	prevHash := ""
	if prev != nil {
		prevHash = prev.ContentHash()
	}
	delta := CreateDelta(oldText, newText, chapterID, prevHash)

	if prev == nil {
		return p.processFull(newText, chapterID, delta, nil, models.ReasonNoPrevSnapshot, start)
	}
	if reason := p.validateContract(chapterID, oldText, prev); reason != "" {
		return p.processFull(newText, chapterID, delta, prev, reason, start)
	}

	// 哈希不同但 diff 未发现有效文本差异（例如哈希敏感而 diff 忽略的归一化），
	// 只把新哈希写回快照副本，不触发分析器
	if delta.IsEmpty() {
		patched := *prev
		patched.Delta = delta
		patched.CreatedAt = time.Now()
		stats := &models.ProcessingStats{Incremental: true, DurationMS: time.Since(start).Milliseconds()}
		return &patched, stats, nil
	}

	if !p.ShouldUseIncremental(delta, len(newText)) {
		reason := models.ReasonChangeSizeThreshold
		if len(delta.ChangedRanges) > p.thresholds.MaxChangedRanges {
			reason = models.ReasonTooManyRanges
		}
		return p.processFull(newText, chapterID, delta, prev, reason, start)
	}

	return p.processPatched(newText, chapterID, delta, prev, start)
}

// validateContract 输入契约校验：违约时退回全量重算而不是报错，
// 静默用错（陈旧偏移）的代价远高于一次多余的全量解析
func (p *Processor) validateContract(chapterID, oldText string, prev *models.ManuscriptIntelligence) string {
	if prev.ChapterID != "" && prev.ChapterID != chapterID {
		return models.ReasonContractViolation
	}
	if prev.Structural != nil {
		for _, s := range prev.Structural.Scenes {
			if s.Start < 0 || s.End < s.Start || s.End > len(oldText) {
				return models.ReasonContractViolation
			}
		}
	}
	return ""
}

// processFull 全量重算全部子分析
func (p *Processor) processFull(newText, chapterID string, delta *models.ManuscriptDelta, prev *models.ManuscriptIntelligence, reason string, start time.Time) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	structural, err := p.structural.Parse(newText)
	if err != nil {
		return nil, nil, fmt.Errorf("结构解析失败: %w", err)
	}
	entities, err := p.entities.Extract(newText)
	if err != nil {
		return nil, nil, fmt.Errorf("实体抽取失败: %w", err)
	}
	style, err := p.style.Analyze(newText, structural)
	if err != nil {
		return nil, nil, fmt.Errorf("文体分析失败: %w", err)
	}
	voice, err := p.voice.Profile(newText, structural.Dialogue)
	if err != nil {
		return nil, nil, fmt.Errorf("声纹分析失败: %w", err)
	}

	stats := &models.ProcessingStats{
		Incremental:         false,
		ScenesReprocessed:   len(structural.Scenes),
		EntitiesUpdated:     len(entities.Nodes),
		StyleRecomputed:     true,
		FullReprocessReason: reason,
		ChangedRangeCount:   len(delta.ChangedRanges),
		ChangedVolume:       delta.ChangedVolume(),
	}
	intel, err := p.finalize(newText, chapterID, delta, structural, entities, style, voice, prev, stats, start)
	if err != nil {
		return nil, nil, err
	}
	return intel, stats, nil
}

// processPatched 增量路径：逐子分析应用分级策略
func (p *Processor) processPatched(newText, chapterID string, delta *models.ManuscriptDelta, prev *models.ManuscriptIntelligence, start time.Time) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	stats := &models.ProcessingStats{
		Incremental:       true,
		ChangedRangeCount: len(delta.ChangedRanges),
		ChangedVolume:     delta.ChangedVolume(),
	}
	oldRanges := oldCoordinateRanges(delta)

	// 先标记被波及的实体：旧坐标系下提及位置落入变更区间的节点
	delta.AffectedEntities = p.affectedEntityIDs(prev.Entities, oldRanges)

	structural, err := p.patchStructural(newText, delta, prev, oldRanges, stats)
	if err != nil {
		return nil, nil, fmt.Errorf("结构解析失败: %w", err)
	}

	entities, err := p.patchEntities(newText, delta, prev, stats)
	if err != nil {
		return nil, nil, fmt.Errorf("实体抽取失败: %w", err)
	}

	// 文体是全文统计量，小编辑影响可忽略，低于阈值直接沿用旧值
	style := prev.Style
	voice := prev.Voice
	if delta.ChangedVolume() > p.thresholds.StyleRecomputeChars {
		style, err = p.style.Analyze(newText, structural)
		if err != nil {
			return nil, nil, fmt.Errorf("文体分析失败: %w", err)
		}
		voice, err = p.voice.Profile(newText, structural.Dialogue)
		if err != nil {
			return nil, nil, fmt.Errorf("声纹分析失败: %w", err)
		}
		stats.StyleRecomputed = true
	}

	intel, err := p.finalize(newText, chapterID, delta, structural, entities, style, voice, prev, stats, start)
	if err != nil {
		return nil, nil, err
	}
	return intel, stats, nil
}

// finalize 时间线永远从当前结构+实体状态重推；热力图与HUD永远最后重建，
// 保证绝不反映部分陈旧状态；随后组装不可变快照
func (p *Processor) finalize(newText, chapterID string, delta *models.ManuscriptDelta, structural *models.StructuralAnalysis, entities *models.EntityGraph, style *models.StyleAnalysis, voice *models.VoiceAnalysis, prev *models.ManuscriptIntelligence, stats *models.ProcessingStats, start time.Time) (*models.ManuscriptIntelligence, error) {
	timeline, err := p.timeline.Track(newText, structural, entities)
	if err != nil {
		return nil, fmt.Errorf("时间线推导失败: %w", err)
	}
	if prev != nil && prev.Timeline != nil {
		trackPromiseChanges(delta, prev.Timeline, timeline)
	}

	heatmap, err := p.heatmap.Build(newText, structural, style, timeline)
	if err != nil {
		return nil, fmt.Errorf("热力图构建失败: %w", err)
	}

	intel := &models.ManuscriptIntelligence{
		ChapterID:  chapterID,
		Structural: structural,
		Entities:   entities,
		Timeline:   timeline,
		Style:      style,
		Voice:      voice,
		Heatmap:    heatmap,
		Delta:      delta,
		CreatedAt:  time.Now(),
	}
	intel.HUD = BuildHUD(intel, len(newText), hudCursor(delta, len(newText)), p.tier)

	stats.DurationMS = time.Since(start).Milliseconds()
	return intel, nil
}

// ------------------------------------
// 结构修补
// ------------------------------------

// patchStructural 结构解析总是重跑（保证偏移正确），但在未越过
// 重建阈值时把旧场景中轻量重解析不重算的增益字段搬到空间上对应的新场景
func (p *Processor) patchStructural(newText string, delta *models.ManuscriptDelta, prev *models.ManuscriptIntelligence, oldRanges []models.TextRange, stats *models.ProcessingStats) (*models.StructuralAnalysis, error) {
	var prevScenes []models.StructuralScene
	if prev.Structural != nil {
		prevScenes = prev.Structural.Scenes
	}

	// 多数场景被波及或变更量越过绝对阈值：放弃旧场景元数据
	affected := 0
	for _, scene := range prevScenes {
		if overlapsAny(scene.TextRange, oldRanges, p.thresholds.OverlapBuffer) {
			affected++
		}
	}
	forceReason := ""
	if len(prevScenes) > 0 && float64(affected) > p.thresholds.MajorityFraction*float64(len(prevScenes)) {
		forceReason = models.ReasonMajorityScenes
	} else if delta.ChangedVolume() > p.thresholds.StructuralRebuildChars {
		forceReason = models.ReasonChangeSizeThreshold
	}

	structural, err := p.structural.Parse(newText)
	if err != nil {
		return nil, err
	}

	if forceReason != "" {
		stats.FullReprocessReason = forceReason
		stats.ScenesReprocessed = len(structural.Scenes)
		stats.ScenesReused = 0
		return structural, nil
	}

	// 场景桶匹配：旧场景按其前方变更的净长度差平移后，
	// 落入新场景容差窗口且自身不在任何变更区间内时，搬运增益字段
	for i := range structural.Scenes {
		newScene := &structural.Scenes[i]
		matched := false
		for _, prevScene := range prevScenes {
			if overlapsAny(prevScene.TextRange, oldRanges, p.thresholds.OverlapBuffer) {
				continue
			}
			shift := netShiftBefore(delta, prevScene.Start)
			if distance(prevScene.Start+shift, newScene.Start) <= p.thresholds.SceneMatchTolerance &&
				distance(prevScene.End+shift, newScene.End) <= p.thresholds.SceneMatchTolerance {
				if newScene.POV == "" || prevScene.POV != "" {
					newScene.POV = prevScene.POV
				}
				if newScene.Location == "" || prevScene.Location != "" {
					newScene.Location = prevScene.Location
				}
				matched = true
				break
			}
		}
		if matched {
			stats.ScenesReused++
		} else {
			stats.ScenesReprocessed++
		}
	}
	return structural, nil
}

// ------------------------------------
// 实体合并
// ------------------------------------

// affectedEntityIDs 旧坐标系下提及位置与变更区间重叠的节点ID
func (p *Processor) affectedEntityIDs(prevGraph *models.EntityGraph, oldRanges []models.TextRange) []string {
	if prevGraph == nil {
		return nil
	}
	var ids []string
	for _, node := range prevGraph.Nodes {
		for _, mention := range node.Mentions {
			point := models.TextRange{Start: mention, End: mention + len(node.Name)}
			if overlapsAny(point, oldRanges, p.thresholds.OverlapBuffer) {
				ids = append(ids, node.ID)
				break
			}
		}
	}
	return ids
}

// patchEntities 被波及实体占多数时整图重建；否则重抽取并与旧图合并：
// 两端都未被波及的边保留旧边、证据取去重并集（旧在前新在后），
// 任一端被波及的边直接采用新抽取结果（上下文确实变了，不做合并）
func (p *Processor) patchEntities(newText string, delta *models.ManuscriptDelta, prev *models.ManuscriptIntelligence, stats *models.ProcessingStats) (*models.EntityGraph, error) {
	affectedSet := make(map[string]bool, len(delta.AffectedEntities))
	for _, id := range delta.AffectedEntities {
		affectedSet[id] = true
	}

	prevGraph := prev.Entities
	prevNodeCount := 0
	if prevGraph != nil {
		prevNodeCount = len(prevGraph.Nodes)
	}

	fresh, err := p.entities.Extract(newText)
	if err != nil {
		return nil, err
	}

	if prevNodeCount > 0 && float64(len(delta.AffectedEntities)) > p.thresholds.MajorityFraction*float64(prevNodeCount) {
		if stats.FullReprocessReason == "" {
			stats.FullReprocessReason = models.ReasonMajorityEntities
		}
		stats.EntitiesUpdated = len(fresh.Nodes)
		stats.EntitiesReused = 0
		return fresh, nil
	}

	prevNodes := make(map[string]bool, prevNodeCount)
	prevEdges := make(map[string]*models.EntityEdge)
	if prevGraph != nil {
		for _, n := range prevGraph.Nodes {
			prevNodes[n.ID] = true
		}
		for i := range prevGraph.Edges {
			e := &prevGraph.Edges[i]
			prevEdges[edgeKey(e.Source, e.Target)] = e
		}
	}

	merged := &models.EntityGraph{
		Nodes: fresh.Nodes,
		Edges: make([]models.EntityEdge, 0, len(fresh.Edges)),
	}
	for _, n := range fresh.Nodes {
		if prevNodes[n.ID] && !affectedSet[n.ID] {
			stats.EntitiesReused++
		} else {
			stats.EntitiesUpdated++
		}
	}

	for _, freshEdge := range fresh.Edges {
		prevEdge, known := prevEdges[edgeKey(freshEdge.Source, freshEdge.Target)]
		touched := affectedSet[freshEdge.Source] || affectedSet[freshEdge.Target]
		if !known || touched {
			merged.Edges = append(merged.Edges, freshEdge)
			continue
		}
		// 未被波及的边：保留旧边，追加新证据，跨无关编辑累积证据
		kept := *prevEdge
		kept.Evidence = unionEvidence(prevEdge.Evidence, freshEdge.Evidence)
		merged.Edges = append(merged.Edges, kept)
	}
	return merged, nil
}

func edgeKey(source, target string) string {
	if source > target {
		source, target = target, source
	}
	return source + "→" + target
}

// unionEvidence 去重并集，旧证据在前、新证据在后
func unionEvidence(old, fresh []string) []string {
	seen := make(map[string]bool, len(old)+len(fresh))
	out := make([]string, 0, len(old)+len(fresh))
	for _, e := range old {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, e := range fresh {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// ------------------------------------
// 坐标换算与伏笔跟踪
// ------------------------------------

// oldCoordinateRanges 把变更区间换算回旧文本坐标系
// 区间有序，逐个累计净长度差即可
func oldCoordinateRanges(delta *models.ManuscriptDelta) []models.TextRange {
	var ranges []models.TextRange
	shift := 0
	for _, r := range delta.ChangedRanges {
		oldStart := r.Start - shift
		if oldStart < 0 {
			oldStart = 0
		}
		pad := r.Length() - len(r.NewText)
		if pad < 0 {
			pad = 0
		}
		ranges = append(ranges, models.TextRange{Start: oldStart, End: oldStart + len(r.OldText) + pad})
		shift += len(r.NewText) - len(r.OldText)
	}
	return ranges
}

// netShiftBefore 给定旧坐标位置之前所有变更的净长度差之和
func netShiftBefore(delta *models.ManuscriptDelta, oldOffset int) int {
	shift := 0
	total := 0
	for _, r := range delta.ChangedRanges {
		oldStart := r.Start - shift
		oldEnd := oldStart + len(r.OldText)
		net := len(r.NewText) - len(r.OldText)
		if oldEnd <= oldOffset {
			total += net
		}
		shift += net
	}
	return total
}

func overlapsAny(r models.TextRange, ranges []models.TextRange, buffer int) bool {
	for _, other := range ranges {
		if RangesOverlap(r, other, buffer) {
			return true
		}
	}
	return false
}

// trackPromiseChanges 对比前后伏笔集合，把新增/新回收的伏笔ID写入 delta
func trackPromiseChanges(delta *models.ManuscriptDelta, prevTimeline, newTimeline *models.TimelineAnalysis) {
	prevByQuote := make(map[string]models.PlotPromise, len(prevTimeline.Promises))
	for _, p := range prevTimeline.Promises {
		prevByQuote[p.Quote] = p
	}
	for _, p := range newTimeline.Promises {
		old, existed := prevByQuote[p.Quote]
		if !existed {
			delta.NewPromises = append(delta.NewPromises, p.ID)
			continue
		}
		if !old.Resolved && p.Resolved {
			delta.ResolvedPromises = append(delta.ResolvedPromises, p.ID)
		}
	}
}

// hudCursor 处理器自身没有光标信息，用最后一个变更区间的末尾近似编辑位置
// API 层在任意光标位置用 BuildHUD 以 instant 档位重建
func hudCursor(delta *models.ManuscriptDelta, textLen int) int {
	if len(delta.ChangedRanges) == 0 {
		return 0
	}
	last := delta.ChangedRanges[len(delta.ChangedRanges)-1]
	cursor := last.End
	if cursor > textLen {
		cursor = textLen
	}
	return cursor
}
