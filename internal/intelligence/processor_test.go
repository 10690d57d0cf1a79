// internal/intelligence/processor_test.go
package intelligence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// ------------------------------------
// 可替换的桩分析器：记录调用次数，返回预设结果
// ------------------------------------

type stubStructural struct {
	result *models.StructuralAnalysis
	err    error
	calls  int
}

func (s *stubStructural) Parse(text string) (*models.StructuralAnalysis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &models.StructuralAnalysis{}, nil
}

type stubEntities struct {
	result *models.EntityGraph
	calls  int
}

func (s *stubEntities) Extract(text string) (*models.EntityGraph, error) {
	s.calls++
	if s.result != nil {
		return s.result, nil
	}
	return &models.EntityGraph{}, nil
}

type stubTimeline struct{ calls int }

func (s *stubTimeline) Track(text string, structural *models.StructuralAnalysis, entities *models.EntityGraph) (*models.TimelineAnalysis, error) {
	s.calls++
	return &models.TimelineAnalysis{}, nil
}

type stubStyle struct{ calls int }

func (s *stubStyle) Analyze(text string, structural *models.StructuralAnalysis) (*models.StyleAnalysis, error) {
	s.calls++
	return &models.StyleAnalysis{}, nil
}

type stubVoice struct{ calls int }

func (s *stubVoice) Profile(text string, dialogue []models.DialogueLine) (*models.VoiceAnalysis, error) {
	s.calls++
	return &models.VoiceAnalysis{}, nil
}

type stubHeatmap struct{ calls int }

func (s *stubHeatmap) Build(text string, structural *models.StructuralAnalysis, style *models.StyleAnalysis, timeline *models.TimelineAnalysis) (*models.Heatmap, error) {
	s.calls++
	return &models.Heatmap{}, nil
}

type stubSet struct {
	structural *stubStructural
	entities   *stubEntities
	timeline   *stubTimeline
	style      *stubStyle
	voice      *stubVoice
	heatmap    *stubHeatmap
}

func newStubProcessor() (*Processor, *stubSet) {
	set := &stubSet{
		structural: &stubStructural{},
		entities:   &stubEntities{},
		timeline:   &stubTimeline{},
		style:      &stubStyle{},
		voice:      &stubVoice{},
		heatmap:    &stubHeatmap{},
	}
	p := NewProcessor(DefaultThresholds()).
		WithAnalyzers(set.structural, set.entities, set.timeline, set.style, set.voice, set.heatmap)
	return p, set
}

// syntheticText 生成内容互不重复的确定性文本，避免 diff 被重复内容干扰
func syntheticText(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; b.Len() < n; i++ {
		b.WriteByte(byte('a' + (i*7+i/26)%26))
		if i%60 == 59 {
			b.WriteByte(' ')
		}
	}
	return b.String()[:n]
}

func snapshotFor(text, chapterID string) *models.ManuscriptIntelligence {
	return &models.ManuscriptIntelligence{
		ChapterID:  chapterID,
		Structural: &models.StructuralAnalysis{},
		Entities:   &models.EntityGraph{},
		Timeline:   &models.TimelineAnalysis{},
		Style:      &models.StyleAnalysis{},
		Voice:      &models.VoiceAnalysis{},
		Heatmap:    &models.Heatmap{},
		Delta: &models.ManuscriptDelta{
			ChapterID:   chapterID,
			ContentHash: HashContent(text),
			ProcessedAt: time.Now(),
		},
		CreatedAt: time.Now(),
	}
}

// replaceAt 把 text 的 [start,end) 替换为 repl
func replaceAt(text string, start, end int, repl string) string {
	return text[:start] + repl + text[end:]
}

// ------------------------------------
// 恒等与空变更
// ------------------------------------

func TestProcessIncremental_NoOpIdentity(t *testing.T) {
	p, set := newStubProcessor()
	text := syntheticText(3000)
	prev := snapshotFor(text, "ch1")

	intel, stats, err := p.ProcessIncremental(text, "ch1", text, prev)
	if err != nil {
		t.Fatalf("no-op 不应报错: %v", err)
	}
	if intel != prev {
		t.Fatalf("哈希一致时应返回同一个快照引用")
	}
	if stats.ScenesReprocessed != 0 || stats.ScenesReused != 0 ||
		stats.EntitiesUpdated != 0 || stats.EntitiesReused != 0 || stats.StyleRecomputed {
		t.Fatalf("no-op 的统计应全部为零: %+v", stats)
	}
	total := set.structural.calls + set.entities.calls + set.timeline.calls +
		set.style.calls + set.voice.calls + set.heatmap.calls
	if total != 0 {
		t.Fatalf("no-op 不应调用任何分析器, 共调用 %d 次", total)
	}
}

func TestProcessIncremental_EmptyDeltaPatchesHashOnly(t *testing.T) {
	p, set := newStubProcessor()
	text := syntheticText(2000)
	prev := snapshotFor(text, "ch1")
	prev.Delta = nil // 快照没有已知哈希，但文本未变

	intel, _, err := p.ProcessIncremental(text, "ch1", text, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intel == prev {
		t.Fatalf("应返回携带新哈希的快照副本")
	}
	if intel.Delta == nil || intel.Delta.ContentHash != HashContent(text) {
		t.Fatalf("副本应携带新文本哈希")
	}
	if intel.Structural != prev.Structural {
		t.Fatalf("空变更时结构分析应原样沿用")
	}
	if set.structural.calls != 0 {
		t.Fatalf("空变更不应触发解析")
	}
}

// ------------------------------------
// ShouldUseIncremental 策略
// ------------------------------------

func TestShouldUseIncremental_VolumeBoundary(t *testing.T) {
	p := NewProcessor(DefaultThresholds())
	makeDelta := func(volume int) *models.ManuscriptDelta {
		return &models.ManuscriptDelta{
			ChangedRanges: []models.ChangedRange{{
				TextRange:  models.TextRange{Start: 0, End: volume},
				ChangeType: models.ChangeModify,
				OldText:    strings.Repeat("x", volume),
				NewText:    strings.Repeat("y", volume),
			}},
		}
	}

	if !p.ShouldUseIncremental(makeDelta(290), 1000) {
		t.Errorf("0.29x 总量应走增量")
	}
	if p.ShouldUseIncremental(makeDelta(310), 1000) {
		t.Errorf("0.31x 总量应整体重算")
	}
	// 边界值：严格大于才触发整体重算，恰好30%仍走增量
	if !p.ShouldUseIncremental(makeDelta(300), 1000) {
		t.Errorf("恰好 0.30x 应走增量（严格大于语义）")
	}
}

func TestShouldUseIncremental_RangeCountCeiling(t *testing.T) {
	p := NewProcessor(DefaultThresholds())
	delta := &models.ManuscriptDelta{}
	for i := 0; i < 21; i++ {
		delta.ChangedRanges = append(delta.ChangedRanges, models.ChangedRange{
			TextRange:  models.TextRange{Start: i * 100, End: i*100 + 1},
			ChangeType: models.ChangeModify,
			OldText:    "a", NewText: "b",
		})
	}
	if p.ShouldUseIncremental(delta, 100000) {
		t.Errorf("超过20个变更区间应整体重算")
	}
	if p.ShouldUseIncremental(&models.ManuscriptDelta{}, 1000) {
		t.Errorf("空变更集没有修补依据, 应返回 false")
	}
}

// ------------------------------------
// 场景复用
// ------------------------------------

func TestProcessIncremental_SceneEnrichmentReuse(t *testing.T) {
	oldText := syntheticText(1200)
	newText := replaceAt(oldText, 10, 20, strings.Repeat("Q", 20)) // [10,20) 替换为20字符，净+10

	p, set := newStubProcessor()
	set.structural.result = &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 90}, Kind: models.ElementScene, Type: models.SceneMixed},
			{TextRange: models.TextRange{Start: 1010, End: 1110}, Kind: models.ElementScene, Type: models.SceneMixed},
		},
	}

	prev := snapshotFor(oldText, "ch1")
	prev.Structural = &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 80}, Kind: models.ElementScene},
			{TextRange: models.TextRange{Start: 1000, End: 1100}, Kind: models.ElementScene, POV: "first", Location: "Mars"},
		},
	}

	intel, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ScenesReused != 1 {
		t.Errorf("ScenesReused = %d, want 1", stats.ScenesReused)
	}
	second := intel.Structural.Scenes[1]
	if second.POV != "first" || second.Location != "Mars" {
		t.Errorf("空间对应的场景应保留增益字段, got pov=%q location=%q", second.POV, second.Location)
	}
	// 被编辑覆盖的第一个场景不应复用
	if stats.ScenesReprocessed != 1 {
		t.Errorf("ScenesReprocessed = %d, want 1", stats.ScenesReprocessed)
	}
}

func TestProcessIncremental_StructuralThresholdRebuild(t *testing.T) {
	oldText := syntheticText(10000)
	newText := replaceAt(oldText, 100, 100, strings.Repeat("Z", 2500)) // 插入2500字符

	p, set := newStubProcessor()
	set.structural.result = &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 6000}, Kind: models.ElementScene},
			{TextRange: models.TextRange{Start: 6000, End: 12500}, Kind: models.ElementScene},
		},
	}
	prev := snapshotFor(oldText, "ch1")
	prev.Structural = &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 5000}, Kind: models.ElementScene, POV: "third"},
			{TextRange: models.TextRange{Start: 5000, End: 10000}, Kind: models.ElementScene, POV: "first"},
		},
	}

	_, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.FullReprocessReason != models.ReasonChangeSizeThreshold {
		t.Errorf("FullReprocessReason = %q, want %q", stats.FullReprocessReason, models.ReasonChangeSizeThreshold)
	}
	if stats.ScenesReused != 0 {
		t.Errorf("强制重建时 ScenesReused = %d, want 0", stats.ScenesReused)
	}
}

// ------------------------------------
// 实体合并
// ------------------------------------

func TestProcessIncremental_EdgeEvidenceMerge(t *testing.T) {
	oldText := syntheticText(1000)
	newText := replaceAt(oldText, 10, 20, strings.Repeat("Q", 10))

	prevGraph := &models.EntityGraph{
		Nodes: []models.EntityNode{
			{ID: "character:aria", Name: "Aria", Type: models.EntityCharacter, Mentions: []int{500}},
			{ID: "character:bren", Name: "Bren", Type: models.EntityCharacter, Mentions: []int{600}},
			{ID: "character:gamma", Name: "Gamma", Type: models.EntityCharacter, Mentions: []int{30}}, // 落在编辑区
		},
		Edges: []models.EntityEdge{{
			Source: "character:aria", Target: "character:bren",
			Relationship: "ally", CoOccurrence: 4, Sentiment: 0.5,
			Evidence: []string{"old1", "old2"},
		}},
	}
	freshGraph := &models.EntityGraph{
		Nodes: []models.EntityNode{
			{ID: "character:aria", Name: "Aria", Type: models.EntityCharacter, Mentions: []int{510}},
			{ID: "character:bren", Name: "Bren", Type: models.EntityCharacter, Mentions: []int{610}},
			{ID: "character:gamma", Name: "Gamma", Type: models.EntityCharacter, Mentions: []int{30}},
		},
		Edges: []models.EntityEdge{{
			Source: "character:aria", Target: "character:bren",
			Relationship: "ally", CoOccurrence: 1, Sentiment: 0.2,
			Evidence: []string{"new"},
		}},
	}

	p, set := newStubProcessor()
	set.entities.result = freshGraph
	prev := snapshotFor(oldText, "ch1")
	prev.Entities = prevGraph

	intel, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(intel.Delta.AffectedEntities) != 1 || intel.Delta.AffectedEntities[0] != "character:gamma" {
		t.Fatalf("AffectedEntities = %v, want [character:gamma]", intel.Delta.AffectedEntities)
	}
	if len(intel.Entities.Edges) != 1 {
		t.Fatalf("期望1条合并后的边, got %d", len(intel.Entities.Edges))
	}
	edge := intel.Entities.Edges[0]
	want := []string{"old1", "old2", "new"}
	if len(edge.Evidence) != len(want) {
		t.Fatalf("证据并集 = %v, want %v", edge.Evidence, want)
	}
	for i := range want {
		if edge.Evidence[i] != want[i] {
			t.Fatalf("证据顺序应为旧在前新在后: %v", edge.Evidence)
		}
	}
	// 未被波及的边保留旧边的情感分
	if edge.Sentiment != 0.5 {
		t.Errorf("未波及的边应保留旧情感分, got %v", edge.Sentiment)
	}
	if stats.EntitiesReused != 2 {
		t.Errorf("EntitiesReused = %d, want 2 （两个未波及节点）", stats.EntitiesReused)
	}
	if stats.EntitiesUpdated != 1 {
		t.Errorf("EntitiesUpdated = %d, want 1", stats.EntitiesUpdated)
	}
}

func TestProcessIncremental_MajorityEntitiesRebuild(t *testing.T) {
	oldText := syntheticText(1000)
	newText := replaceAt(oldText, 10, 20, strings.Repeat("Q", 10))

	// 4个节点中3个的提及位置落在编辑区附近
	prevGraph := &models.EntityGraph{
		Nodes: []models.EntityNode{
			{ID: "character:a", Name: "Aa", Mentions: []int{20}},
			{ID: "character:b", Name: "Bb", Mentions: []int{60}},
			{ID: "character:c", Name: "Cc", Mentions: []int{90}},
			{ID: "character:d", Name: "Dd", Mentions: []int{900}},
		},
	}
	freshGraph := &models.EntityGraph{
		Nodes: []models.EntityNode{
			{ID: "character:a", Name: "Aa"}, {ID: "character:b", Name: "Bb"},
			{ID: "character:c", Name: "Cc"}, {ID: "character:d", Name: "Dd"},
			{ID: "character:e", Name: "Ee"},
		},
	}

	p, set := newStubProcessor()
	set.entities.result = freshGraph
	prev := snapshotFor(oldText, "ch1")
	prev.Entities = prevGraph

	intel, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.EntitiesUpdated != len(freshGraph.Nodes) {
		t.Errorf("多数实体被波及时应整图重建: EntitiesUpdated = %d, want %d", stats.EntitiesUpdated, len(freshGraph.Nodes))
	}
	if stats.EntitiesReused != 0 {
		t.Errorf("整图重建时 EntitiesReused = %d, want 0", stats.EntitiesReused)
	}
	if intel.Entities != freshGraph {
		t.Errorf("整图重建应直接采用新抽取结果")
	}
}

// ------------------------------------
// 文体跳过
// ------------------------------------

func TestProcessIncremental_StyleSkipSmallEdit(t *testing.T) {
	oldText := syntheticText(10000)
	newText := replaceAt(oldText, 5000, 5005, "QWERT") // 5字符修改

	p, set := newStubProcessor()
	prev := snapshotFor(oldText, "ch1")

	intel, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.style.calls != 0 {
		t.Errorf("小编辑不应调用文体分析器, calls = %d", set.style.calls)
	}
	if intel.Style != prev.Style {
		t.Errorf("跳过重算时 Style 应与旧快照引用相等")
	}
	if stats.StyleRecomputed {
		t.Errorf("StyleRecomputed 应为 false")
	}
}

// ------------------------------------
// 全量路径与错误传播
// ------------------------------------

func TestProcessIncremental_NoPrevSnapshot(t *testing.T) {
	p, set := newStubProcessor()
	text := syntheticText(500)

	intel, stats, err := p.ProcessIncremental(text, "ch1", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Incremental {
		t.Errorf("无旧快照时应走全量路径")
	}
	if stats.FullReprocessReason != models.ReasonNoPrevSnapshot {
		t.Errorf("FullReprocessReason = %q", stats.FullReprocessReason)
	}
	if intel.Delta == nil || intel.Delta.ContentHash != HashContent(text) {
		t.Errorf("快照哈希应与新文本一致")
	}
	if set.heatmap.calls != 1 {
		t.Errorf("热力图应重建一次, calls = %d", set.heatmap.calls)
	}
}

func TestProcessIncremental_ChapterMismatchFallsBackToFull(t *testing.T) {
	p, _ := newStubProcessor()
	oldText := syntheticText(1000)
	newText := replaceAt(oldText, 10, 20, "QQQQQQQQQQ")
	prev := snapshotFor(oldText, "other-chapter")

	_, stats, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err != nil {
		t.Fatalf("契约违例应退回全量而不是报错: %v", err)
	}
	if stats.Incremental {
		t.Errorf("章节不匹配应走全量路径")
	}
	if stats.FullReprocessReason != models.ReasonContractViolation {
		t.Errorf("FullReprocessReason = %q", stats.FullReprocessReason)
	}
}

func TestProcessIncremental_AnalyzerErrorPropagates(t *testing.T) {
	p, set := newStubProcessor()
	set.structural.err = errors.New("parser blew up")

	oldText := syntheticText(1000)
	newText := replaceAt(oldText, 10, 20, "QQQQQQQQQQ")
	prev := snapshotFor(oldText, "ch1")

	intel, _, err := p.ProcessIncremental(newText, "ch1", oldText, prev)
	if err == nil {
		t.Fatalf("分析器错误应向上传播")
	}
	if intel != nil {
		t.Fatalf("出错时不应部分提交快照")
	}
}

// ------------------------------------
// 默认分析器端到端
// ------------------------------------

func TestProcessIncremental_DefaultPipeline(t *testing.T) {
	p := NewProcessor(DefaultThresholds())

	text := `Aria Voss walked into the harbor tavern. "Where is Bren?" asked Aria.

Bren Kale sat in the corner. "You found me," said Bren. Aria smiled and trusted Bren.

* * *

That night, the storm arrived because the ritual had failed. Little did Aria know the map was cursed.`

	intel, stats, err := p.ProcessIncremental(text, "ch1", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Incremental {
		t.Errorf("首次处理应为全量")
	}

	// 快照自洽性：场景升序、偏移在界内、边引用的节点存在
	scenes := intel.Structural.Scenes
	for i := range scenes {
		if scenes[i].Start < 0 || scenes[i].End > len(text) {
			t.Errorf("场景 %d 偏移越界: [%d,%d)", i, scenes[i].Start, scenes[i].End)
		}
		if i > 0 && scenes[i].Start < scenes[i-1].Start {
			t.Errorf("场景应按 StartOffset 升序")
		}
	}
	nodeIDs := make(map[string]bool)
	for _, n := range intel.Entities.Nodes {
		nodeIDs[n.ID] = true
	}
	for _, e := range intel.Entities.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			t.Errorf("边引用了不存在的节点: %s → %s", e.Source, e.Target)
		}
	}
	if intel.HUD == nil {
		t.Fatalf("HUD 不应为空")
	}

	// 增量编辑：末尾追加一句
	newText := text + " The rain kept falling."
	intel2, stats2, err := p.ProcessIncremental(newText, "ch1", text, intel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats2.Incremental {
		t.Errorf("小幅追加应走增量路径")
	}
	if intel2.Delta.ContentHash != HashContent(newText) {
		t.Errorf("新快照哈希应描述新文本")
	}
	if intel2 == intel {
		t.Errorf("有实际变更时应产出新快照值")
	}
}
