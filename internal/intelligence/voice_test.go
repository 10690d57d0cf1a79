// internal/intelligence/voice_test.go
package intelligence

import (
	"testing"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func dialogueLine(speaker, text string, start int) models.DialogueLine {
	return models.DialogueLine{
		TextRange: models.TextRange{Start: start, End: start + len(text) + 2},
		Kind:      models.ElementDialogue,
		Speaker:   speaker,
		Text:      text,
	}
}

func TestVoiceProfiler_GroupsBySpeaker(t *testing.T) {
	p := NewVoiceProfiler()
	dialogue := []models.DialogueLine{
		dialogueLine("Aria", "We leave at dawn and we do not look back.", 0),
		dialogueLine("Bren", "Fine.", 60),
		dialogueLine("Aria", "Pack the maps and the ledger before sunrise.", 80),
		dialogueLine("Bren", "Fine by me.", 140),
		dialogueLine("", "Unattributed words drift in the dark.", 200),
	}

	a, err := p.Profile("", dialogue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Profiles) != 2 {
		t.Fatalf("期望2个说话人档案, got %d", len(a.Profiles))
	}
	// 档案按说话人字典序
	if a.Profiles[0].Speaker != "Aria" || a.Profiles[1].Speaker != "Bren" {
		t.Errorf("档案顺序 = %s, %s", a.Profiles[0].Speaker, a.Profiles[1].Speaker)
	}
	for _, prof := range a.Profiles {
		if prof.Impression == "" {
			t.Errorf("%s 的印象描述不应为空", prof.Speaker)
		}
	}
	// Bren 的短句应得到与 Aria 不同的句长度量
	if a.Profiles[1].Metrics.AvgSentenceLength >= a.Profiles[0].Metrics.AvgSentenceLength {
		t.Errorf("短句说话人的平均句长应更小: Aria=%v Bren=%v",
			a.Profiles[0].Metrics.AvgSentenceLength, a.Profiles[1].Metrics.AvgSentenceLength)
	}
}

func TestVoiceProfiler_SingleLineSpeakerSkipped(t *testing.T) {
	p := NewVoiceProfiler()
	dialogue := []models.DialogueLine{
		dialogueLine("Mara", "One line is not enough for a fingerprint.", 0),
	}
	a, err := p.Profile("", dialogue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Profiles) != 0 {
		t.Errorf("单句说话人不应建档, got %d", len(a.Profiles))
	}
}

func TestVoiceProfiler_ConsistencyAlert(t *testing.T) {
	p := NewVoiceProfiler()
	// 前半短句，后半长句：漂移远超四成
	dialogue := []models.DialogueLine{
		dialogueLine("Bren", "No.", 0),
		dialogueLine("Bren", "Maybe so.", 20),
		dialogueLine("Bren", "I have been thinking about the harbor and the ships we lost there.", 40),
		dialogueLine("Bren", "Every night I walk the same pier and count the same empty moorings again.", 120),
	}

	a, err := p.Profile("", dialogue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Alerts) != 1 {
		t.Fatalf("期望1条一致性告警, got %d", len(a.Alerts))
	}
	alert := a.Alerts[0]
	if alert.Speaker != "Bren" {
		t.Errorf("告警说话人 = %q", alert.Speaker)
	}
	if alert.Offset != dialogue[2].Start {
		t.Errorf("告警偏移应指向后半段起点: %d", alert.Offset)
	}
}

func TestHeatmapBuilder_RiskAndHotspots(t *testing.T) {
	b := NewHeatmapBuilder()
	text := make([]byte, 200)
	for i := range text {
		text[i] = 'x'
	}

	structural := &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 100}, Tension: 1.0, WordCount: 20},
			{TextRange: models.TextRange{Start: 100, End: 200}, Tension: 0.0, WordCount: 50},
		},
	}
	style := &models.StyleAnalysis{
		Flags: []models.StyleFlag{{
			Type:     models.FlagCliche,
			Severity: 0.7,
			Instances: []models.FlagInstance{
				{TextRange: models.TextRange{Start: 10, End: 20}, Text: "cold sweat"},
			},
		}},
	}
	timeline := &models.TimelineAnalysis{
		Promises: []models.PlotPromise{
			{ID: "pp-0000", Offset: 50, Resolved: false},
			{ID: "pp-0001", Offset: 150, Resolved: true},
		},
	}

	h, err := b.Build(string(text), structural, style, timeline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.Sections) != 2 {
		t.Fatalf("每个场景一个区段, got %d", len(h.Sections))
	}
	if h.Sections[0].Risk <= h.Sections[1].Risk {
		t.Errorf("标记密集且高张力的场景风险应更高: %v vs %v", h.Sections[0].Risk, h.Sections[1].Risk)
	}
	if h.Sections[1].Risk != 0 {
		t.Errorf("无标记无张力无伏笔的场景风险 = %v, want 0", h.Sections[1].Risk)
	}
	if len(h.Hotspots) != 1 {
		t.Fatalf("第一个场景应成为热点, got %d", len(h.Hotspots))
	}
	if h.Hotspots[0].Start != 0 || h.Hotspots[0].Risk != h.Sections[0].Risk {
		t.Errorf("热点应引用高风险区段: %+v", h.Hotspots[0])
	}
	// 已回收的伏笔不计入风险
	if len(h.Sections[1].Reasons) != 0 {
		t.Errorf("第二个场景不应有风险原因: %v", h.Sections[1].Reasons)
	}
}

func TestHeatmapBuilder_NoScenes(t *testing.T) {
	b := NewHeatmapBuilder()
	h, err := b.Build("some text", &models.StructuralAnalysis{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.Sections) != 0 || len(h.Hotspots) != 0 {
		t.Errorf("无场景时热力图应为空")
	}
}
