// internal/intelligence/structural_test.go
package intelligence

import (
	"strings"
	"testing"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func TestStructuralParser_EmptyText(t *testing.T) {
	p := NewStructuralParser()
	analysis, err := p.Parse("   \n\n  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Scenes) != 0 || len(analysis.Paragraphs) != 0 || len(analysis.Dialogue) != 0 {
		t.Errorf("空文本应产出空分析结果")
	}
	if analysis.Scenes == nil || analysis.Paragraphs == nil || analysis.Dialogue == nil {
		t.Errorf("切片应初始化为空而非 nil，便于直接序列化")
	}
}

func TestStructuralParser_SceneBreakLine(t *testing.T) {
	p := NewStructuralParser()
	text := "Aria watched the tide roll in. She counted the ships one by one.\n\n* * *\n\nBren waited at the harbor gate. He sharpened his blade in silence."

	analysis, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Scenes) != 2 {
		t.Fatalf("分隔线应切出2个场景, got %d", len(analysis.Scenes))
	}
	breakAt := strings.Index(text, "* * *")
	if analysis.Scenes[0].End > breakAt {
		t.Errorf("第一个场景不应越过分隔线: end=%d break=%d", analysis.Scenes[0].End, breakAt)
	}
	if analysis.Scenes[1].Start < breakAt {
		t.Errorf("第二个场景应在分隔线之后: start=%d", analysis.Scenes[1].Start)
	}
	// 场景按起始偏移升序
	if analysis.Scenes[0].Start >= analysis.Scenes[1].Start {
		t.Errorf("场景应升序排列")
	}
	for _, s := range analysis.Scenes {
		if s.Kind != models.ElementScene {
			t.Errorf("场景应携带 scene 标签, got %q", s.Kind)
		}
	}
	if analysis.Stats.SceneCount != 2 {
		t.Errorf("Stats.SceneCount = %d, want 2", analysis.Stats.SceneCount)
	}
}

func TestStructuralParser_BlankLineBreak(t *testing.T) {
	p := NewStructuralParser()
	text := "The council argued late into the evening about the treaty.\n\n\n\nMorning found the chamber empty and cold."

	analysis, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Scenes) != 2 {
		t.Errorf("三个以上连续换行应视为场景切换, got %d 个场景", len(analysis.Scenes))
	}
}

func TestStructuralParser_MixedBreaksStayOrdered(t *testing.T) {
	p := NewStructuralParser()
	// 空行切换出现在分隔线之前，边界按两轮扫描收集，
	// 场景顺序必须依偏移而不是收集顺序
	text := "The fleet left the harbor before dawn broke over the cliffs.\n\n\n\nAria read the ledger twice and said nothing to the clerk.\n\n* * *\n\nBren climbed the watchtower and lit the warning beacon alone."

	analysis, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(analysis.Scenes) != 3 {
		t.Fatalf("混合分隔应切出3个场景, got %d", len(analysis.Scenes))
	}
	for i, s := range analysis.Scenes {
		if s.Start >= s.End {
			t.Errorf("场景 %d 的范围无效: [%d, %d)", i, s.Start, s.End)
		}
		if i > 0 && s.Start < analysis.Scenes[i-1].End {
			t.Errorf("场景 %d 与前一个场景重叠: start=%d prevEnd=%d", i, s.Start, analysis.Scenes[i-1].End)
		}
	}
	if !strings.Contains(text[analysis.Scenes[2].Start:analysis.Scenes[2].End], "warning beacon") {
		t.Errorf("最后一个场景内容错误")
	}
}

func TestStructuralParser_SceneTyping(t *testing.T) {
	p := NewStructuralParser()

	// 对话占比过半 → dialogue
	dialogueHeavy := `"Run to the gate right now!" said Bren. "They are coming for all of us!"`
	a, err := p.Parse(dialogueHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Scenes) != 1 || a.Scenes[0].Type != models.SceneDialogue {
		t.Errorf("对话主导的场景应标为 dialogue, got %+v", a.Scenes)
	}

	// 无对话的短场景 → transition
	short := "They crossed the river at dusk."
	a, err = p.Parse(short)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Scenes) != 1 || a.Scenes[0].Type != models.SceneTransition {
		t.Errorf("短过场应标为 transition, got %+v", a.Scenes)
	}
}

func TestStructuralParser_POVLocationTimeMarker(t *testing.T) {
	p := NewStructuralParser()
	text := "That night I walked for hours. I kept my hood low in the Harbor Market. I knew someone was following me, and my hands would not stop shaking."

	a, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Scenes) != 1 {
		t.Fatalf("期望1个场景, got %d", len(a.Scenes))
	}
	scene := a.Scenes[0]
	if scene.POV != "first" {
		t.Errorf("POV = %q, want first", scene.POV)
	}
	if scene.Location != "Harbor Market" {
		t.Errorf("Location = %q, want Harbor Market", scene.Location)
	}
	if scene.TimeMarker == "" {
		t.Errorf("应识别出时间标记 (that night)")
	}
}

func TestStructuralParser_DialogueAttribution(t *testing.T) {
	p := NewStructuralParser()
	text := `"Where is the ledger?" asked Aria. Bren said, "It was gone when I arrived."`

	a, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Dialogue) != 2 {
		t.Fatalf("期望2句对话, got %d", len(a.Dialogue))
	}
	if a.Dialogue[0].Speaker != "Aria" {
		t.Errorf("引号后归属: Speaker = %q, want Aria", a.Dialogue[0].Speaker)
	}
	if a.Dialogue[1].Speaker != "Bren" {
		t.Errorf("引号前归属: Speaker = %q, want Bren", a.Dialogue[1].Speaker)
	}
	if a.Dialogue[0].Text != "Where is the ledger?" {
		t.Errorf("对话文本应去掉引号, got %q", a.Dialogue[0].Text)
	}
	if a.Dialogue[0].Kind != models.ElementDialogue {
		t.Errorf("对话行应携带 dialogue 标签")
	}
}

func TestStructuralParser_Paragraphs(t *testing.T) {
	p := NewStructuralParser()
	text := "The storm rolled in from the west. Rain hammered the roof.\n\n\"We should leave,\" said Mara.\n\nNobody moved."

	a, err := p.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Paragraphs) != 3 {
		t.Fatalf("期望3个段落, got %d", len(a.Paragraphs))
	}
	if a.Paragraphs[0].IsDialogue {
		t.Errorf("第一段没有对话")
	}
	if !a.Paragraphs[1].IsDialogue {
		t.Errorf("第二段包含对话")
	}
	if a.Paragraphs[0].SentenceCount != 2 {
		t.Errorf("第一段句数 = %d, want 2", a.Paragraphs[0].SentenceCount)
	}
	// 段落偏移应落在文本范围内且不重叠
	for i, para := range a.Paragraphs {
		if para.Start < 0 || para.End > len(text) {
			t.Errorf("段落 %d 偏移越界", i)
		}
		if i > 0 && para.Start < a.Paragraphs[i-1].End {
			t.Errorf("段落 %d 与前一段重叠", i)
		}
	}
}

func TestSceneAt_BinarySearch(t *testing.T) {
	a := &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: 100}},
			{TextRange: models.TextRange{Start: 120, End: 300}},
			{TextRange: models.TextRange{Start: 300, End: 450}},
		},
	}
	cases := []struct {
		offset int
		want   int
	}{
		{0, 0}, {99, 0}, {100, -1}, {110, -1}, {120, 1}, {299, 1}, {300, 2}, {449, 2}, {450, -1}, {9999, -1},
	}
	for _, c := range cases {
		if got := a.SceneAt(c.offset); got != c.want {
			t.Errorf("SceneAt(%d) = %d, want %d", c.offset, got, c.want)
		}
	}
}
