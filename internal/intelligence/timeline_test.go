// internal/intelligence/timeline_test.go
package intelligence

import (
	"strings"
	"testing"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func findPromise(promises []models.PlotPromise, substr string) *models.PlotPromise {
	for i := range promises {
		if strings.Contains(promises[i].Quote, substr) {
			return &promises[i]
		}
	}
	return nil
}

func TestTimelineTracker_EmptyText(t *testing.T) {
	tr := NewTimelineTracker()
	a, err := tr.Track("", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events) != 0 || len(a.Causal) != 0 || len(a.Promises) != 0 {
		t.Errorf("空文本应产出空时间线")
	}
}

func TestTimelineTracker_MarkerEvents(t *testing.T) {
	tr := NewTimelineTracker()
	text := "The next morning the fleet set sail. Hours earlier the harbor had been silent."

	a, err := tr.Track(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events) != 2 {
		t.Fatalf("期望2个时间标记事件, got %d", len(a.Events))
	}
	// 事件按偏移升序
	for i := 1; i < len(a.Events); i++ {
		if a.Events[i].Offset < a.Events[i-1].Offset {
			t.Errorf("事件应按偏移升序")
		}
	}
	if a.Events[0].Position != models.PositionAfter {
		t.Errorf("the next morning 应归为 after, got %q", a.Events[0].Position)
	}
	if a.Events[1].Position != models.PositionBefore {
		t.Errorf("hours earlier 应归为 before, got %q", a.Events[1].Position)
	}
	for _, ev := range a.Events {
		if ev.ID == "" || ev.TemporalMarker == "" {
			t.Errorf("标记事件应携带ID和时间标记: %+v", ev)
		}
	}
}

func TestTimelineTracker_SceneOpeningEvents(t *testing.T) {
	tr := NewTimelineTracker()
	text := "The siege began at first light. Arrows darkened the sky."
	structural := &models.StructuralAnalysis{
		Scenes: []models.StructuralScene{
			{TextRange: models.TextRange{Start: 0, End: len(text)}, Kind: models.ElementScene},
		},
	}

	a, err := tr.Track(text, structural, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events) != 1 {
		t.Fatalf("每个场景开头应产出1个事件, got %d", len(a.Events))
	}
	if a.Events[0].Offset != 0 {
		t.Errorf("事件偏移应为场景起点, got %d", a.Events[0].Offset)
	}
	if !strings.Contains(a.Events[0].Description, "The siege began") {
		t.Errorf("事件描述应为场景首句, got %q", a.Events[0].Description)
	}
}

func TestTimelineTracker_CausalBecause(t *testing.T) {
	tr := NewTimelineTracker()
	text := "The bridge collapsed because the ropes had rotted."

	a, err := tr.Track(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Causal) != 1 {
		t.Fatalf("期望1条因果链, got %d", len(a.Causal))
	}
	link := a.Causal[0]
	if link.Connective != "because" {
		t.Errorf("Connective = %q", link.Connective)
	}
	if link.Confidence != 0.9 {
		t.Errorf("because 的置信度 = %v, want 0.9", link.Confidence)
	}

	var cause, effect *models.TimelineEvent
	for i := range a.Events {
		switch a.Events[i].ID {
		case link.CauseID:
			cause = &a.Events[i]
		case link.EffectID:
			effect = &a.Events[i]
		}
	}
	if cause == nil || effect == nil {
		t.Fatalf("因果链引用的事件应存在于事件列表")
	}
	// because 引导原因从句：从句为因，主句为果
	if !strings.Contains(cause.Description, "ropes had rotted") {
		t.Errorf("原因 = %q, 应为从句", cause.Description)
	}
	if !strings.Contains(effect.Description, "bridge collapsed") {
		t.Errorf("结果 = %q, 应为主句", effect.Description)
	}
	found := false
	for _, dep := range effect.DependsOn {
		if dep == cause.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("结果事件应依赖原因事件")
	}
}

func TestTimelineTracker_CausalTherefore(t *testing.T) {
	tr := NewTimelineTracker()
	text := "The gates were sealed, therefore the envoys camped outside."

	a, err := tr.Track(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Causal) != 1 {
		t.Fatalf("期望1条因果链, got %d", len(a.Causal))
	}
	link := a.Causal[0]
	var cause *models.TimelineEvent
	for i := range a.Events {
		if a.Events[i].ID == link.CauseID {
			cause = &a.Events[i]
		}
	}
	if cause == nil || !strings.Contains(cause.Description, "gates were sealed") {
		t.Errorf("therefore 前句为因, got %+v", cause)
	}
	if link.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", link.Confidence)
	}
}

func TestTimelineTracker_PromisesAndResolution(t *testing.T) {
	tr := NewTimelineTracker()
	text := "Bren promised to return the heirloom before winter. " +
		"Little did Aria know the map was cursed. " +
		"Seasons turned and the roads grew cold. " +
		"At last Bren came back, and the heirloom was home, as promised."

	a, err := tr.Track(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	setup := findPromise(a.Promises, "promised to return")
	if setup == nil {
		t.Fatalf("应识别出承诺型伏笔, promises=%+v", a.Promises)
	}
	if setup.Type != models.PromiseSetup {
		t.Errorf("Type = %q, want setup", setup.Type)
	}
	if !setup.Resolved {
		t.Errorf("后文有回收措辞, 伏笔应标为已回收")
	}

	fore := findPromise(a.Promises, "Little did Aria know")
	if fore == nil {
		t.Fatalf("应识别出预示型伏笔")
	}
	if fore.Type != models.PromiseForeshadowing {
		t.Errorf("Type = %q, want foreshadowing", fore.Type)
	}
	if fore.Resolved {
		t.Errorf("地图线索没有回收, 应保持未回收")
	}

	// 伏笔按埋设位置升序
	for i := 1; i < len(a.Promises); i++ {
		if a.Promises[i].Offset < a.Promises[i-1].Offset {
			t.Errorf("伏笔应按偏移升序")
		}
	}

	open := a.OpenPromises()
	for _, p := range open {
		if p.Resolved {
			t.Errorf("OpenPromises 不应包含已回收伏笔")
		}
	}
}
