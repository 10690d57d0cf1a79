// internal/intelligence/delta_tracker_test.go
package intelligence

import (
	"strings"
	"testing"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func TestHashContent(t *testing.T) {
	h1 := HashContent("the quiet harbor at dawn")
	h2 := HashContent("the quiet harbor at dawn")
	h3 := HashContent("the quiet harbor at dusk")

	if h1 != h2 {
		t.Fatalf("相同文本应产生相同哈希: %s != %s", h1, h2)
	}
	if h1 == h3 {
		t.Fatalf("不同文本不应产生相同哈希")
	}
	if len(h1) != 64 {
		t.Fatalf("哈希长度应为64个十六进制字符, got %d", len(h1))
	}
}

func TestCreateDelta_HashShortCircuit(t *testing.T) {
	text := "The ship left the harbor before sunrise."
	hash := HashContent(text)

	delta := CreateDelta("anything", text, "ch1", hash)
	if !delta.IsEmpty() {
		t.Fatalf("prevHash 与新文本哈希一致时应返回空变更集, got %d ranges", len(delta.ChangedRanges))
	}
	if delta.ContentHash != hash {
		t.Fatalf("delta 应携带新文本哈希")
	}
}

func TestCreateDelta_IdenticalText(t *testing.T) {
	text := "Nothing changed here."
	delta := CreateDelta(text, text, "ch1", "")
	if !delta.IsEmpty() {
		t.Fatalf("相同文本应产生空变更集")
	}
}

func TestCreateDelta_PureInsertion(t *testing.T) {
	oldText := "The captain stood at the helm. The storm was close."
	newText := "The captain stood at the helm. She gripped the wheel. The storm was close."

	delta := CreateDelta(oldText, newText, "ch1", "")
	if len(delta.ChangedRanges) != 1 {
		t.Fatalf("期望1个变更区间, got %d", len(delta.ChangedRanges))
	}
	r := delta.ChangedRanges[0]
	if r.ChangeType != models.ChangeInsert {
		t.Errorf("期望 insert, got %s", r.ChangeType)
	}
	if r.OldText != "" {
		t.Errorf("纯插入的 OldText 应为空, got %q", r.OldText)
	}
	if !strings.Contains(r.NewText, "gripped the wheel") {
		t.Errorf("NewText 应包含插入内容, got %q", r.NewText)
	}
	if r.Start < 0 || r.End > len(newText) {
		t.Errorf("区间越界: [%d,%d) 文本长度 %d", r.Start, r.End, len(newText))
	}
}

func TestCreateDelta_PureDeletion(t *testing.T) {
	oldText := "The captain stood at the helm. She gripped the wheel. The storm was close."
	newText := "The captain stood at the helm. The storm was close."

	delta := CreateDelta(oldText, newText, "ch1", "")
	if len(delta.ChangedRanges) != 1 {
		t.Fatalf("期望1个变更区间, got %d", len(delta.ChangedRanges))
	}
	r := delta.ChangedRanges[0]
	if r.ChangeType != models.ChangeDelete {
		t.Errorf("期望 delete, got %s", r.ChangeType)
	}
	if r.NewText != "" {
		t.Errorf("纯删除的 NewText 应为空, got %q", r.NewText)
	}
	if !strings.Contains(r.OldText, "gripped the wheel") {
		t.Errorf("OldText 应包含被删内容, got %q", r.OldText)
	}
}

func TestCreateDelta_Replacement(t *testing.T) {
	oldText := "The harbor was calm that morning."
	newText := "The harbor was wild that morning."

	delta := CreateDelta(oldText, newText, "ch1", "")
	if len(delta.ChangedRanges) != 1 {
		t.Fatalf("期望1个变更区间, got %d", len(delta.ChangedRanges))
	}
	r := delta.ChangedRanges[0]
	if r.ChangeType != models.ChangeModify {
		t.Errorf("期望 modify, got %s", r.ChangeType)
	}
	if r.OldText == "" || r.NewText == "" {
		t.Errorf("替换应同时携带新旧文本")
	}
}

func TestCreateDelta_MultipleRanges(t *testing.T) {
	oldText := "First line stays put.\nSecond line will change.\nThird anchor line remains.\nFourth line also changes.\nFifth line stays too.\n"
	newText := "First line stays put.\nSecond line has changed already.\nThird anchor line remains.\nFourth line is rewritten.\nFifth line stays too.\n"

	delta := CreateDelta(oldText, newText, "ch1", "")
	if len(delta.ChangedRanges) != 2 {
		t.Fatalf("两处独立编辑应产生2个变更区间, got %d", len(delta.ChangedRanges))
	}
	// 区间按新文本坐标升序
	if delta.ChangedRanges[0].Start > delta.ChangedRanges[1].Start {
		t.Errorf("变更区间应按起始偏移升序")
	}
	if len(delta.InvalidatedSections) == 0 {
		t.Errorf("失效区段不应为空")
	}
}

func TestRangesOverlap_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		a, b   models.TextRange
		buffer int
		want   bool
	}{
		{"相同区间重叠", models.TextRange{Start: 10, End: 20}, models.TextRange{Start: 10, End: 20}, 0, true},
		{"同点零长度区间重叠", models.TextRange{Start: 5, End: 5}, models.TextRange{Start: 5, End: 5}, 0, true},
		{"仅相邻不重叠", models.TextRange{Start: 0, End: 5}, models.TextRange{Start: 5, End: 10}, 0, false},
		{"相邻但在缓冲内重叠", models.TextRange{Start: 0, End: 5}, models.TextRange{Start: 5, End: 10}, 1, true},
		{"相距50在默认缓冲内", models.TextRange{Start: 0, End: 10}, models.TextRange{Start: 60, End: 70}, 50, true},
		{"相距超出缓冲不重叠", models.TextRange{Start: 0, End: 10}, models.TextRange{Start: 200, End: 210}, 50, false},
		{"包含关系重叠", models.TextRange{Start: 0, End: 100}, models.TextRange{Start: 40, End: 60}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RangesOverlap(tt.a, tt.b, tt.buffer); got != tt.want {
				t.Errorf("RangesOverlap(%v, %v, %d) = %v, want %v", tt.a, tt.b, tt.buffer, got, tt.want)
			}
		})
	}
}

func TestRangesOverlap_Symmetry(t *testing.T) {
	ranges := []models.TextRange{
		{Start: 0, End: 0}, {Start: 0, End: 10}, {Start: 5, End: 5},
		{Start: 8, End: 30}, {Start: 31, End: 31}, {Start: 100, End: 250},
	}
	buffers := []int{0, 1, 50, 100}
	for _, a := range ranges {
		for _, b := range ranges {
			for _, buf := range buffers {
				if RangesOverlap(a, b, buf) != RangesOverlap(b, a, buf) {
					t.Fatalf("RangesOverlap 不对称: a=%v b=%v buffer=%d", a, b, buf)
				}
			}
		}
	}
}

func TestRangesOverlap_Monotonicity(t *testing.T) {
	ranges := []models.TextRange{
		{Start: 0, End: 10}, {Start: 15, End: 15}, {Start: 40, End: 80}, {Start: 200, End: 210},
	}
	buffers := []int{0, 5, 25, 80, 200}
	for _, a := range ranges {
		for _, b := range ranges {
			for i := 0; i < len(buffers)-1; i++ {
				// buffer 增大只会增加重叠，不会消除
				if RangesOverlap(a, b, buffers[i]) && !RangesOverlap(a, b, buffers[i+1]) {
					t.Fatalf("单调性被破坏: a=%v b=%v buffer %d→%d", a, b, buffers[i], buffers[i+1])
				}
			}
		}
	}
}
