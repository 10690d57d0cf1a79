// internal/intelligence/delta_tracker.go
package intelligence

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/zeebo/blake3"
)

// 变更区间按类型附带的上下文缓冲（字节）
// 删除比插入需要更宽的上下文，因为周边句子的衔接更容易被破坏
const (
	insertContextPad = 50
	deleteContextPad = 100
	modifyContextPad = 75
)

// HashContent 计算文本的快速确定性指纹
// 使用 blake3，碰撞概率可忽略；仅用于相等短路判断，不承担安全职责
// 若两个不同文本哈希相等，后果只是漏掉一次本应执行的重算（可接受的陈旧风险）
func HashContent(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RangesOverlap 判断两个区间在各自向两端扩展 buffer 字符后是否相交
// 对称；相同区间必然重叠；零长度区间与自身重叠；
// 仅仅相邻的区间在 buffer=0 时不算重叠
func RangesOverlap(a, b models.TextRange, buffer int) bool {
	if buffer < 0 {
		buffer = 0
	}
	aStart, aEnd := a.Start-buffer, a.End+buffer
	bStart, bEnd := b.Start-buffer, b.End+buffer

	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}

	if lo < hi {
		return true
	}
	// 边界恰好接触：只有当任一扩展后区间本身是零长度（纯插入点）时才算重叠
	if lo == hi {
		return aStart == aEnd || bStart == bEnd
	}
	return false
}

// CreateDelta 比较新旧文本，产出本次编辑的变更记录
// 纯函数：若新文本哈希与 prevHash 相等，返回空变更集（语义上的 no-op）；
// 否则做锚点 diff，找出最小变更区间集合并按类型附加上下文缓冲
func CreateDelta(oldText, newText, chapterID, prevHash string) *models.ManuscriptDelta {
	now := time.Now()
	newHash := HashContent(newText)

	delta := &models.ManuscriptDelta{
		ChapterID:   chapterID,
		ContentHash: newHash,
		ProcessedAt: now,
	}

	if prevHash != "" && prevHash == newHash {
		return delta
	}
	if oldText == newText {
		return delta
	}

	delta.ChangedRanges = diffTexts(oldText, newText, now)
	delta.InvalidatedSections = invalidatedSections(delta.ChangedRanges, len(newText))
	return delta
}

// diffTexts 计算新旧文本之间的变更区间（新文本坐标系）
// 先裁剪公共前后缀，再用两侧唯一行作为锚点切分中段
func diffTexts(oldText, newText string, ts time.Time) []models.ChangedRange {
	prefix := commonPrefix(oldText, newText)
	suffix := commonSuffix(oldText[prefix:], newText[prefix:])

	oldMid := oldText[prefix : len(oldText)-suffix]
	newMid := newText[prefix : len(newText)-suffix]

	var ranges []models.ChangedRange
	for _, seg := range anchorDiff(oldMid, newMid) {
		ranges = append(ranges, buildChangedRange(
			prefix+seg.newStart, seg.oldText, seg.newText, len(newText), ts))
	}
	return ranges
}

// changedSegment 中段 diff 的一个差异片段（newStart 相对中段起点）
type changedSegment struct {
	newStart int
	oldText  string
	newText  string
}

// anchorDiff 以两侧都唯一的公共行为锚点，把中段差异拆成多个片段
// 没有可用锚点时退化为单个片段
func anchorDiff(oldMid, newMid string) []changedSegment {
	oldLines := splitLinesKeepEnds(oldMid)
	newLines := splitLinesKeepEnds(newMid)

	oldCount := make(map[string]int, len(oldLines))
	for _, l := range oldLines {
		oldCount[l.text]++
	}
	newCount := make(map[string]int, len(newLines))
	for _, l := range newLines {
		newCount[l.text]++
	}

	// 顺序匹配两侧唯一的公共行
	type anchor struct{ oldIdx, newIdx int }
	var anchors []anchor
	oi := 0
	for ni, l := range newLines {
		if newCount[l.text] != 1 || oldCount[l.text] != 1 {
			continue
		}
		for j := oi; j < len(oldLines); j++ {
			if oldLines[j].text == l.text {
				anchors = append(anchors, anchor{oldIdx: j, newIdx: ni})
				oi = j + 1
				break
			}
		}
	}

	var segs []changedSegment
	oPos, nPos := 0, 0 // 行索引
	emit := func(oFrom, oTo, nFrom, nTo int) {
		oldSeg := joinLines(oldLines, oFrom, oTo)
		newSeg := joinLines(newLines, nFrom, nTo)
		if oldSeg == newSeg {
			return
		}
		start := 0
		if nFrom < len(newLines) {
			start = newLines[nFrom].offset
		} else {
			start = len(newMid)
		}
		segs = append(segs, changedSegment{newStart: start, oldText: oldSeg, newText: newSeg})
	}
	for _, a := range anchors {
		emit(oPos, a.oldIdx, nPos, a.newIdx)
		oPos, nPos = a.oldIdx+1, a.newIdx+1
	}
	emit(oPos, len(oldLines), nPos, len(newLines))
	return segs
}

type lineSpan struct {
	text   string
	offset int
}

// splitLinesKeepEnds 按行切分并保留换行符，记录每行起始偏移
func splitLinesKeepEnds(s string) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, lineSpan{text: s[start : i+1], offset: start})
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, lineSpan{text: s[start:], offset: start})
	}
	return lines
}

func joinLines(lines []lineSpan, from, to int) string {
	if from >= to {
		return ""
	}
	var b strings.Builder
	for i := from; i < to; i++ {
		b.WriteString(lines[i].text)
	}
	return b.String()
}

// buildChangedRange 根据差异片段构造变更区间并附加上下文缓冲
func buildChangedRange(start int, oldSeg, newSeg string, textLen int, ts time.Time) models.ChangedRange {
	var changeType models.ChangeType
	var pad int
	switch {
	case oldSeg == "":
		changeType = models.ChangeInsert
		pad = insertContextPad
	case newSeg == "":
		changeType = models.ChangeDelete
		pad = deleteContextPad
	default:
		changeType = models.ChangeModify
		pad = modifyContextPad
	}

	rangeStart := start - pad
	if rangeStart < 0 {
		rangeStart = 0
	}
	rangeEnd := start + len(newSeg) + pad
	if rangeEnd > textLen {
		rangeEnd = textLen
	}

	return models.ChangedRange{
		TextRange:  models.TextRange{Start: rangeStart, End: rangeEnd},
		ChangeType: changeType,
		OldText:    oldSeg,
		NewText:    newSeg,
		Timestamp:  ts,
	}
}

// invalidatedSections 合并重叠的变更区间，得到失效文本区段
func invalidatedSections(ranges []models.ChangedRange, textLen int) []models.TextRange {
	if len(ranges) == 0 {
		return nil
	}
	var sections []models.TextRange
	for _, r := range ranges {
		sec := r.TextRange
		if sec.End > textLen {
			sec.End = textLen
		}
		if n := len(sections); n > 0 && sec.Start <= sections[n-1].End {
			if sec.End > sections[n-1].End {
				sections[n-1].End = sec.End
			}
			continue
		}
		sections = append(sections, sec)
	}
	return sections
}

func commonPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
