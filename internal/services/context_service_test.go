// internal/services/context_service_test.go
package services

import (
	"strings"
	"testing"
)

func TestContextService_BuildContext(t *testing.T) {
	chapters, sessions, contexts, _ := newServiceStack(t)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	cursor := strings.Index(chapter.Text, "ledger")
	ctx, err := contexts.BuildContext(chapter.ID, cursor, 2000)
	if err != nil {
		t.Fatalf("组装上下文失败: %v", err)
	}

	if ctx.ChapterID != chapter.ID || ctx.Cursor != cursor {
		t.Errorf("上下文基本字段不正确: %+v", ctx)
	}
	if ctx.Excerpt == "" {
		t.Fatal("应包含光标附近的原文片段")
	}
	if len(ctx.Excerpt) > 1000 {
		t.Errorf("片段应受预算约束, got %d chars", len(ctx.Excerpt))
	}
	if !strings.Contains(chapter.Text, ctx.Excerpt) {
		t.Error("片段必须是原文的连续子串")
	}
	if ctx.Pacing == "" {
		t.Error("应给出节奏判断")
	}
	if ctx.GeneratedAt.IsZero() {
		t.Error("应记录生成时间")
	}
}

func TestContextService_ActiveEntitiesSortedByDistance(t *testing.T) {
	chapters, sessions, contexts, _ := newServiceStack(t)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	ctx, err := contexts.BuildContext(chapter.ID, 0, 0)
	if err != nil {
		t.Fatalf("组装上下文失败: %v", err)
	}

	if len(ctx.Entities) == 0 {
		t.Fatal("文本里反复出现的人物应成为活跃实体")
	}
	for i := 1; i < len(ctx.Entities); i++ {
		if ctx.Entities[i-1].Distance > ctx.Entities[i].Distance {
			t.Fatal("活跃实体应按距离升序")
		}
	}
	for _, entity := range ctx.Entities {
		for _, edge := range entity.Relationships {
			if edge.Source != entity.Node.ID && edge.Target != entity.Node.ID {
				t.Errorf("关系边应与实体相连: %+v", edge)
			}
		}
	}
}

func TestContextService_CursorClamped(t *testing.T) {
	chapters, sessions, contexts, _ := newServiceStack(t)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	ctx, err := contexts.BuildContext(chapter.ID, -50, 1000)
	if err != nil {
		t.Fatalf("组装上下文失败: %v", err)
	}
	if ctx.Cursor != 0 {
		t.Errorf("负光标应钳到0, got %d", ctx.Cursor)
	}

	ctx, err = contexts.BuildContext(chapter.ID, len(chapter.Text)+500, 1000)
	if err != nil {
		t.Fatalf("组装上下文失败: %v", err)
	}
	if ctx.Cursor != len(chapter.Text) {
		t.Errorf("超界光标应钳到文末, got %d", ctx.Cursor)
	}
}

func TestContextService_RecentEventsBeforeCursor(t *testing.T) {
	chapters, sessions, contexts, _ := newServiceStack(t)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	ctx, err := contexts.BuildContext(chapter.ID, len(chapter.Text), 2000)
	if err != nil {
		t.Fatalf("组装上下文失败: %v", err)
	}

	for _, event := range ctx.RecentEvents {
		if event.Offset > ctx.Cursor {
			t.Errorf("近期事件的偏移不应超过光标: %d > %d", event.Offset, ctx.Cursor)
		}
	}
	if len(ctx.RecentEvents) > 5 {
		t.Errorf("近期事件应受条数上限约束: %d", len(ctx.RecentEvents))
	}

	if _, err := contexts.BuildContext("nope", 0, 0); err == nil {
		t.Fatal("章节不存在时应报错")
	}
}

func TestContextService_TimelineContextNear(t *testing.T) {
	chapters, sessions, contexts, _ := newServiceStack(t)
	chapter := seedChapter(t, chapters, sampleText)

	if _, _, err := sessions.ApplyEdit(chapter.ID, chapter.Text); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	summary, err := contexts.TimelineContextNear(chapter.ID, len(chapter.Text))
	if err != nil {
		t.Fatalf("生成时间线摘要失败: %v", err)
	}
	if summary == "" {
		t.Fatal("摘要不应为空")
	}

	// 偏移为0时章节开头之前没有事件，应返回空态说明而非报错
	head, err := contexts.TimelineContextNear(chapter.ID, 0)
	if err != nil {
		t.Fatalf("生成章节开头摘要失败: %v", err)
	}
	if head == "" {
		t.Fatal("空态也应返回说明文本")
	}

	if _, err := contexts.TimelineContextNear("不存在的章节", 0); err == nil {
		t.Error("缺失章节应返回错误")
	}
}
