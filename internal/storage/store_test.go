// internal/storage/store_test.go
package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("创建测试数据库失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testProject(id string) *models.Project {
	now := time.Now()
	return &models.Project{
		ID:          id,
		Title:       "远航",
		Description: "一部关于海港的小说",
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func testChapter(id, projectID string, order int) *models.Chapter {
	now := time.Now()
	return &models.Chapter{
		ID:          id,
		ProjectID:   projectID,
		Title:       "Chapter " + id,
		Text:        "The ship left the harbor before sunrise.",
		WordCount:   7,
		OrderIndex:  order,
		ContentHash: "hash-" + id,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

func TestStore_ProjectRoundTrip(t *testing.T) {
	store := newTestStore(t)

	project := testProject("p1")
	if err := store.SaveProject(project); err != nil {
		t.Fatalf("保存项目失败: %v", err)
	}

	loaded, err := store.GetProject("p1")
	if err != nil {
		t.Fatalf("读取项目失败: %v", err)
	}
	if loaded == nil {
		t.Fatal("应能读回已保存的项目")
	}
	if loaded.Title != project.Title || loaded.Description != project.Description {
		t.Errorf("读回的项目字段不一致: %+v", loaded)
	}

	// 更新后应覆盖而非重复插入
	project.Title = "远航（修订版）"
	if err := store.SaveProject(project); err != nil {
		t.Fatalf("更新项目失败: %v", err)
	}
	projects, err := store.ListProjects()
	if err != nil {
		t.Fatalf("查询项目列表失败: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("期望1个项目, got %d", len(projects))
	}
	if projects[0].Title != "远航（修订版）" {
		t.Errorf("更新后的标题未生效: %s", projects[0].Title)
	}
}

func TestStore_GetProjectMissing(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.GetProject("nope")
	if err != nil {
		t.Fatalf("读取不存在的项目不应报错: %v", err)
	}
	if loaded != nil {
		t.Fatal("不存在的项目应返回 nil")
	}
}

func TestStore_ChapterRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveProject(testProject("p1")); err != nil {
		t.Fatalf("保存项目失败: %v", err)
	}
	if err := store.SaveChapter(testChapter("c2", "p1", 2)); err != nil {
		t.Fatalf("保存章节失败: %v", err)
	}
	if err := store.SaveChapter(testChapter("c1", "p1", 1)); err != nil {
		t.Fatalf("保存章节失败: %v", err)
	}

	loaded, err := store.GetChapter("c1")
	if err != nil {
		t.Fatalf("读取章节失败: %v", err)
	}
	if loaded == nil {
		t.Fatal("应能读回已保存的章节")
	}
	if loaded.Text != "The ship left the harbor before sunrise." {
		t.Errorf("章节正文不一致: %q", loaded.Text)
	}
	if loaded.ContentHash != "hash-c1" {
		t.Errorf("内容哈希不一致: %s", loaded.ContentHash)
	}

	// 列表不含正文，按 order_index 排序
	chapters, err := store.ListChapters("p1")
	if err != nil {
		t.Fatalf("查询章节列表失败: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("期望2个章节, got %d", len(chapters))
	}
	if chapters[0].ID != "c1" || chapters[1].ID != "c2" {
		t.Errorf("章节列表应按 order_index 排序: %s, %s", chapters[0].ID, chapters[1].ID)
	}
}

func TestStore_DeleteProjectCascades(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveProject(testProject("p1")); err != nil {
		t.Fatalf("保存项目失败: %v", err)
	}
	if err := store.SaveChapter(testChapter("c1", "p1", 1)); err != nil {
		t.Fatalf("保存章节失败: %v", err)
	}

	intel := &models.ManuscriptIntelligence{
		ChapterID: "c1",
		Delta:     &models.ManuscriptDelta{ChapterID: "c1", ContentHash: "hash-c1"},
		CreatedAt: time.Now(),
	}
	if err := store.SaveSnapshot("c1", intel); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}

	if err := store.DeleteProject("p1"); err != nil {
		t.Fatalf("删除项目失败: %v", err)
	}

	chapter, err := store.GetChapter("c1")
	if err != nil {
		t.Fatalf("读取章节失败: %v", err)
	}
	if chapter != nil {
		t.Error("删除项目后章节应被级联删除")
	}
	snapshot, err := store.LoadSnapshot("c1")
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if snapshot != nil {
		t.Error("删除项目后快照应被级联删除")
	}
}

func TestStore_DeleteMissingChapter(t *testing.T) {
	store := newTestStore(t)

	if err := store.DeleteChapter("nope"); err == nil {
		t.Fatal("删除不存在的章节应报错")
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveProject(testProject("p1")); err != nil {
		t.Fatalf("保存项目失败: %v", err)
	}
	if err := store.SaveChapter(testChapter("c1", "p1", 1)); err != nil {
		t.Fatalf("保存章节失败: %v", err)
	}

	intel := &models.ManuscriptIntelligence{
		ChapterID: "c1",
		Structural: &models.StructuralAnalysis{
			Scenes: []models.StructuralScene{
				{TextRange: models.TextRange{Start: 0, End: 120}, Type: models.SceneAction, POV: "Aria"},
			},
		},
		Entities: &models.EntityGraph{
			Nodes: []models.EntityNode{{ID: "character:aria", Name: "Aria", Type: "character", Mentions: []int{4}}},
		},
		Delta:     &models.ManuscriptDelta{ChapterID: "c1", ContentHash: "abc123"},
		CreatedAt: time.Now(),
	}

	if err := store.SaveSnapshot("c1", intel); err != nil {
		t.Fatalf("保存快照失败: %v", err)
	}

	loaded, err := store.LoadSnapshot("c1")
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if loaded == nil {
		t.Fatal("应能读回已保存的快照")
	}
	if loaded.ContentHash() != "abc123" {
		t.Errorf("快照哈希不一致: %s", loaded.ContentHash())
	}
	if len(loaded.Structural.Scenes) != 1 || loaded.Structural.Scenes[0].POV != "Aria" {
		t.Errorf("结构分析未完整还原: %+v", loaded.Structural)
	}
	if len(loaded.Entities.Nodes) != 1 || loaded.Entities.Nodes[0].ID != "character:aria" {
		t.Errorf("实体图谱未完整还原: %+v", loaded.Entities)
	}

	// 覆盖写入后读到新快照
	intel.Delta.ContentHash = "def456"
	if err := store.SaveSnapshot("c1", intel); err != nil {
		t.Fatalf("覆盖快照失败: %v", err)
	}
	loaded, err = store.LoadSnapshot("c1")
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if loaded.ContentHash() != "def456" {
		t.Errorf("覆盖后应读到新快照, got %s", loaded.ContentHash())
	}
}

func TestStore_LoadSnapshotMissing(t *testing.T) {
	store := newTestStore(t)

	snapshot, err := store.LoadSnapshot("nope")
	if err != nil {
		t.Fatalf("读取不存在的快照不应报错: %v", err)
	}
	if snapshot != nil {
		t.Fatal("不存在的快照应返回 nil")
	}
}
