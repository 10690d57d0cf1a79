// internal/storage/revision_archive_test.go
package storage

import (
	"fmt"
	"testing"
)

func TestRevisionArchive_SaveAndLoad(t *testing.T) {
	archive, err := NewRevisionArchive(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}

	if err := archive.SaveRevision("c1", "first draft"); err != nil {
		t.Fatalf("保存修订失败: %v", err)
	}
	if err := archive.SaveRevision("c1", "second draft"); err != nil {
		t.Fatalf("保存修订失败: %v", err)
	}

	revisions, err := archive.ListRevisions("c1")
	if err != nil {
		t.Fatalf("列出修订失败: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("期望2份修订, got %d", len(revisions))
	}
	// 按时间倒序，第一个是最新的
	if revisions[0].SavedAt.Before(revisions[1].SavedAt) {
		t.Error("修订列表应按时间倒序")
	}

	content, err := archive.LoadRevision("c1", revisions[0].Name)
	if err != nil {
		t.Fatalf("读取修订失败: %v", err)
	}
	if content != "second draft" {
		t.Errorf("最新修订内容不一致: %q", content)
	}
}

func TestRevisionArchive_Prune(t *testing.T) {
	archive, err := NewRevisionArchive(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}

	for i := 0; i < 6; i++ {
		if err := archive.SaveRevision("c1", fmt.Sprintf("draft %d", i)); err != nil {
			t.Fatalf("保存修订失败: %v", err)
		}
	}

	revisions, err := archive.ListRevisions("c1")
	if err != nil {
		t.Fatalf("列出修订失败: %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("淘汰后应只保留3份修订, got %d", len(revisions))
	}

	// 保留的是最新的3份
	content, err := archive.LoadRevision("c1", revisions[0].Name)
	if err != nil {
		t.Fatalf("读取修订失败: %v", err)
	}
	if content != "draft 5" {
		t.Errorf("最新修订内容不一致: %q", content)
	}
}

func TestRevisionArchive_ListMissingChapter(t *testing.T) {
	archive, err := NewRevisionArchive(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}

	revisions, err := archive.ListRevisions("nope")
	if err != nil {
		t.Fatalf("列出不存在章节的修订不应报错: %v", err)
	}
	if len(revisions) != 0 {
		t.Fatalf("不存在的章节应返回空列表, got %d", len(revisions))
	}
}

func TestRevisionArchive_RejectsPathTraversal(t *testing.T) {
	archive, err := NewRevisionArchive(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}

	if _, err := archive.LoadRevision("c1", "../secrets.txt"); err == nil {
		t.Fatal("带路径分隔符的修订名应被拒绝")
	}
	if _, err := archive.LoadRevision("c1", "notes.json"); err == nil {
		t.Fatal("非 .txt 后缀的修订名应被拒绝")
	}
}

func TestRevisionArchive_DeleteChapter(t *testing.T) {
	archive, err := NewRevisionArchive(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("创建归档失败: %v", err)
	}

	if err := archive.SaveRevision("c1", "draft"); err != nil {
		t.Fatalf("保存修订失败: %v", err)
	}
	if err := archive.DeleteChapter("c1"); err != nil {
		t.Fatalf("删除章节归档失败: %v", err)
	}

	revisions, err := archive.ListRevisions("c1")
	if err != nil {
		t.Fatalf("列出修订失败: %v", err)
	}
	if len(revisions) != 0 {
		t.Fatal("删除后不应残留修订")
	}

	// 删除不存在的章节应静默成功
	if err := archive.DeleteChapter("nope"); err != nil {
		t.Fatalf("删除不存在的章节不应报错: %v", err)
	}
}
