// internal/storage/revision_archive.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RevisionArchive 在磁盘上保留章节正文的历史修订
// 每次保存写入一个带时间戳的文件，超出上限后淘汰最旧的修订；
// 数据库里只有最新正文，误删段落时从这里找回
type RevisionArchive struct {
	BaseDir      string
	MaxRevisions int // 每章节保留的修订数上限

	// 章节级别锁 chapterID -> *sync.RWMutex
	chapterLocks sync.Map
}

// RevisionInfo 修订元数据
type RevisionInfo struct {
	Name      string    `json:"name"`
	SavedAt   time.Time `json:"saved_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewRevisionArchive 创建修订归档
func NewRevisionArchive(baseDir string, maxRevisions int) (*RevisionArchive, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建归档目录失败: %w", err)
	}

	if maxRevisions <= 0 {
		maxRevisions = 20
	}

	return &RevisionArchive{
		BaseDir:      baseDir,
		MaxRevisions: maxRevisions,
	}, nil
}

func (ra *RevisionArchive) getChapterLock(chapterID string) *sync.RWMutex {
	value, _ := ra.chapterLocks.LoadOrStore(chapterID, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (ra *RevisionArchive) chapterDir(chapterID string) string {
	return filepath.Join(ra.BaseDir, chapterID)
}

// SaveRevision 归档一份章节正文
func (ra *RevisionArchive) SaveRevision(chapterID, text string) error {
	lock := ra.getChapterLock(chapterID)
	lock.Lock()
	defer lock.Unlock()

	dir := ra.chapterDir(chapterID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建章节归档目录失败: %w", err)
	}

	name := time.Now().UTC().Format("20060102T150405.000000000") + ".txt"
	fullPath := filepath.Join(dir, name)

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fmt.Printf("警告: 重命名失败后清理临时文件 %s 失败: %v\n", tempPath, removeErr)
		}
		return fmt.Errorf("保存修订失败: %w", err)
	}

	return ra.pruneLocked(dir)
}

// ListRevisions 列出章节的全部修订，按时间倒序
func (ra *RevisionArchive) ListRevisions(chapterID string) ([]RevisionInfo, error) {
	lock := ra.getChapterLock(chapterID)
	lock.RLock()
	defer lock.RUnlock()

	entries, err := os.ReadDir(ra.chapterDir(chapterID))
	if os.IsNotExist(err) {
		return []RevisionInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取归档目录失败: %w", err)
	}

	revisions := []RevisionInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		savedAt, err := time.Parse("20060102T150405.000000000", strings.TrimSuffix(entry.Name(), ".txt"))
		if err != nil {
			continue
		}
		revisions = append(revisions, RevisionInfo{
			Name:      entry.Name(),
			SavedAt:   savedAt,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].SavedAt.After(revisions[j].SavedAt)
	})
	return revisions, nil
}

// LoadRevision 读取指定修订的正文
func (ra *RevisionArchive) LoadRevision(chapterID, name string) (string, error) {
	// 拒绝路径穿越
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".txt") {
		return "", fmt.Errorf("非法的修订名: %s", name)
	}

	lock := ra.getChapterLock(chapterID)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(filepath.Join(ra.chapterDir(chapterID), name))
	if err != nil {
		return "", fmt.Errorf("读取修订失败: %w", err)
	}
	return string(content), nil
}

// DeleteChapter 删除章节的全部修订
func (ra *RevisionArchive) DeleteChapter(chapterID string) error {
	lock := ra.getChapterLock(chapterID)
	lock.Lock()
	defer lock.Unlock()

	dir := ra.chapterDir(chapterID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("删除章节归档失败: %w", err)
	}
	return nil
}

// 淘汰超出上限的最旧修订，调用方需持有章节写锁
func (ra *RevisionArchive) pruneLocked(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("读取归档目录失败: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= ra.MaxRevisions {
		return nil
	}

	// 文件名带时间戳，字典序即时间序
	sort.Strings(names)
	for _, name := range names[:len(names)-ra.MaxRevisions] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("淘汰旧修订失败: %w", err)
		}
	}
	return nil
}
