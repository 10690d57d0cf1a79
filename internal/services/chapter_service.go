// internal/services/chapter_service.go
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/inkmind/ManuscriptMind/internal/errors"
	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/storage"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

// ChapterService 管理项目与章节的增删改查
// 正文的每次保存都会在修订归档里留一份，供误删找回
type ChapterService struct {
	Store   *storage.Store
	Archive *storage.RevisionArchive
}

// NewChapterService 创建章节服务
func NewChapterService(store *storage.Store, archive *storage.RevisionArchive) *ChapterService {
	return &ChapterService{
		Store:   store,
		Archive: archive,
	}
}

// ========================================
// 项目
// ========================================

// CreateProject 创建新项目
func (s *ChapterService) CreateProject(title, description string) (*models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("项目标题不能为空", nil)
	}

	now := time.Now()
	project := &models.Project{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.Store.SaveProject(project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject 读取项目
func (s *ChapterService) GetProject(id string) (*models.Project, error) {
	project, err := s.Store.GetProject(id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("项目不存在: %s", id), nil)
	}
	return project, nil
}

// ListProjects 列出全部项目
func (s *ChapterService) ListProjects() ([]*models.Project, error) {
	return s.Store.ListProjects()
}

// UpdateProject 更新项目标题和描述
func (s *ChapterService) UpdateProject(id, title, description string) (*models.Project, error) {
	project, err := s.GetProject(id)
	if err != nil {
		return nil, err
	}

	if title = strings.TrimSpace(title); title != "" {
		project.Title = title
	}
	project.Description = strings.TrimSpace(description)
	project.LastUpdated = time.Now()

	if err := s.Store.SaveProject(project); err != nil {
		return nil, err
	}
	return project, nil
}

// DeleteProject 删除项目及其章节、快照和修订归档
func (s *ChapterService) DeleteProject(id string) error {
	chapters, err := s.Store.ListChapters(id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteProject(id); err != nil {
		return err
	}
	for _, chapter := range chapters {
		if err := s.Archive.DeleteChapter(chapter.ID); err != nil {
			utils.GetLogger().Warnf("删除章节 %s 的修订归档失败: %v", chapter.ID, err)
		}
	}
	return nil
}

// ========================================
// 章节
// ========================================

// CreateChapter 在项目下创建新章节
func (s *ChapterService) CreateChapter(projectID, title, text string) (*models.Chapter, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("章节标题不能为空", nil)
	}

	existing, err := s.Store.ListChapters(projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chapter := &models.Chapter{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Title:       title,
		Text:        text,
		WordCount:   countWords(text),
		OrderIndex:  len(existing),
		ContentHash: intelligence.HashContent(text),
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.Store.SaveChapter(chapter); err != nil {
		return nil, err
	}
	if text != "" {
		if err := s.Archive.SaveRevision(chapter.ID, text); err != nil {
			utils.GetLogger().Warnf("归档章节 %s 的初始修订失败: %v", chapter.ID, err)
		}
	}
	return chapter, nil
}

// GetChapter 读取章节（含正文）
func (s *ChapterService) GetChapter(id string) (*models.Chapter, error) {
	chapter, err := s.Store.GetChapter(id)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("章节不存在: %s", id), nil)
	}
	return chapter, nil
}

// ListChapters 列出项目下全部章节的元数据
func (s *ChapterService) ListChapters(projectID string) ([]*models.ChapterMetadata, error) {
	return s.Store.ListChapters(projectID)
}

// UpdateChapterMeta 更新章节标题和排序
func (s *ChapterService) UpdateChapterMeta(id, title string, orderIndex int) (*models.Chapter, error) {
	chapter, err := s.GetChapter(id)
	if err != nil {
		return nil, err
	}

	if title = strings.TrimSpace(title); title != "" {
		chapter.Title = title
	}
	if orderIndex >= 0 {
		chapter.OrderIndex = orderIndex
	}
	chapter.LastUpdated = time.Now()

	if err := s.Store.SaveChapter(chapter); err != nil {
		return nil, err
	}
	return chapter, nil
}

// SaveChapterText 持久化章节的新正文并归档修订
// 只负责存储，不触发智能分析；分析由会话服务调度
func (s *ChapterService) SaveChapterText(id, text string) (*models.Chapter, error) {
	chapter, err := s.GetChapter(id)
	if err != nil {
		return nil, err
	}

	chapter.Text = text
	chapter.WordCount = countWords(text)
	chapter.ContentHash = intelligence.HashContent(text)
	chapter.LastUpdated = time.Now()

	if err := s.Store.SaveChapter(chapter); err != nil {
		return nil, err
	}
	if err := s.Archive.SaveRevision(id, text); err != nil {
		utils.GetLogger().Warnf("归档章节 %s 的修订失败: %v", id, err)
	}
	return chapter, nil
}

// DeleteChapter 删除章节及其快照和修订归档
func (s *ChapterService) DeleteChapter(id string) error {
	if err := s.Store.DeleteChapter(id); err != nil {
		return err
	}
	return s.Archive.DeleteChapter(id)
}

// ListRevisions 列出章节的历史修订
func (s *ChapterService) ListRevisions(chapterID string) ([]storage.RevisionInfo, error) {
	if _, err := s.GetChapter(chapterID); err != nil {
		return nil, err
	}
	return s.Archive.ListRevisions(chapterID)
}

// LoadRevision 读取章节的某份历史修订正文
func (s *ChapterService) LoadRevision(chapterID, name string) (string, error) {
	if _, err := s.GetChapter(chapterID); err != nil {
		return "", err
	}
	return s.Archive.LoadRevision(chapterID, name)
}

// countWords 以空白分词统计词数
func countWords(text string) int {
	return len(strings.Fields(text))
}
