// internal/storage/store.go
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// Store 提供项目/章节/智能快照的持久化
// 快照以 zstd 压缩的 JSON 存入 BLOB 列，章节正文直接存文本列
type Store struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	word_count   INTEGER NOT NULL DEFAULT 0,
	order_index  INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chapters_project ON chapters(project_id, order_index);

CREATE TABLE IF NOT EXISTS snapshots (
	chapter_id   TEXT PRIMARY KEY REFERENCES chapters(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL,
	payload      BLOB NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// NewStore 打开（必要时创建）数据库并初始化表结构
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// modernc 驱动下写入需要串行化，同时打开 WAL 提升读并发
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 %s 失败: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建zstd压缩器失败: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("创建zstd解压器失败: %w", err)
	}

	return &Store{db: db, encoder: encoder, decoder: decoder}, nil
}

// Close 释放数据库连接和压缩器资源
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// ========================================
// 项目
// ========================================

// SaveProject 插入或更新项目
func (s *Store) SaveProject(project *models.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, title, description, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			last_updated = excluded.last_updated`,
		project.ID, project.Title, project.Description,
		formatTime(project.CreatedAt), formatTime(project.LastUpdated))
	if err != nil {
		return fmt.Errorf("保存项目失败: %w", err)
	}
	return nil
}

// GetProject 按ID读取项目，不存在时返回 (nil, nil)
func (s *Store) GetProject(id string) (*models.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, created_at, last_updated
		FROM projects WHERE id = ?`, id)

	var p models.Project
	var createdAt, lastUpdated string
	err := row.Scan(&p.ID, &p.Title, &p.Description, &createdAt, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取项目失败: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.LastUpdated = parseTime(lastUpdated)
	return &p, nil
}

// ListProjects 返回全部项目，按最近更新时间倒序
func (s *Store) ListProjects() ([]*models.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, title, description, created_at, last_updated
		FROM projects ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("查询项目列表失败: %w", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		var p models.Project
		var createdAt, lastUpdated string
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &createdAt, &lastUpdated); err != nil {
			return nil, fmt.Errorf("扫描项目行失败: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		p.LastUpdated = parseTime(lastUpdated)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject 删除项目及其全部章节和快照
func (s *Store) DeleteProject(id string) error {
	result, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除项目失败: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("项目不存在: %s", id)
	}
	return nil
}

// ========================================
// 章节
// ========================================

// SaveChapter 插入或更新章节
func (s *Store) SaveChapter(chapter *models.Chapter) error {
	_, err := s.db.Exec(`
		INSERT INTO chapters (id, project_id, title, content, word_count, order_index, content_hash, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			order_index = excluded.order_index,
			content_hash = excluded.content_hash,
			last_updated = excluded.last_updated`,
		chapter.ID, chapter.ProjectID, chapter.Title, chapter.Text,
		chapter.WordCount, chapter.OrderIndex, chapter.ContentHash,
		formatTime(chapter.CreatedAt), formatTime(chapter.LastUpdated))
	if err != nil {
		return fmt.Errorf("保存章节失败: %w", err)
	}
	return nil
}

// GetChapter 按ID读取章节（含正文），不存在时返回 (nil, nil)
func (s *Store) GetChapter(id string) (*models.Chapter, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, content, word_count, order_index, content_hash, created_at, last_updated
		FROM chapters WHERE id = ?`, id)

	var c models.Chapter
	var createdAt, lastUpdated string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Text, &c.WordCount,
		&c.OrderIndex, &c.ContentHash, &createdAt, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取章节失败: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.LastUpdated = parseTime(lastUpdated)
	return &c, nil
}

// ListChapters 返回项目下全部章节的轻量元数据，不加载正文
func (s *Store) ListChapters(projectID string) ([]*models.ChapterMetadata, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, word_count, order_index, last_updated
		FROM chapters WHERE project_id = ? ORDER BY order_index`, projectID)
	if err != nil {
		return nil, fmt.Errorf("查询章节列表失败: %w", err)
	}
	defer rows.Close()

	chapters := []*models.ChapterMetadata{}
	for rows.Next() {
		var c models.ChapterMetadata
		var lastUpdated string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.WordCount, &c.OrderIndex, &lastUpdated); err != nil {
			return nil, fmt.Errorf("扫描章节行失败: %w", err)
		}
		c.LastUpdated = parseTime(lastUpdated)
		chapters = append(chapters, &c)
	}
	return chapters, rows.Err()
}

// DeleteChapter 删除章节及其快照
func (s *Store) DeleteChapter(id string) error {
	result, err := s.db.Exec(`DELETE FROM chapters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除章节失败: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("章节不存在: %s", id)
	}
	return nil
}

// ========================================
// 智能快照
// ========================================

// SaveSnapshot 保存章节的智能快照，同一章节只保留最新一份
func (s *Store) SaveSnapshot(chapterID string, intel *models.ManuscriptIntelligence) error {
	if intel == nil {
		return fmt.Errorf("快照不能为空")
	}

	payload, err := json.Marshal(intel)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	_, err = s.db.Exec(`
		INSERT INTO snapshots (chapter_id, content_hash, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chapter_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		chapterID, intel.ContentHash(), compressed, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("保存快照失败: %w", err)
	}
	return nil
}

// LoadSnapshot 读取章节的智能快照，不存在时返回 (nil, nil)
func (s *Store) LoadSnapshot(chapterID string) (*models.ManuscriptIntelligence, error) {
	row := s.db.QueryRow(`SELECT payload FROM snapshots WHERE chapter_id = ?`, chapterID)

	var compressed []byte
	err := row.Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("解压快照失败: %w", err)
	}

	var intel models.ManuscriptIntelligence
	if err := json.Unmarshal(payload, &intel); err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	return &intel, nil
}

// DeleteSnapshot 删除章节的智能快照，快照不存在时静默成功
func (s *Store) DeleteSnapshot(chapterID string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE chapter_id = ?`, chapterID); err != nil {
		return fmt.Errorf("删除快照失败: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
