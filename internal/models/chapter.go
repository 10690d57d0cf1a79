// internal/models/chapter.go
package models

import "time"

// Project 表示一个写作项目（小说）
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Chapter 表示项目中的一个章节
type Chapter struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	WordCount   int       `json:"word_count"`
	OrderIndex  int       `json:"order_index"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// ChapterMetadata 章节列表用的轻量元数据
type ChapterMetadata struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	WordCount   int       `json:"word_count"`
	OrderIndex  int       `json:"order_index"`
	LastUpdated time.Time `json:"last_updated"`
}
