// internal/storage/snapshot_cache.go
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// SnapshotCache 提供智能快照的内存缓存
// 快照不可变，按章节ID缓存引用；条目用内容哈希校验，
// 哈希不一致视作失效，回落到数据库
type SnapshotCache struct {
	cache      map[string]*snapshotCacheEntry
	mutex      sync.RWMutex
	maxSize    int           // 最大缓存条目数
	expiration time.Duration // 缓存过期时间

	hits   int64
	misses int64
}

type snapshotCacheEntry struct {
	Intel       *models.ManuscriptIntelligence
	ContentHash string
	CreatedAt   time.Time
	LastRead    time.Time
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(maxSize int, expiration time.Duration) *SnapshotCache {
	if maxSize <= 0 {
		maxSize = 200 // 默认缓存200个章节的快照
	}

	if expiration <= 0 {
		expiration = 30 * time.Minute
	}

	return &SnapshotCache{
		cache:      make(map[string]*snapshotCacheEntry),
		maxSize:    maxSize,
		expiration: expiration,
	}
}

// Get 按章节ID读取快照
// contentHash 非空时要求缓存条目的哈希一致，否则视作未命中
func (s *SnapshotCache) Get(chapterID, contentHash string) *models.ManuscriptIntelligence {
	s.mutex.RLock()
	entry, exists := s.cache[chapterID]
	s.mutex.RUnlock()

	if !exists {
		s.recordMiss()
		return nil
	}

	isStale := contentHash != "" && entry.ContentHash != contentHash
	isExpired := time.Since(entry.CreatedAt) > s.expiration
	if isStale || isExpired {
		s.mutex.Lock()
		delete(s.cache, chapterID)
		s.mutex.Unlock()
		s.recordMiss()
		return nil
	}

	s.mutex.Lock()
	entry.LastRead = time.Now()
	s.hits++
	s.mutex.Unlock()

	return entry.Intel
}

// Put 缓存章节的最新快照，覆盖旧条目
func (s *SnapshotCache) Put(chapterID string, intel *models.ManuscriptIntelligence) {
	if intel == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	s.cache[chapterID] = &snapshotCacheEntry{
		Intel:       intel,
		ContentHash: intel.ContentHash(),
		CreatedAt:   now,
		LastRead:    now,
	}

	// 超出容量时清理最少使用的条目，一次清理20%（至少1个）
	if len(s.cache) > s.maxSize {
		toRemove := s.maxSize / 5
		if toRemove < 1 {
			toRemove = 1
		}
		s.cleanupLRU(toRemove)
	}
}

// Invalidate 移除章节的缓存条目
func (s *SnapshotCache) Invalidate(chapterID string) {
	s.mutex.Lock()
	delete(s.cache, chapterID)
	s.mutex.Unlock()
}

// Clear 清空缓存
func (s *SnapshotCache) Clear() {
	s.mutex.Lock()
	s.cache = make(map[string]*snapshotCacheEntry)
	s.mutex.Unlock()
}

// Stats 返回缓存命中统计
func (s *SnapshotCache) Stats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	total := s.hits + s.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}
	return map[string]interface{}{
		"entries":  len(s.cache),
		"max_size": s.maxSize,
		"hits":     s.hits,
		"misses":   s.misses,
		"hit_rate": hitRate,
	}
}

func (s *SnapshotCache) recordMiss() {
	s.mutex.Lock()
	s.misses++
	s.mutex.Unlock()
}

// 清理最少使用的条目，调用方需持有写锁
func (s *SnapshotCache) cleanupLRU(count int) {
	type keyAge struct {
		key  string
		time time.Time
	}

	entries := make([]keyAge, 0, len(s.cache))
	for k, v := range s.cache {
		entries = append(entries, keyAge{k, v.LastRead})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	maxToDelete := count
	if maxToDelete > len(entries) {
		maxToDelete = len(entries)
	}
	for i := 0; i < maxToDelete; i++ {
		delete(s.cache, entries[i].key)
	}
}
