// internal/storage/snapshot_cache_test.go
package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

func cachedIntel(chapterID, hash string) *models.ManuscriptIntelligence {
	return &models.ManuscriptIntelligence{
		ChapterID: chapterID,
		Delta:     &models.ManuscriptDelta{ChapterID: chapterID, ContentHash: hash},
		CreatedAt: time.Now(),
	}
}

func TestSnapshotCache_HitAndMiss(t *testing.T) {
	cache := NewSnapshotCache(10, time.Minute)

	if got := cache.Get("c1", ""); got != nil {
		t.Fatal("空缓存应未命中")
	}

	intel := cachedIntel("c1", "abc")
	cache.Put("c1", intel)

	if got := cache.Get("c1", ""); got != intel {
		t.Fatal("不校验哈希时应命中并返回同一快照引用")
	}
	if got := cache.Get("c1", "abc"); got != intel {
		t.Fatal("哈希一致时应命中")
	}

	stats := cache.Stats()
	if stats["hits"].(int64) != 2 || stats["misses"].(int64) != 1 {
		t.Errorf("命中统计不正确: %+v", stats)
	}
}

func TestSnapshotCache_StaleHashInvalidates(t *testing.T) {
	cache := NewSnapshotCache(10, time.Minute)
	cache.Put("c1", cachedIntel("c1", "abc"))

	if got := cache.Get("c1", "def"); got != nil {
		t.Fatal("哈希不一致的条目应视作失效")
	}
	// 失效条目应被移除，后续读取也未命中
	if got := cache.Get("c1", "abc"); got != nil {
		t.Fatal("失效条目应已被移除")
	}
}

func TestSnapshotCache_Expiration(t *testing.T) {
	cache := NewSnapshotCache(10, 10*time.Millisecond)
	cache.Put("c1", cachedIntel("c1", "abc"))

	time.Sleep(20 * time.Millisecond)

	if got := cache.Get("c1", "abc"); got != nil {
		t.Fatal("过期条目应未命中")
	}
}

func TestSnapshotCache_LRUEviction(t *testing.T) {
	cache := NewSnapshotCache(5, time.Minute)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		cache.Put(id, cachedIntel(id, "h"))
	}
	// 触碰 c0，让它不是最少使用的
	cache.Get("c0", "")

	cache.Put("c5", cachedIntel("c5", "h"))

	stats := cache.Stats()
	if stats["entries"].(int) > 5 {
		t.Errorf("超出容量后应触发淘汰: %+v", stats)
	}
	if got := cache.Get("c0", ""); got == nil {
		t.Error("最近读取过的条目不应被淘汰")
	}
	if got := cache.Get("c5", ""); got == nil {
		t.Error("新写入的条目不应被淘汰")
	}
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	cache := NewSnapshotCache(10, time.Minute)
	cache.Put("c1", cachedIntel("c1", "abc"))

	cache.Invalidate("c1")
	if got := cache.Get("c1", ""); got != nil {
		t.Fatal("Invalidate 后不应命中")
	}

	cache.Put("c1", cachedIntel("c1", "abc"))
	cache.Clear()
	if got := cache.Get("c1", ""); got != nil {
		t.Fatal("Clear 后不应命中")
	}
}
