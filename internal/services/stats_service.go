// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

// ProcessingUsageStats 增量处理的累计统计
type ProcessingUsageStats struct {
	TotalRuns       int64 `json:"total_runs"`
	IncrementalRuns int64 `json:"incremental_runs"`
	FullRuns        int64 `json:"full_runs"`

	// 全量重建的原因分布
	FullReasons map[string]int64 `json:"full_reasons"`

	ScenesReused      int64 `json:"scenes_reused"`
	ScenesReprocessed int64 `json:"scenes_reprocessed"`
	EntitiesReused    int64 `json:"entities_reused"`
	EntitiesUpdated   int64 `json:"entities_updated"`

	TotalDurationMS int64     `json:"total_duration_ms"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// StatsService 聚合处理统计并批量持久化
// 每次记录只置脏标记，由后台协程按间隔落盘，避免高频编辑打爆磁盘
type StatsService struct {
	dataPath string
	stats    *ProcessingUsageStats
	mutex    sync.RWMutex

	dirty        bool
	saveInterval time.Duration
	stopSave     chan struct{}
	closeOnce    sync.Once
}

// NewStatsService 创建统计服务，统计文件放在 dataDir/stats.json
func NewStatsService(dataDir string) *StatsService {
	s := &StatsService{
		dataPath:     filepath.Join(dataDir, "stats.json"),
		stats:        newUsageStats(),
		saveInterval: 30 * time.Second,
		stopSave:     make(chan struct{}),
	}
	s.load()
	go s.saveRoutine()
	return s
}

func newUsageStats() *ProcessingUsageStats {
	return &ProcessingUsageStats{
		FullReasons: make(map[string]int64),
	}
}

// load 启动时恢复历史统计，文件不存在时从零开始
func (s *StatsService) load() {
	data, err := os.ReadFile(s.dataPath)
	if err != nil {
		return
	}

	loaded := newUsageStats()
	if err := json.Unmarshal(data, loaded); err != nil {
		utils.GetLogger().Warnf("解析统计文件失败，从零开始: %v", err)
		return
	}
	if loaded.FullReasons == nil {
		loaded.FullReasons = make(map[string]int64)
	}

	s.mutex.Lock()
	s.stats = loaded
	s.mutex.Unlock()
}

// RecordProcessing 记录一次处理的统计
func (s *StatsService) RecordProcessing(record *models.ProcessingStats) {
	if record == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stats.TotalRuns++
	if record.Incremental {
		s.stats.IncrementalRuns++
	} else {
		s.stats.FullRuns++
		if record.FullReprocessReason != "" {
			s.stats.FullReasons[record.FullReprocessReason]++
		}
	}

	s.stats.ScenesReused += int64(record.ScenesReused)
	s.stats.ScenesReprocessed += int64(record.ScenesReprocessed)
	s.stats.EntitiesReused += int64(record.EntitiesReused)
	s.stats.EntitiesUpdated += int64(record.EntitiesUpdated)

	s.stats.TotalDurationMS += record.DurationMS
	s.stats.LastProcessedAt = time.Now()
	s.dirty = true
}

// GetStats 返回统计的深拷贝，调用方可安全持有
func (s *StatsService) GetStats() *ProcessingUsageStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	statsCopy := *s.stats
	statsCopy.FullReasons = make(map[string]int64, len(s.stats.FullReasons))
	for reason, count := range s.stats.FullReasons {
		statsCopy.FullReasons[reason] = count
	}
	return &statsCopy
}

// IncrementalRatio 增量路径占比，未处理过时为0
func (s *StatsService) IncrementalRatio() float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.stats.TotalRuns == 0 {
		return 0
	}
	return float64(s.stats.IncrementalRuns) / float64(s.stats.TotalRuns)
}

// saveRoutine 后台批量落盘
func (s *StatsService) saveRoutine() {
	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.saveIfDirty()
		case <-s.stopSave:
			s.saveIfDirty()
			return
		}
	}
}

func (s *StatsService) saveIfDirty() {
	s.mutex.Lock()
	if !s.dirty {
		s.mutex.Unlock()
		return
	}
	data, err := json.MarshalIndent(s.stats, "", "  ")
	s.dirty = false
	s.mutex.Unlock()

	if err != nil {
		utils.GetLogger().Warnf("序列化统计失败: %v", err)
		return
	}

	// 临时文件+重命名，避免写一半被读到
	if err := os.MkdirAll(filepath.Dir(s.dataPath), 0755); err != nil {
		utils.GetLogger().Warnf("创建统计目录失败: %v", err)
		return
	}
	tempPath := s.dataPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		utils.GetLogger().Warnf("写入统计临时文件失败: %v", err)
		return
	}
	if err := os.Rename(tempPath, s.dataPath); err != nil {
		os.Remove(tempPath)
		utils.GetLogger().Warnf("保存统计文件失败: %v", err)
	}
}

// Close 停止后台协程并把未落盘的统计写出
func (s *StatsService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopSave)
		s.saveIfDirty()
	})
}
