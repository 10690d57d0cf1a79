// internal/services/session_service.go
package services

import (
	"sync"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/storage"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

// EditNotifier 编辑处理完成后的回调，用于推送给前端
type EditNotifier func(chapterID string, intel *models.ManuscriptIntelligence, stats *models.ProcessingStats)

// SessionService 串行化同一章节的编辑处理
// 处理器是纯函数，不感知存储与并发；这里负责：
// 同章节编辑排队、加载旧文本与上次快照、持久化结果、
// 以及丢弃被更新编辑取代的过期防抖任务
type SessionService struct {
	processor *intelligence.Processor
	procMutex sync.Mutex // SetTier 会改处理器状态，跨章节的处理也要互斥
	chapters  *ChapterService
	store     *storage.Store
	cache     *storage.SnapshotCache
	stats     *StatsService
	metrics   *utils.APIMetrics

	sessions     map[string]*chapterSession
	sessionMutex sync.Mutex

	notifier       EditNotifier
	notifierMutex  sync.RWMutex
	debounceWindow time.Duration

	maxSessions    int
	sessionTimeout time.Duration
	stopCleanup    chan struct{}
	cleanupOnce    sync.Once
}

// chapterSession 单个章节的编辑会话
type chapterSession struct {
	mutex    sync.Mutex
	version  uint64 // 每次编辑递增，防抖任务据此丢弃过期结果
	lastUsed time.Time
}

// NewSessionService 创建编辑会话服务
func NewSessionService(processor *intelligence.Processor, chapters *ChapterService, store *storage.Store, cache *storage.SnapshotCache, stats *StatsService) *SessionService {
	s := &SessionService{
		processor:      processor,
		chapters:       chapters,
		store:          store,
		cache:          cache,
		stats:          stats,
		metrics:        utils.NewAPIMetrics(),
		sessions:       make(map[string]*chapterSession),
		debounceWindow: 400 * time.Millisecond,
		maxSessions:    200,
		sessionTimeout: 30 * time.Minute,
		stopCleanup:    make(chan struct{}),
	}
	go s.cleanupRoutine()
	return s
}

// SetNotifier 设置处理完成后的推送回调
func (s *SessionService) SetNotifier(notifier EditNotifier) {
	s.notifierMutex.Lock()
	s.notifier = notifier
	s.notifierMutex.Unlock()
}

// SetDebounceWindow 调整防抖窗口
func (s *SessionService) SetDebounceWindow(window time.Duration) {
	if window > 0 {
		s.debounceWindow = window
	}
}

// UpdateThresholds 替换处理器的增量策略阈值，对后续处理立即生效
func (s *SessionService) UpdateThresholds(thresholds intelligence.Thresholds) {
	s.procMutex.Lock()
	s.processor = intelligence.NewProcessor(thresholds)
	s.procMutex.Unlock()
}

// session 获取（必要时创建）章节会话
func (s *SessionService) session(chapterID string) *chapterSession {
	s.sessionMutex.Lock()
	defer s.sessionMutex.Unlock()

	sess, exists := s.sessions[chapterID]
	if !exists {
		sess = &chapterSession{}
		s.sessions[chapterID] = sess
	}
	sess.lastUsed = time.Now()
	return sess
}

// ApplyEdit 同步处理一次编辑：持久化新正文并更新智能快照
// 同章节的并发编辑在会话锁上排队，保证快照按编辑顺序演进
func (s *SessionService) ApplyEdit(chapterID, newText string) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	sess := s.session(chapterID)
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	oldText, err := s.saveTextLocked(sess, chapterID, newText)
	if err != nil {
		return nil, nil, err
	}
	return s.analyzeLocked(chapterID, oldText, newText, models.TierInstant)
}

// ApplyEditDebounced 防抖处理一次编辑：正文立即落盘（崩溃不丢字），
// 分析延迟执行；若防抖窗口内又有新编辑，本次分析被丢弃
func (s *SessionService) ApplyEditDebounced(chapterID, newText string) error {
	sess := s.session(chapterID)
	sess.mutex.Lock()
	oldText, err := s.saveTextLocked(sess, chapterID, newText)
	version := sess.version
	sess.mutex.Unlock()
	if err != nil {
		return err
	}

	go func() {
		time.Sleep(s.debounceWindow)

		sess.mutex.Lock()
		defer sess.mutex.Unlock()
		if sess.version != version {
			// 已有更新的编辑，丢弃本次分析
			return
		}

		if _, _, err := s.analyzeLocked(chapterID, oldText, newText, models.TierDebounced); err != nil {
			utils.GetLogger().Warnf("章节 %s 的防抖分析失败: %v", chapterID, err)
		}
	}()
	return nil
}

// Reanalyze 强制整体重算章节的智能快照
func (s *SessionService) Reanalyze(chapterID string) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	sess := s.session(chapterID)
	sess.mutex.Lock()
	defer sess.mutex.Unlock()

	sess.version++
	chapter, err := s.chapters.GetChapter(chapterID)
	if err != nil {
		return nil, nil, err
	}
	// prev 传 nil 即走全量路径
	return s.runProcessor(chapterID, "", chapter.Text, nil, models.TierOnDemand)
}

// GetIntelligence 返回章节的智能快照
// 缓存未命中时回落数据库；数据库也没有则按需全量计算一次
func (s *SessionService) GetIntelligence(chapterID string) (*models.ManuscriptIntelligence, error) {
	chapter, err := s.chapters.GetChapter(chapterID)
	if err != nil {
		return nil, err
	}

	if intel := s.cache.Get(chapterID, chapter.ContentHash); intel != nil {
		return intel, nil
	}

	intel, err := s.store.LoadSnapshot(chapterID)
	if err != nil {
		return nil, err
	}
	if intel != nil && intel.ContentHash() == chapter.ContentHash {
		s.cache.Put(chapterID, intel)
		return intel, nil
	}

	// 快照缺失或已过时，按需重算
	intel, _, err = s.Reanalyze(chapterID)
	return intel, err
}

// saveTextLocked 读出旧正文并落盘新正文，调用方需持有会话锁
func (s *SessionService) saveTextLocked(sess *chapterSession, chapterID, newText string) (string, error) {
	sess.version++
	chapter, err := s.chapters.GetChapter(chapterID)
	if err != nil {
		return "", err
	}
	oldText := chapter.Text

	if newText != oldText {
		if _, err := s.chapters.SaveChapterText(chapterID, newText); err != nil {
			return "", err
		}
		changed := len(newText) - len(oldText)
		if changed < 0 {
			changed = -changed
		}
		s.metrics.RecordEdit(chapterID, changed)
	}
	return oldText, nil
}

// analyzeLocked 执行一次增量处理并持久化，调用方需持有会话锁
func (s *SessionService) analyzeLocked(chapterID, oldText, newText string, tier models.ProcessingTier) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	prev := s.cache.Get(chapterID, "")
	if prev == nil {
		var err error
		prev, err = s.store.LoadSnapshot(chapterID)
		if err != nil {
			return nil, nil, err
		}
	}

	// 上次防抖分析被丢弃时快照会落后于 oldText，
	// 此时增量依据不可信，退回全量
	if prev != nil && prev.ContentHash() != intelligence.HashContent(oldText) {
		prev = nil
		oldText = ""
	}

	return s.runProcessor(chapterID, oldText, newText, prev, tier)
}

// runProcessor 调用处理器并持久化结果
func (s *SessionService) runProcessor(chapterID, oldText, newText string, prev *models.ManuscriptIntelligence, tier models.ProcessingTier) (*models.ManuscriptIntelligence, *models.ProcessingStats, error) {
	s.procMutex.Lock()
	s.processor.SetTier(tier)
	intel, stats, err := s.processor.ProcessIncremental(newText, chapterID, oldText, prev)
	s.processor.SetTier(models.TierDebounced)
	s.procMutex.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if err := s.persist(chapterID, intel, stats); err != nil {
		return nil, nil, err
	}
	return intel, stats, nil
}

// persist 落库、更新缓存、记账并推送
func (s *SessionService) persist(chapterID string, intel *models.ManuscriptIntelligence, stats *models.ProcessingStats) error {
	if err := s.store.SaveSnapshot(chapterID, intel); err != nil {
		return err
	}
	s.cache.Put(chapterID, intel)

	if s.stats != nil {
		s.stats.RecordProcessing(stats)
	}
	if stats != nil {
		s.metrics.RecordProcessingRun(chapterID, stats.Incremental, time.Duration(stats.DurationMS)*time.Millisecond)
	}

	s.notifierMutex.RLock()
	notifier := s.notifier
	s.notifierMutex.RUnlock()
	if notifier != nil {
		notifier(chapterID, intel, stats)
	}
	return nil
}

// cleanupRoutine 定期清理空闲会话，防止会话表无限增长
func (s *SessionService) cleanupRoutine() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupIdleSessions()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *SessionService) cleanupIdleSessions() {
	s.sessionMutex.Lock()
	defer s.sessionMutex.Unlock()

	if len(s.sessions) <= s.maxSessions {
		return
	}

	now := time.Now()
	for chapterID, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > s.sessionTimeout {
			// 只清理当前无人持有的会话
			if sess.mutex.TryLock() {
				sess.mutex.Unlock()
				delete(s.sessions, chapterID)
			}
		}
	}
}

// Close 停止后台清理
func (s *SessionService) Close() {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
}
