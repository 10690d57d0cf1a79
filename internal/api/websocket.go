// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inkmind/ManuscriptMind/internal/models"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// ========================================
// 推送消息类型
// ========================================

// intelligencePush 编辑处理完成后广播给整个章节房间的分析结果
type intelligencePush struct {
	Type         string                         `json:"type"`
	ChapterID    string                         `json:"chapter_id"`
	ContentHash  string                         `json:"content_hash,omitempty"`
	Intelligence *models.ManuscriptIntelligence `json:"intelligence,omitempty"`
	Stats        *models.ProcessingStats        `json:"stats,omitempty"`
	Timestamp    string                         `json:"timestamp"`
}

// hudPush 光标移动后回送给单个客户端的写作 HUD
type hudPush struct {
	Type      string                `json:"type"`
	ChapterID string                `json:"chapter_id"`
	Cursor    int                   `json:"cursor"`
	HUD       *models.ManuscriptHUD `json:"hud"`
	Timestamp string                `json:"timestamp"`
}

// contextPush 回送给单个客户端的提示词上下文
type contextPush struct {
	Type      string                `json:"type"`
	ChapterID string                `json:"chapter_id"`
	Cursor    int                   `json:"cursor"`
	Context   *models.PromptContext `json:"context"`
	Timestamp string                `json:"timestamp"`
}

// editAck 编辑已入队的确认，只发给编辑发起方
type editAck struct {
	Type      string `json:"type"`
	ChapterID string `json:"chapter_id"`
	Timestamp string `json:"timestamp"`
}

// sessionNotice 连接级别的通知（欢迎/错误/pong）
type sessionNotice struct {
	Type      string `json:"type"`
	ChapterID string `json:"chapter_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ========================================
// 编辑客户端
// ========================================

// editorConn 抽象底层 WebSocket 连接，便于测试替换
type editorConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// editorClient 表示一个章节编辑会话里的 WebSocket 客户端
type editorClient struct {
	conn      editorConn
	chapterID string
	userID    string
	send      chan []byte
	closed    int32 // 原子标志，0=开启，1=关闭
	cursor    int64 // 最近上报的光标位置
	lastSeen  int64 // 最近活跃时间 UnixNano，读取协程与清扫协程并发访问
	dropped   int64 // 因队列满被丢弃的消息数
	joinedAt  time.Time
}

func newEditorClient(conn editorConn, chapterID, userID string) *editorClient {
	client := &editorClient{
		conn:      conn,
		chapterID: chapterID,
		userID:    userID,
		send:      make(chan []byte, 256),
		joinedAt:  time.Now(),
	}
	client.Touch()
	return client
}

// Close 安全关闭客户端连接
func (client *editorClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		// 只设置关闭标志，不关闭通道
		// 通道由 handleWebSocketWrites 的 defer 函数负责关闭
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *editorClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// Touch 更新最近活跃时间
func (client *editorClient) Touch() {
	atomic.StoreInt64(&client.lastSeen, time.Now().UnixNano())
}

// LastSeen 返回最近活跃时间
func (client *editorClient) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&client.lastSeen))
}

// IdleFor 检查客户端是否超过 timeout 未活跃
func (client *editorClient) IdleFor(timeout time.Duration) bool {
	if timeout <= 0 {
		return true // 零超时立即过期
	}
	return time.Since(client.LastSeen()) > timeout
}

// SetCursor 记录客户端上报的光标位置
func (client *editorClient) SetCursor(cursor int) {
	atomic.StoreInt64(&client.cursor, int64(cursor))
}

// Cursor 返回客户端最近上报的光标位置
func (client *editorClient) Cursor() int {
	return int(atomic.LoadInt64(&client.cursor))
}

// Send 序列化并投递消息；队列满时丢弃不阻塞
func (client *editorClient) Send(payload interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if !client.enqueue(msgBytes) {
		log.Printf("⚠️ 客户端 %s 消息队列已满，消息被丢弃", client.userID)
	}
	return nil
}

// SendError 发送错误通知
func (client *editorClient) SendError(errorMsg string) {
	client.Send(sessionNotice{
		Type:      "error",
		Error:     errorMsg,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// enqueue 尝试投递已序列化的消息，失败时累计丢弃计数
func (client *editorClient) enqueue(msgBytes []byte) bool {
	if client.IsClosed() {
		return false
	}

	select {
	case client.send <- msgBytes:
		return true
	default:
		atomic.AddInt64(&client.dropped, 1)
		return false
	}
}

// ========================================
// 会话集线器
// ========================================

// chapterRoom 一个章节的全部编辑会话订阅
type chapterRoom struct {
	clients map[*editorClient]struct{}
	// 最近一次分析推送的快照，新加入的客户端立即回放，
	// 避免打开编辑器后要等下一次编辑才能看到 HUD 数据
	lastPush []byte
}

// sessionHub 以章节为单位管理编辑会话的 WebSocket 订阅
type sessionHub struct {
	mutex       sync.RWMutex
	rooms       map[string]*chapterRoom
	idleTimeout time.Duration
	sweepOnce   sync.Once
	done        chan struct{}
}

// 全局会话集线器
var wsHub = newSessionHub(60 * time.Second)

func init() {
	wsHub.startSweeper(30 * time.Second)
}

func newSessionHub(idleTimeout time.Duration) *sessionHub {
	return &sessionHub{
		rooms:       make(map[string]*chapterRoom),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// join 将客户端加入章节房间，并回放房间内最近一次分析推送
func (hub *sessionHub) join(client *editorClient) {
	if client == nil {
		log.Printf("⚠️ 尝试加入 nil 客户端，忽略")
		return
	}

	hub.mutex.Lock()
	room, exists := hub.rooms[client.chapterID]
	if !exists {
		room = &chapterRoom{clients: make(map[*editorClient]struct{})}
		hub.rooms[client.chapterID] = room
	}
	room.clients[client] = struct{}{}
	replay := room.lastPush
	hub.mutex.Unlock()

	client.Touch()
	if replay != nil {
		client.enqueue(replay)
	}

	log.Printf("✅ WebSocket 客户端已加入章节 %s 的编辑会话 (用户: %s)", client.chapterID, client.userID)
}

// leave 将客户端移出章节房间并关闭连接，空房间随之回收
func (hub *sessionHub) leave(client *editorClient) {
	if client == nil {
		log.Printf("⚠️ 尝试移除 nil 客户端，忽略")
		return
	}

	hub.mutex.Lock()
	if room, exists := hub.rooms[client.chapterID]; exists {
		delete(room.clients, client)
		if len(room.clients) == 0 {
			delete(hub.rooms, client.chapterID)
		}
	}
	hub.mutex.Unlock()

	if !client.IsClosed() {
		client.Close()
	}

	log.Printf("🔌 WebSocket 客户端已离开编辑会话 (章节: %s, 用户: %s)", client.chapterID, client.userID)
}

// PushIntelligence 向章节房间广播分析结果，并保留快照供后来者回放
func (hub *sessionHub) PushIntelligence(push *intelligencePush) {
	msgBytes, err := json.Marshal(push)
	if err != nil {
		log.Printf("❌ 序列化分析推送失败: %v", err)
		return
	}

	hub.mutex.Lock()
	room, exists := hub.rooms[push.ChapterID]
	if !exists {
		// 没有订阅者也保留快照，下一个打开编辑器的客户端仍能拿到
		hub.rooms[push.ChapterID] = &chapterRoom{
			clients:  make(map[*editorClient]struct{}),
			lastPush: msgBytes,
		}
		hub.mutex.Unlock()
		return
	}
	room.lastPush = msgBytes
	clients := make([]*editorClient, 0, len(room.clients))
	for client := range room.clients {
		clients = append(clients, client)
	}
	hub.mutex.Unlock()

	hub.fanOut(clients, msgBytes)
}

// broadcastToChapter 向章节房间广播任意消息，不保留快照
func (hub *sessionHub) broadcastToChapter(chapterID string, payload interface{}) {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ 序列化广播消息失败: %v", err)
		return
	}

	hub.mutex.RLock()
	room, exists := hub.rooms[chapterID]
	if !exists {
		hub.mutex.RUnlock()
		return
	}
	clients := make([]*editorClient, 0, len(room.clients))
	for client := range room.clients {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()

	hub.fanOut(clients, msgBytes)
}

// fanOut 将消息投递给一批客户端，投递失败只累计丢弃计数
func (hub *sessionHub) fanOut(clients []*editorClient, msgBytes []byte) {
	for _, client := range clients {
		if client.IsClosed() {
			continue
		}
		client.enqueue(msgBytes)
	}
}

// startSweeper 启动周期性清扫协程，移除闲置和已关闭的客户端
func (hub *sessionHub) startSweeper(interval time.Duration) {
	hub.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					hub.sweepIdle()
				case <-hub.done:
					return
				}
			}
		}()
	})
}

// sweepIdle 移除闲置和已关闭的客户端，返回移除数量
func (hub *sessionHub) sweepIdle() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	removed := 0
	for chapterID, room := range hub.rooms {
		for client := range room.clients {
			if client.IsClosed() || client.IdleFor(hub.idleTimeout) {
				delete(room.clients, client)
				removed++
				if !client.IsClosed() {
					client.Close()
				}
			}
		}
		if len(room.clients) == 0 && room.lastPush == nil {
			delete(hub.rooms, chapterID)
		}
	}
	return removed
}

// Shutdown 关闭全部连接并停止清扫协程
func (hub *sessionHub) Shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	log.Println("🛑 正在关闭编辑会话集线器...")

	select {
	case <-hub.done:
	default:
		close(hub.done)
	}

	for _, room := range hub.rooms {
		for client := range room.clients {
			client.Close()
		}
	}
	hub.rooms = make(map[string]*chapterRoom)

	log.Println("✅ 编辑会话集线器已关闭")
}

// ========================================
// 集线器状态
// ========================================

// HubClientStatus 单个客户端的会话状态
type HubClientStatus struct {
	UserID   string `json:"user_id"`
	Cursor   int    `json:"cursor"`
	JoinedAt string `json:"joined_at"`
	LastSeen string `json:"last_seen"`
	Dropped  int64  `json:"dropped_messages"`
}

// HubRoomStatus 单个章节房间的会话状态
type HubRoomStatus struct {
	ClientCount int               `json:"client_count"`
	HasSnapshot bool              `json:"has_snapshot"`
	Clients     []HubClientStatus `json:"clients"`
}

// HubStatus 集线器整体状态
type HubStatus struct {
	RoomCount   int                      `json:"room_count"`
	ClientCount int                      `json:"client_count"`
	Rooms       map[string]HubRoomStatus `json:"rooms"`
}

// Status 获取集线器状态快照
func (hub *sessionHub) Status() HubStatus {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	status := HubStatus{Rooms: make(map[string]HubRoomStatus)}
	for chapterID, room := range hub.rooms {
		roomStatus := HubRoomStatus{
			HasSnapshot: room.lastPush != nil,
			Clients:     make([]HubClientStatus, 0, len(room.clients)),
		}
		for client := range room.clients {
			if client.IsClosed() {
				continue
			}
			roomStatus.Clients = append(roomStatus.Clients, HubClientStatus{
				UserID:   client.userID,
				Cursor:   client.Cursor(),
				JoinedAt: client.joinedAt.Format(time.RFC3339),
				LastSeen: client.LastSeen().Format(time.RFC3339),
				Dropped:  atomic.LoadInt64(&client.dropped),
			})
		}
		roomStatus.ClientCount = len(roomStatus.Clients)
		status.Rooms[chapterID] = roomStatus
		status.ClientCount += roomStatus.ClientCount
	}
	status.RoomCount = len(status.Rooms)
	return status
}

// ShutdownHub 关闭全局会话集线器，应用优雅关闭时调用
func ShutdownHub() {
	wsHub.Shutdown()
}

// wsConnAdapter 包装真实的 websocket.Conn 以实现 editorConn
type wsConnAdapter struct {
	*websocket.Conn
}
