// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/inkmind/ManuscriptMind/internal/di"
	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/services"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	chapterService *services.ChapterService
	sessionService *services.SessionService
	contextService *services.ContextService
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler() *WebSocketHandler {
	container := di.GetContainer()

	return &WebSocketHandler{
		chapterService: container.Get("chapters").(*services.ChapterService),
		sessionService: container.Get("sessions").(*services.SessionService),
		contextService: container.Get("contexts").(*services.ContextService),
	}
}

// inboundMessage 客户端发来的消息，按 type 字段分发
type inboundMessage struct {
	Type   string   `json:"type"`
	Text   *string  `json:"text,omitempty"`
	Cursor *float64 `json:"cursor,omitempty"`
	Budget float64  `json:"budget,omitempty"`
}

// NotifyIntelligenceUpdated 向章节的所有连接广播最新的分析结果
// 由 SessionService 的编辑通知回调触发
func (wh *WebSocketHandler) NotifyIntelligenceUpdated(chapterID string, intel *models.ManuscriptIntelligence, stats *models.ProcessingStats) {
	push := &intelligencePush{
		Type:      "intelligence_updated",
		ChapterID: chapterID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if intel != nil {
		push.ContentHash = intel.ContentHash()
		push.Intelligence = intel
	}
	push.Stats = stats

	wsHub.PushIntelligence(push)
}

// ChapterWebSocket 处理章节编辑会话的 WebSocket 连接
func (wh *WebSocketHandler) ChapterWebSocket(c *gin.Context) {
	chapterID := c.Param("id")
	if chapterID == "" {
		log.Printf("❌ WebSocket 连接失败：章节ID缺失")
		http.Error(c.Writer, "章节ID缺失", http.StatusBadRequest)
		return
	}

	// 章节必须存在才允许建立连接
	if _, err := wh.chapterService.GetChapter(chapterID); err != nil {
		log.Printf("❌ WebSocket 连接失败：章节 %s 不存在", chapterID)
		http.Error(c.Writer, "章节不存在", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 章节 WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	userID := c.DefaultQuery("user_id", "anonymous")

	client := newEditorClient(&wsConnAdapter{conn}, chapterID, userID)

	// 加入房间即回放最近一次分析快照
	wsHub.join(client)
	defer wsHub.leave(client)

	// 启动读写协程
	go wh.handleWebSocketWrites(client)
	go wh.handleWebSocketReads(client)

	// 发送连接确认消息
	wh.sendWelcomeMessage(client, chapterID, userID)

	// 等待连接关闭
	<-c.Request.Context().Done()
	log.Printf("📱 章节 %s 的 WebSocket 连接已关闭 (用户: %s)", chapterID, userID)
}

// handleWebSocketReads 处理 WebSocket 读取
func (wh *WebSocketHandler) handleWebSocketReads(client *editorClient) {
	defer wsHub.leave(client)

	// 设置读取超时和ping处理
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.Touch()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if client.IsClosed() {
			break
		}

		// 设置当前读取超时
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			break
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			log.Printf("⚠️ JSON解析失败: %v", err)
			continue
		}

		// 更新活跃时间
		client.Touch()

		wh.handleMessage(client, &message)
	}
}

// handleWebSocketWrites 处理 WebSocket 写入
func (wh *WebSocketHandler) handleWebSocketWrites(client *editorClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		// 写协程独占关闭发送通道；关闭标志先行，避免并发投递到已关通道
		atomic.StoreInt32(&client.closed, 1)
		func() {
			defer func() {
				if recover() != nil {
					// 通道已关闭，忽略
				}
			}()
			close(client.send)
		}()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// 通道已关闭，发送关闭帧
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("❌ WebSocket ping 失败: %v", err)
				return
			}
			client.Touch()
		}
	}
}

// handleMessage 处理收到的 WebSocket 消息
func (wh *WebSocketHandler) handleMessage(client *editorClient, message *inboundMessage) {
	switch message.Type {
	case "edit":
		wh.handleEdit(client, message)
	case "cursor_update":
		wh.handleCursorUpdate(client, message)
	case "request_context":
		wh.handleContextRequest(client, message)
	case "ping":
		wh.handlePing(client)
	default:
		log.Printf("⚠️ 未知的消息类型: %s", message.Type)
	}
}

// handleEdit 处理编辑消息：保存文本并调度防抖分析
func (wh *WebSocketHandler) handleEdit(client *editorClient, message *inboundMessage) {
	if message.Text == nil {
		client.SendError("缺少文本内容")
		return
	}

	// nil检查
	if wh.sessionService == nil {
		client.SendError("会话服务不可用")
		return
	}

	if err := wh.sessionService.ApplyEditDebounced(client.chapterID, *message.Text); err != nil {
		client.SendError("保存编辑失败: " + err.Error())
		return
	}

	// 确认消息只发给编辑发起方，分析结果经 intelligence_updated 广播
	client.Send(editAck{
		Type:      "edit_accepted",
		ChapterID: client.chapterID,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleCursorUpdate 处理光标移动消息：基于最新分析结果回送 HUD
func (wh *WebSocketHandler) handleCursorUpdate(client *editorClient, message *inboundMessage) {
	if message.Cursor == nil {
		client.SendError("缺少光标位置")
		return
	}
	cursor := int(*message.Cursor)
	client.SetCursor(cursor)

	if wh.sessionService == nil || wh.chapterService == nil {
		client.SendError("会话服务不可用")
		return
	}

	chapter, err := wh.chapterService.GetChapter(client.chapterID)
	if err != nil {
		client.SendError("加载章节失败: " + err.Error())
		return
	}

	intel, err := wh.sessionService.GetIntelligence(client.chapterID)
	if err != nil {
		client.SendError("获取分析结果失败: " + err.Error())
		return
	}

	hud := intelligence.BuildHUD(intel, len(chapter.Text), cursor, models.TierInstant)

	client.Send(hudPush{
		Type:      "hud_update",
		ChapterID: client.chapterID,
		Cursor:    cursor,
		HUD:       hud,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleContextRequest 处理上下文请求消息：构建光标附近的提示词上下文
func (wh *WebSocketHandler) handleContextRequest(client *editorClient, message *inboundMessage) {
	if message.Cursor == nil {
		client.SendError("缺少光标位置")
		return
	}
	cursor := int(*message.Cursor)
	budget := int(message.Budget)

	// nil检查
	if wh.contextService == nil {
		client.SendError("上下文服务不可用")
		return
	}

	promptContext, err := wh.contextService.BuildContext(client.chapterID, cursor, budget)
	if err != nil {
		client.SendError("构建上下文失败: " + err.Error())
		return
	}

	client.Send(contextPush{
		Type:      "context",
		ChapterID: client.chapterID,
		Cursor:    cursor,
		Context:   promptContext,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handlePing 处理ping消息
func (wh *WebSocketHandler) handlePing(client *editorClient) {
	client.Send(sessionNotice{
		Type:      "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// sendWelcomeMessage 发送欢迎消息
func (wh *WebSocketHandler) sendWelcomeMessage(client *editorClient, chapterID, userID string) {
	client.Send(sessionNotice{
		Type:      "connected",
		ChapterID: chapterID,
		UserID:    userID,
		Message:   "WebSocket 连接已建立",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
