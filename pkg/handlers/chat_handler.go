package handlers

import (
	"context"
	"net/http"
	"time"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// chatSendTimeout 送信はクライアントが切断しても完了させる
const chatSendTimeout = 2 * time.Minute

// ChatHandler ペルソナとのグループチャットのハンドラ
type ChatHandler struct {
	chat *services.ChatService
}

// NewChatHandler 新しいChatHandlerを生成
func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// CreateSessionRequest チャットに参加させるペルソナ
type CreateSessionRequest struct {
	PersonaIDs []models.ID `json:"persona_ids"`
}

// CreateSession セッションを作成する。ペルソナ情報は後から揃う。
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.chat.CreateSession(req.PersonaIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session": session})
}

// GetSession セッションの現在の状態
func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.chat.Session(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// DeleteSession セッションを閉じる
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if !h.chat.CloseSession(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "chat session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SendMessageRequest 送信するメッセージ
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage メッセージを送信する。失敗時も送信済みエントリを含むセッションを返す。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), chatSendTimeout)
	defer cancel()
	session, err := h.chat.Send(ctx, c.Param("id"), req.Message)
	if err != nil {
		status, body := errorResponse(err)
		if session.ID != "" {
			body["session"] = session
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// RefreshSession バックエンドの会話履歴を再取得する
func (h *ChatHandler) RefreshSession(c *gin.Context) {
	session, err := h.chat.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}
