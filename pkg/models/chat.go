package models

import "time"

// チャットエントリのロール
const (
	ChatRoleUser  = "user"
	ChatRoleGroup = "group"
)

// ChatEntry チャットの1メッセージ
type ChatEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession 選択ペルソナとのグループチャット
type ChatSession struct {
	ID             string           `json:"id"`
	PersonaIDs     []ID             `json:"persona_ids"`
	Personas       []PersonaSummary `json:"personas"`
	PersonasLoaded int              `json:"personas_loaded"`
	ChatHistoryID  *ID              `json:"chat_history_id"`
	Messages       []ChatEntry      `json:"messages"`
	Sending        bool             `json:"sending"`
	CreatedAt      time.Time        `json:"created_at"`
}

// GroupChatRequest POST /persona_group_chat のリクエストボディ
type GroupChatRequest struct {
	PersonaIDs    []ID   `json:"persona_ids"`
	Query         string `json:"query"`
	ChatHistoryID *ID    `json:"chat_history_id"`
}

// GroupChatResponse POST /persona_group_chat のレスポンス
type GroupChatResponse struct {
	Response      string `json:"response"`
	ChatHistoryID ID     `json:"chat_history_id"`
}

// ChatHistoryMessage GET /persona_group_chat/{id} の1メッセージ
type ChatHistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}
