package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPersonaFetchTimeout ペルソナ1件あたりの取得タイムアウト
const DefaultPersonaFetchTimeout = 5 * time.Minute

// personaFetchConcurrency 同時に取得するペルソナ数
const personaFetchConcurrency = 4

type chatSession struct {
	session models.ChatSession
	cancel  context.CancelFunc
	loaded  chan struct{}
}

// ChatService 選択したペルソナとのグループチャット
type ChatService struct {
	api          ChatAPI
	fetchTimeout time.Duration
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*chatSession
}

// NewChatService 新しいChatServiceを生成。fetchTimeoutが0以下なら5分。
func NewChatService(api ChatAPI, fetchTimeout time.Duration, logger *zap.Logger) *ChatService {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultPersonaFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatService{
		api:          api,
		fetchTimeout: fetchTimeout,
		logger:       logging.OrNop(logger).Named("chat"),
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*chatSession),
	}
}

// CreateSession セッションを作成してすぐに返す。ペルソナ情報はバックグラウンドで順次読み込む。
func (s *ChatService) CreateSession(personaIDs []models.ID) (models.ChatSession, error) {
	ids := uniqueIDs(personaIDs)
	if len(ids) == 0 {
		return models.ChatSession{}, ValidationErrors{{Field: "persona_ids", Message: "Select at least one persona to chat with."}}
	}

	personas := make([]models.PersonaSummary, len(ids))
	for i, id := range ids {
		personas[i] = models.PlaceholderPersona(id)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	cs := &chatSession{
		session: models.ChatSession{
			ID:         uuid.New().String(),
			PersonaIDs: ids,
			Personas:   personas,
			Messages:   []models.ChatEntry{},
			CreatedAt:  time.Now(),
		},
		cancel: cancel,
		loaded: make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[cs.session.ID] = cs
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loadPersonas(ctx, cs)

	s.logger.Info("チャットセッションを作成",
		zap.String("session_id", cs.session.ID),
		zap.Int("personas", len(ids)))
	return s.snapshot(cs), nil
}

// loadPersonas ペルソナを並行して取得し、届いた順に反映する。失敗したものはプレースホルダーのまま。
func (s *ChatService) loadPersonas(ctx context.Context, cs *chatSession) {
	defer s.wg.Done()
	defer close(cs.loaded)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(personaFetchConcurrency)
	for i, id := range cs.session.PersonaIDs {
		i, id := i, id
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, s.fetchTimeout)
			defer cancel()

			persona, err := s.api.GetPersona(fetchCtx, id)

			s.mu.Lock()
			defer s.mu.Unlock()
			cs.session.PersonasLoaded++
			if err != nil {
				s.logger.Warn("ペルソナの取得に失敗、プレースホルダーを表示",
					zap.String("persona_id", id.String()),
					zap.Error(err))
				cs.session.Personas[i].Loaded = true
				return nil
			}
			name := persona.Name
			if name == "" {
				name = models.PlaceholderPersona(id).Name
			}
			cs.session.Personas[i] = models.PersonaSummary{ID: id, Name: name, Loaded: true}
			return nil
		})
	}
	_ = g.Wait()
}

// Send ユーザー発言を先に追加してから送信し、グループの返答を追記する
func (s *ChatService) Send(ctx context.Context, sessionID, message string) (models.ChatSession, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.ChatSession{}, ValidationErrors{{Field: "message", Message: "Please enter a message."}}
	}

	s.mu.Lock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", sessionID, ErrNotFound)
	}
	if cs.session.Sending {
		s.mu.Unlock()
		return models.ChatSession{}, ErrChatBusy
	}
	entry := models.ChatEntry{
		ID:        uuid.New().String(),
		Role:      models.ChatRoleUser,
		Content:   message,
		Pending:   true,
		CreatedAt: time.Now(),
	}
	cs.session.Messages = append(cs.session.Messages, entry)
	cs.session.Sending = true
	req := models.GroupChatRequest{
		PersonaIDs:    append([]models.ID(nil), cs.session.PersonaIDs...),
		Query:         message,
		ChatHistoryID: cs.session.ChatHistoryID,
	}
	s.mu.Unlock()

	resp, err := s.api.GroupChat(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	cs.session.Sending = false
	idx := entryIndex(cs.session.Messages, entry.ID)
	if err != nil {
		if idx >= 0 {
			cs.session.Messages[idx].Pending = false
			cs.session.Messages[idx].Failed = true
		}
		s.logger.Error("グループチャットの送信に失敗", zap.String("session_id", sessionID), zap.Error(err))
		return s.snapshotLocked(cs), fmt.Errorf("failed to send chat message: %w", err)
	}
	if idx >= 0 {
		cs.session.Messages[idx].Pending = false
	}
	cs.session.Messages = append(cs.session.Messages, models.ChatEntry{
		ID:        uuid.New().String(),
		Role:      models.ChatRoleGroup,
		Content:   resp.Response,
		CreatedAt: time.Now(),
	})
	if resp.ChatHistoryID != "" {
		historyID := resp.ChatHistoryID
		cs.session.ChatHistoryID = &historyID
	}
	return s.snapshotLocked(cs), nil
}

// Refresh バックエンドに保存された会話履歴で置き換える
func (s *ChatService) Refresh(ctx context.Context, sessionID string) (models.ChatSession, error) {
	s.mu.Lock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", sessionID, ErrNotFound)
	}
	if cs.session.Sending {
		s.mu.Unlock()
		return models.ChatSession{}, ErrChatBusy
	}
	if cs.session.ChatHistoryID == nil {
		snap := s.snapshotLocked(cs)
		s.mu.Unlock()
		return snap, nil
	}
	historyID := *cs.session.ChatHistoryID
	s.mu.Unlock()

	history, err := s.api.GetGroupChat(ctx, historyID)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("failed to refresh chat history: %w", err)
	}

	messages := make([]models.ChatEntry, 0, len(history))
	for _, m := range history {
		role := models.ChatRoleGroup
		if m.Role == models.ChatRoleUser {
			role = models.ChatRoleUser
		}
		created, _ := time.Parse(time.RFC3339, m.Timestamp)
		messages = append(messages, models.ChatEntry{
			ID:        uuid.New().String(),
			Role:      role,
			Content:   m.Content,
			CreatedAt: created,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cs.session.Messages = messages
	return s.snapshotLocked(cs), nil
}

// Session セッションの現在の状態
func (s *ChatService) Session(sessionID string) (models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return models.ChatSession{}, fmt.Errorf("chat session %s: %w", sessionID, ErrNotFound)
	}
	return s.snapshotLocked(cs), nil
}

// Loaded ペルソナの読み込み完了時に閉じるチャネル
func (s *ChatService) Loaded(sessionID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[sessionID]; ok {
		return cs.loaded
	}
	return nil
}

// CloseSession 読み込みを止めてセッションを破棄する
func (s *ChatService) CloseSession(sessionID string) bool {
	s.mu.Lock()
	cs, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	cs.cancel()
	<-cs.loaded
	return true
}

// Close 全セッションの読み込みを止めて終了を待つ
func (s *ChatService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *ChatService) snapshot(cs *chatSession) models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(cs)
}

func (s *ChatService) snapshotLocked(cs *chatSession) models.ChatSession {
	out := cs.session
	out.PersonaIDs = append([]models.ID(nil), cs.session.PersonaIDs...)
	out.Personas = append([]models.PersonaSummary(nil), cs.session.Personas...)
	out.Messages = append([]models.ChatEntry{}, cs.session.Messages...)
	if cs.session.ChatHistoryID != nil {
		id := *cs.session.ChatHistoryID
		out.ChatHistoryID = &id
	}
	return out
}

func entryIndex(entries []models.ChatEntry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
