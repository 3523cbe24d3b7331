package services

import (
	"context"

	"persona-sim-api/pkg/models"
)

// StateStore 名前空間付きのローカル状態ストア（store.SQLiteStoreが実装）
type StateStore interface {
	GetJSON(key string, v interface{}) (bool, error)
	SetJSON(key string, v interface{}) error
	DeletePrefix(prefix string) (int64, error)
}

// SegmentLister 生成中オーディエンスのセグメント取得
type SegmentLister interface {
	ListSegments(ctx context.Context, audienceID models.ID) ([]models.Segment, error)
}

// AudienceAPI オーディエンス関連のバックエンド呼び出し
type AudienceAPI interface {
	SegmentLister
	CreateAudience(ctx context.Context, req models.CreateAudienceRequest) (models.ID, error)
	UpdateAudienceName(ctx context.Context, audienceID models.ID, name string) error
	ListAudienceIDs(ctx context.Context) ([]models.ID, error)
	GetAudience(ctx context.Context, audienceID models.ID) (*models.Audience, error)
	ListSegmentPersonas(ctx context.Context, segmentID models.ID) ([]models.Persona, error)
	GetPersona(ctx context.Context, personaID models.ID) (*models.Persona, error)
}

// PersonaFilterAPI ペルソナ絞り込み（件数見積もりと最終送信の両方で使う）
type PersonaFilterAPI interface {
	FilterPersonas(ctx context.Context, req models.FilterPersonasRequest) (models.RolePersonas, error)
}

// SimulationAPI シミュレーション作成と画像説明
type SimulationAPI interface {
	CreateSimulation(ctx context.Context, req models.SimulationRequest) (models.ID, error)
	DescribeImages(ctx context.Context, images []models.SimulationImage) ([]string, error)
}

// ChatAPI グループチャットとペルソナ詳細
type ChatAPI interface {
	GetPersona(ctx context.Context, personaID models.ID) (*models.Persona, error)
	GroupChat(ctx context.Context, req models.GroupChatRequest) (*models.GroupChatResponse, error)
	GetGroupChat(ctx context.Context, chatHistoryID models.ID) ([]models.ChatHistoryMessage, error)
}
