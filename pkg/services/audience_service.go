package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/store"

	"go.uber.org/zap"
)

// AudienceCreation オーディエンス作成の結果
type AudienceCreation struct {
	AudienceID models.ID            `json:"audience_id"`
	Draft      models.AudienceDraft `json:"draft"`
	Generation GenerationStatus     `json:"generation"`
}

// AudienceService ウィザードからのオーディエンス作成・保存・参照
type AudienceService struct {
	api        AudienceAPI
	drafts     *DraftService
	generation *GenerationService
	filters    *FilterService
	store      StateStore
	logger     *zap.Logger
}

// NewAudienceService 新しいAudienceServiceを生成
func NewAudienceService(api AudienceAPI, drafts *DraftService, generation *GenerationService, filters *FilterService, stateStore StateStore, logger *zap.Logger) *AudienceService {
	return &AudienceService{
		api:        api,
		drafts:     drafts,
		generation: generation,
		filters:    filters,
		store:      stateStore,
		logger:     logging.OrNop(logger).Named("audience"),
	}
}

// Create ドラフトを検証してオーディエンスを作成し、生成のポーリングを開始する
func (s *AudienceService) Create(ctx context.Context, draftID string) (*AudienceCreation, error) {
	draft, err := s.drafts.Read(draftID)
	if err != nil {
		return nil, err
	}
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}
	if draft.AudienceID != "" {
		status := s.generation.Start(draft.AudienceID, s.onGenerated(draftID, draft.AudienceID))
		return &AudienceCreation{AudienceID: draft.AudienceID, Draft: draft, Generation: status}, nil
	}

	req := BuildCreateAudienceRequest(draft)
	audienceID, err := s.api.CreateAudience(ctx, req)
	if err != nil {
		s.logger.Error("オーディエンスの作成に失敗", zap.String("draft_id", draftID), zap.Error(err))
		return nil, fmt.Errorf("failed to create audience: %w", err)
	}

	updated, err := s.drafts.Update(draftID, models.DraftPatch{AudienceID: &audienceID})
	if err != nil {
		return nil, err
	}
	s.logger.Info("オーディエンスを作成",
		zap.String("draft_id", draftID),
		zap.String("audience_id", audienceID.String()),
		zap.String("type", req.Type))

	status := s.generation.Start(audienceID, s.onGenerated(draftID, audienceID))
	return &AudienceCreation{AudienceID: audienceID, Draft: updated, Generation: status}, nil
}

// onGenerated 生成完了時にドラフトとフィルター状態へセグメントを反映する
func (s *AudienceService) onGenerated(draftID string, audienceID models.ID) func([]models.Segment) {
	return func(segments []models.Segment) {
		summaries := make([]models.SegmentSummary, len(segments))
		for i, seg := range segments {
			summaries[i] = seg.Summary()
		}
		if _, err := s.drafts.Update(draftID, models.DraftPatch{Segments: summaries}); err != nil {
			s.logger.Debug("ドラフトが見つからないためセグメントを反映しません", zap.String("draft_id", draftID))
		}
		if s.filters != nil {
			s.filters.Register(audienceID, "", segments)
		}
	}
}

// BuildCreateAudienceRequest ドラフトからPOST /audienceのボディを組み立てる
func BuildCreateAudienceRequest(draft models.AudienceDraft) models.CreateAudienceRequest {
	website := strings.TrimSpace(draft.Website)
	if website != "" && !strings.Contains(website, "://") {
		website = "https://" + website
	}
	req := models.CreateAudienceRequest{
		Type:           draft.TargetType,
		Website:        website,
		SegmentType:    draft.SegmentType,
		AdditionalInfo: strings.TrimSpace(draft.AdditionalInfo),
	}
	if draft.SegmentType == models.SegmentScopeSpecific {
		req.SpecificSegment = strings.TrimSpace(draft.SpecificSegment)
	}
	if text, ok := uploadedText(draft.UploadedFile); ok {
		if req.AdditionalInfo != "" {
			req.AdditionalInfo += "\n\n"
		}
		req.AdditionalInfo += text
	}
	return req
}

var textExtensions = map[string]bool{".txt": true, ".md": true, ".csv": true, ".json": true}

// uploadedText テキストとして読めるアップロードだけを返す
func uploadedText(file *models.UploadedFile) (string, bool) {
	if file == nil || len(file.Content) == 0 {
		return "", false
	}
	isText := strings.HasPrefix(file.ContentType, "text/") ||
		textExtensions[strings.ToLower(filepath.Ext(file.Name))]
	if !isText || !utf8.Valid(file.Content) {
		return "", false
	}
	text := strings.TrimSpace(string(file.Content))
	return text, text != ""
}

// Save 名前を付けて保存し、ローカルに残したオーディエンス関連キーを消す
func (s *AudienceService) Save(ctx context.Context, audienceID models.ID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationErrors{{Field: "name", Message: "Audience name is required."}}
	}
	if err := s.api.UpdateAudienceName(ctx, audienceID, name); err != nil {
		return fmt.Errorf("failed to save audience: %w", err)
	}

	if draft, ok := s.drafts.FindByAudience(audienceID); ok {
		if _, err := s.drafts.Update(draft.ID, models.DraftPatch{Name: &name}); err != nil {
			s.logger.Debug("ドラフトの名前更新に失敗", zap.Error(err))
		}
	}
	if s.filters != nil {
		s.filters.Register(audienceID, name, nil)
	}
	if s.store != nil {
		removed, err := s.store.DeletePrefix(store.AudiencePrefix(audienceID.String()))
		if err != nil {
			s.logger.Warn("ローカル状態の削除に失敗", zap.String("audience_id", audienceID.String()), zap.Error(err))
		} else {
			s.logger.Debug("ローカル状態を削除", zap.String("audience_id", audienceID.String()), zap.Int64("keys", removed))
		}
	}
	s.generation.Forget(audienceID)
	return nil
}

// List 全オーディエンスの詳細。個別の取得失敗は読み飛ばす。
func (s *AudienceService) List(ctx context.Context) ([]models.Audience, error) {
	ids, err := s.api.ListAudienceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audiences: %w", err)
	}
	audiences := make([]models.Audience, 0, len(ids))
	for _, id := range ids {
		aud, err := s.api.GetAudience(ctx, id)
		if err != nil {
			s.logger.Warn("オーディエンスの取得に失敗", zap.String("audience_id", id.String()), zap.Error(err))
			continue
		}
		audiences = append(audiences, *aud)
	}
	return audiences, nil
}

// Get オーディエンス詳細
func (s *AudienceService) Get(ctx context.Context, audienceID models.ID) (*models.Audience, error) {
	aud, err := s.api.GetAudience(ctx, audienceID)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("audience %s", audienceID))
	}
	return aud, nil
}

// Segments ローカルキャッシュを優先してセグメント一覧を返す
func (s *AudienceService) Segments(ctx context.Context, audienceID models.ID) ([]models.Segment, error) {
	if s.store != nil {
		var cached []models.Segment
		found, err := s.store.GetJSON(store.SegmentsKey(audienceID.String()), &cached)
		if err != nil {
			s.logger.Debug("セグメントキャッシュの読み込みに失敗", zap.Error(err))
		}
		if found && len(cached) > 0 {
			return cached, nil
		}
	}
	segments, err := s.api.ListSegments(ctx, audienceID)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("segments of audience %s", audienceID))
	}
	return segments, nil
}

// PrepareFilters フィルター状態が未登録ならセグメントを読み込んで登録する
func (s *AudienceService) PrepareFilters(ctx context.Context, audienceID models.ID) error {
	if s.filters == nil || s.filters.Registered(audienceID) {
		return nil
	}
	segments, err := s.Segments(ctx, audienceID)
	if err != nil {
		return err
	}
	name := ""
	if draft, ok := s.drafts.FindByAudience(audienceID); ok {
		name = draft.Name
	}
	if name == "" {
		if aud, err := s.api.GetAudience(ctx, audienceID); err == nil {
			name = aud.Name
		}
	}
	s.filters.Register(audienceID, name, segments)
	return nil
}

// SegmentPersonas セグメントのペルソナ一覧。audienceIDが分かればローカルにキャッシュする。
func (s *AudienceService) SegmentPersonas(ctx context.Context, audienceID, segmentID models.ID) ([]models.Persona, error) {
	key := ""
	if audienceID != "" && s.store != nil {
		key = store.PersonasKey(audienceID.String(), segmentID.String())
		var cached []models.Persona
		if found, err := s.store.GetJSON(key, &cached); err == nil && found {
			return cached, nil
		}
	}

	personas, err := s.api.ListSegmentPersonas(ctx, segmentID)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("personas of segment %s", segmentID))
	}
	if key != "" && len(personas) > 0 {
		if err := s.store.SetJSON(key, personas); err != nil {
			s.logger.Debug("ペルソナキャッシュの保存に失敗", zap.Error(err))
		}
	}
	return personas, nil
}

// Persona ペルソナ詳細
func (s *AudienceService) Persona(ctx context.Context, personaID models.ID) (*models.Persona, error) {
	persona, err := s.api.GetPersona(ctx, personaID)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("persona %s", personaID))
	}
	return persona, nil
}
