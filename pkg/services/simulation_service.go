package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/store"

	"go.uber.org/zap"
)

// SimulationResult シミュレーション送信の結果
type SimulationResult struct {
	SimulationID      models.ID `json:"simulation_id"`
	Task              string    `json:"task"`
	ImageDescriptions []string  `json:"image_descriptions,omitempty"`
}

// SimulationService ユースケース別の入力フォームを検証し、1つのペイロードとして送信する
type SimulationService struct {
	api     SimulationAPI
	filters *FilterService
	store   StateStore
	logger  *zap.Logger
}

// NewSimulationService 新しいSimulationServiceを生成
func NewSimulationService(api SimulationAPI, filters *FilterService, stateStore StateStore, logger *zap.Logger) *SimulationService {
	return &SimulationService{
		api:     api,
		filters: filters,
		store:   stateStore,
		logger:  logging.OrNop(logger).Named("simulation"),
	}
}

// ValidateForm タスク共通とタスク固有の入力を検証する
func ValidateForm(form models.SimulationForm) error {
	var errs ValidationErrors
	if !knownTask(form.Task) {
		errs.add("task", fmt.Sprintf("Unknown simulation type %q.", form.Task))
		return errs.err()
	}
	if form.AudienceID == "" {
		errs.add("audience_id", "Please select an audience.")
	}
	if len(uniqueIDs(form.SegmentIDs)) == 0 {
		errs.add("segment_ids", "Select at least one segment.")
	}

	switch form.Task {
	case models.TaskABTest:
		requireText(&errs, "goal", form.Goal, "Please describe the goal of the test.")
		if len(nonEmpty(form.MarketingCopies)) < 2 {
			errs.add("marketing_copies", "Please provide at least two marketing copies to compare.")
		}
	case models.TaskPricingTest:
		requireText(&errs, "product_description", form.ProductDesc, "Please describe the product.")
		if len(nonEmpty(form.PriceTiers)) < 2 {
			errs.add("price_tiers", "Please provide at least two price points.")
		}
	case models.TaskInsightsReport:
		if len(nonEmpty(form.Questions)) == 0 {
			errs.add("questions", "Please add at least one question.")
		}
	case models.TaskContentCreation:
		requireText(&errs, "goal", form.Goal, "Please describe the goal of the content.")
		requireText(&errs, "content_type", form.ContentType, "Please choose a content type.")
	case models.TaskCampaignStrategy:
		requireText(&errs, "goal", form.Goal, "Please describe the campaign goal.")
		requireText(&errs, "product_description", form.ProductDesc, "Please describe the product.")
	case models.TaskPackagingReview:
		if len(form.Images) == 0 {
			errs.add("images", "Please upload at least one packaging image.")
		}
		for i, img := range form.Images {
			if len(img.Data) == 0 {
				errs.add("images", fmt.Sprintf("Image %d is empty.", i+1))
			}
		}
	}
	return errs.err()
}

// Submit 検証・画像説明・フィルター正規化を経てシミュレーションを作成する
func (s *SimulationService) Submit(ctx context.Context, form models.SimulationForm) (*SimulationResult, error) {
	if err := ValidateForm(form); err != nil {
		return nil, err
	}

	req := s.buildRequest(form)
	if form.Task == models.TaskPackagingReview {
		descriptions, err := s.api.DescribeImages(ctx, form.Images)
		if err != nil {
			s.logger.Error("画像の説明生成に失敗", zap.Int("images", len(form.Images)), zap.Error(err))
			return nil, fmt.Errorf("failed to describe images: %w", err)
		}
		req.ImageDescriptions = descriptions
		req.Images = make([]string, len(form.Images))
		for i, img := range form.Images {
			req.Images[i] = base64.StdEncoding.EncodeToString(img.Data)
		}
	}

	id, err := s.api.CreateSimulation(ctx, req)
	if err != nil {
		s.logger.Error("シミュレーションの作成に失敗", zap.String("task", form.Task), zap.Error(err))
		return nil, fmt.Errorf("failed to create simulation: %w", err)
	}
	s.logger.Info("シミュレーションを作成",
		zap.String("simulation_id", id.String()),
		zap.String("task", form.Task),
		zap.Int("segments", len(req.SegmentIDs)))

	return &SimulationResult{SimulationID: id, Task: form.Task, ImageDescriptions: req.ImageDescriptions}, nil
}

// DescribeImages 送信前のプレビュー用に画像説明だけを取得する
func (s *SimulationService) DescribeImages(ctx context.Context, images []models.SimulationImage) ([]string, error) {
	if len(images) == 0 {
		return nil, ValidationErrors{{Field: "images", Message: "Please upload at least one packaging image."}}
	}
	descriptions, err := s.api.DescribeImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}
	return descriptions, nil
}

func (s *SimulationService) buildRequest(form models.SimulationForm) models.SimulationRequest {
	segmentIDs := uniqueIDs(form.SegmentIDs)
	req := models.SimulationRequest{
		Task:            form.Task,
		AudienceID:      form.AudienceID,
		SegmentIDs:      segmentIDs,
		PersonaFilters:  make(map[string]map[string][]string, len(segmentIDs)),
		Goal:            strings.TrimSpace(form.Goal),
		ProductDesc:     strings.TrimSpace(form.ProductDesc),
		ContentType:     strings.TrimSpace(form.ContentType),
		MarketingCopies: nonEmpty(form.MarketingCopies),
		PriceTiers:      nonEmpty(form.PriceTiers),
		Questions:       nonEmpty(form.Questions),
		Channels:        nonEmpty(form.Channels),
		AdditionalNotes: strings.TrimSpace(form.AdditionalNotes),
	}
	// フォームに含まれないセグメントはフィルター画面での選択を使う
	selected := s.filters.Filters(form.AudienceID)
	for _, id := range segmentIDs {
		filter, ok := form.PersonaFilters[id.String()]
		if !ok {
			filter = selected[id.String()]
		}
		req.PersonaFilters[id.String()] = s.filters.Normalize(filter)
	}
	return req
}

// CacheForm 入力途中のフォームをローカルに保存する（画像は保存しない）
func (s *SimulationService) CacheForm(draftID string, form models.SimulationForm) error {
	if !knownTask(form.Task) {
		return ValidationErrors{{Field: "task", Message: fmt.Sprintf("Unknown simulation type %q.", form.Task)}}
	}
	if s.store == nil {
		return nil
	}
	form.Images = nil
	if err := s.store.SetJSON(store.FormKey(draftID, form.Task), form); err != nil {
		return fmt.Errorf("failed to cache form: %w", err)
	}
	return nil
}

// CachedForm 保存済みのフォームを読み出す
func (s *SimulationService) CachedForm(draftID, task string) (models.SimulationForm, error) {
	if s.store == nil {
		return models.SimulationForm{}, fmt.Errorf("form %s: %w", task, ErrNotFound)
	}
	var form models.SimulationForm
	found, err := s.store.GetJSON(store.FormKey(draftID, task), &form)
	if err != nil {
		return models.SimulationForm{}, fmt.Errorf("failed to read cached form: %w", err)
	}
	if !found {
		return models.SimulationForm{}, fmt.Errorf("form %s: %w", task, ErrNotFound)
	}
	return form, nil
}

func knownTask(task string) bool {
	for _, t := range models.Tasks {
		if t == task {
			return true
		}
	}
	return false
}

func requireText(errs *ValidationErrors, field, value, message string) {
	if strings.TrimSpace(value) == "" {
		errs.add(field, message)
	}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
