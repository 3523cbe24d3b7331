package services

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"persona-sim-api/pkg/models"

	"github.com/google/uuid"
)

// ウィザードのステップ
const (
	StepAudienceType = "audience_type"
	StepDetails      = "details"
	StepSegment      = "segment"
)

// WizardSteps 検証順のステップ一覧
var WizardSteps = []string{StepAudienceType, StepDetails, StepSegment}

// DraftService 作成中オーディエンスの共有状態コンテナ。
// 各ステップは読み取りと部分更新だけを行い、永続化はしない。
type DraftService struct {
	mu     sync.RWMutex
	drafts map[string]*models.AudienceDraft
	now    func() time.Time
}

// NewDraftService 新しいDraftServiceを生成
func NewDraftService() *DraftService {
	return &DraftService{
		drafts: make(map[string]*models.AudienceDraft),
		now:    time.Now,
	}
}

// Create 空のドラフトを作成する
func (s *DraftService) Create() models.AudienceDraft {
	now := s.now()
	draft := &models.AudienceDraft{
		ID:        uuid.New().String(),
		Step:      StepAudienceType,
		Filters:   make(map[string]models.PersonaFilter),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.drafts[draft.ID] = draft
	s.mu.Unlock()
	return draft.Clone()
}

// Read 現在のドラフトを返す
func (s *DraftService) Read(id string) (models.AudienceDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[id]
	if !ok {
		return models.AudienceDraft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return draft.Clone(), nil
}

// Update 部分更新をマージする（フィールド単位で後勝ち）
func (s *DraftService) Update(id string, patch models.DraftPatch) (models.AudienceDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[id]
	if !ok {
		return models.AudienceDraft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}

	applyString(&draft.Step, patch.Step)
	applyString(&draft.TargetType, patch.TargetType)
	applyString(&draft.Website, patch.Website)
	applyString(&draft.SegmentType, patch.SegmentType)
	applyString(&draft.SpecificSegment, patch.SpecificSegment)
	applyString(&draft.AdditionalInfo, patch.AdditionalInfo)
	applyString(&draft.Name, patch.Name)
	if patch.AudienceID != nil {
		draft.AudienceID = *patch.AudienceID
	}
	if patch.Segments != nil {
		draft.Segments = append([]models.SegmentSummary(nil), patch.Segments...)
	}
	if patch.Filters != nil {
		if draft.Filters == nil {
			draft.Filters = make(map[string]models.PersonaFilter)
		}
		for segmentID, filter := range patch.Filters {
			draft.Filters[segmentID] = filter.Clone()
		}
	}
	draft.UpdatedAt = s.now()
	return draft.Clone(), nil
}

// SetFile アップロードファイルを添付する
func (s *DraftService) SetFile(id string, file models.UploadedFile) (models.AudienceDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[id]
	if !ok {
		return models.AudienceDraft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = s.now()
	}
	file.Content = append([]byte(nil), file.Content...)
	draft.UploadedFile = &file
	draft.UpdatedAt = s.now()
	return draft.Clone(), nil
}

// Delete ドラフトを破棄する
func (s *DraftService) Delete(id string) {
	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()
}

// FindByAudience オーディエンスIDに紐づくドラフトを探す
func (s *DraftService) FindByAudience(audienceID models.ID) (models.AudienceDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.drafts {
		if d.AudienceID == audienceID {
			return d.Clone(), true
		}
	}
	return models.AudienceDraft{}, false
}

func applyString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// ValidateStep ステップ単位の入力検証
func ValidateStep(draft models.AudienceDraft, step string) error {
	var errs ValidationErrors
	switch step {
	case StepAudienceType:
		switch draft.TargetType {
		case models.TargetCompany, models.TargetProduct, models.TargetPerson:
		default:
			errs.add("target_type", "Audience type is required.")
		}
	case StepDetails:
		website := strings.TrimSpace(draft.Website)
		needsWebsite := draft.TargetType == models.TargetCompany || draft.TargetType == models.TargetProduct
		switch {
		case website == "" && needsWebsite:
			errs.add("website", "Website URL is required.")
		case website != "" && !validURL(website):
			errs.add("website", "Please enter a valid URL.")
		}
		if draft.TargetType == models.TargetPerson && website == "" && strings.TrimSpace(draft.AdditionalInfo) == "" {
			errs.add("additional_info", "Please describe the person.")
		}
	case StepSegment:
		switch draft.SegmentType {
		case models.SegmentScopeAll:
		case models.SegmentScopeSpecific:
			if strings.TrimSpace(draft.SpecificSegment) == "" {
				errs.add("specific_segment", "Please describe the segment.")
			}
		default:
			errs.add("segment_type", "Segment scope is required.")
		}
	default:
		errs.add("step", fmt.Sprintf("Unknown step %q.", step))
	}
	return errs.err()
}

// ValidateDraft 全ステップを検証する
func ValidateDraft(draft models.AudienceDraft) error {
	var all ValidationErrors
	for _, step := range WizardSteps {
		if err := ValidateStep(draft, step); err != nil {
			if v, ok := AsValidation(err); ok {
				all = append(all, v...)
			}
		}
	}
	return all.err()
}

// validURL スキームを省略した "acme.com" も受け付ける
func validURL(raw string) bool {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.Contains(u.Host, ".") && !strings.ContainsAny(u.Host, " ")
}
