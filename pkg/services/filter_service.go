package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/models"

	"go.uber.org/zap"
)

// segmentFilterState 1セグメント分のフィルター選択と件数見積もり
type segmentFilterState struct {
	segment  models.Segment
	selected bool
	filter   models.PersonaFilter
	count    int
	inFlight int
	seq      uint64
}

type audienceFilters struct {
	name     string
	order    []models.ID
	segments map[models.ID]*segmentFilterState
}

// SegmentFilterView セグメントごとの表示用状態
type SegmentFilterView struct {
	SegmentID models.ID            `json:"segment_id"`
	Name      string               `json:"name"`
	Total     int                  `json:"total"`
	Selected  bool                 `json:"selected"`
	Filter    models.PersonaFilter `json:"filter"`
	Count     int                  `json:"count"`
	Loading   bool                 `json:"loading"`
}

// AudienceFilterView オーディエンス全体のフィルター状態
type AudienceFilterView struct {
	AudienceID   models.ID           `json:"audience_id"`
	AudienceName string              `json:"audience_name"`
	Segments     []SegmentFilterView `json:"segments"`
	SelectedIDs  []models.ID         `json:"selected_ids"`
}

// FilterService セグメント単位でフィルター選択と該当ペルソナ数を同期する。
// 件数クエリは常に1セグメントだけを対象にするので、別セグメントの結果は混ざらない。
type FilterService struct {
	api     PersonaFilterAPI
	profile config.FilterProfile
	logger  *zap.Logger

	mu        sync.Mutex
	audiences map[models.ID]*audienceFilters
}

// NewFilterService 新しいFilterServiceを生成
func NewFilterService(api PersonaFilterAPI, profile config.FilterProfile, logger *zap.Logger) *FilterService {
	return &FilterService{
		api:       api,
		profile:   profile,
		logger:    logging.OrNop(logger).Named("filters"),
		audiences: make(map[models.ID]*audienceFilters),
	}
}

// Profile 使用中のフィルタープロファイル
func (s *FilterService) Profile() config.FilterProfile {
	return s.profile
}

// Register セグメントを登録する。既存の選択状態は保持し、件数の初期値は絞り込み前の総数。
func (s *FilterService) Register(audienceID models.ID, audienceName string, segments []models.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	af, ok := s.audiences[audienceID]
	if !ok {
		af = &audienceFilters{segments: make(map[models.ID]*segmentFilterState)}
		s.audiences[audienceID] = af
	}
	if audienceName != "" {
		af.name = audienceName
	}
	for _, seg := range segments {
		if st, exists := af.segments[seg.ID]; exists {
			st.segment = seg
			continue
		}
		af.order = append(af.order, seg.ID)
		af.segments[seg.ID] = &segmentFilterState{
			segment: seg,
			filter:  make(models.PersonaFilter),
			count:   seg.Count,
		}
	}
}

// Registered セグメントが登録済みか
func (s *FilterService) Registered(audienceID models.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	af, ok := s.audiences[audienceID]
	return ok && len(af.order) > 0
}

// SelectSegment セグメントの選択状態を切り替える。選択時はフィルター未指定でも件数を問い合わせる。
func (s *FilterService) SelectSegment(ctx context.Context, audienceID, segmentID models.ID, selected bool) (SegmentFilterView, error) {
	s.mu.Lock()
	st, err := s.segmentLocked(audienceID, segmentID)
	if err != nil {
		s.mu.Unlock()
		return SegmentFilterView{}, err
	}
	st.selected = selected
	if !selected {
		view := st.view()
		s.mu.Unlock()
		return view, nil
	}
	s.mu.Unlock()

	return s.refreshCount(ctx, audienceID, segmentID)
}

// Toggle 軸の値を選択/解除し、そのセグメントだけの件数を再計算する
func (s *FilterService) Toggle(ctx context.Context, audienceID, segmentID models.ID, dimension, value string) (SegmentFilterView, error) {
	dim, ok := s.profile.Dimension(dimension)
	if !ok {
		return SegmentFilterView{}, ValidationErrors{{Field: "dimension", Message: fmt.Sprintf("Unknown filter %q.", dimension)}}
	}
	if !dim.Allows(value) {
		return SegmentFilterView{}, ValidationErrors{{Field: "value", Message: fmt.Sprintf("%q is not a valid %s.", value, dim.Label)}}
	}

	s.mu.Lock()
	st, err := s.segmentLocked(audienceID, segmentID)
	if err != nil {
		s.mu.Unlock()
		return SegmentFilterView{}, err
	}
	st.filter[dimension] = toggleValue(st.filter[dimension], value)
	if len(st.filter[dimension]) == 0 {
		delete(st.filter, dimension)
	}
	st.selected = true
	s.mu.Unlock()

	return s.refreshCount(ctx, audienceID, segmentID)
}

// refreshCount 件数クエリを発行する。古いレスポンスは捨て、失敗時は前回の件数を残す。
func (s *FilterService) refreshCount(ctx context.Context, audienceID, segmentID models.ID) (SegmentFilterView, error) {
	s.mu.Lock()
	af := s.audiences[audienceID]
	st := af.segments[segmentID]
	st.seq++
	seq := st.seq
	st.inFlight++
	req := models.FilterPersonasRequest{
		Segments:     []models.ID{segmentID},
		Filters:      map[string]map[string][]string{segmentID.String(): s.transform(st.filter, false)},
		AudienceName: af.name,
	}
	s.mu.Unlock()

	result, err := s.api.FilterPersonas(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.inFlight--
	switch {
	case err != nil:
		s.logger.Warn("ペルソナ件数の取得に失敗",
			zap.String("audience_id", audienceID.String()),
			zap.String("segment_id", segmentID.String()),
			zap.Error(err))
	case seq != st.seq:
		s.logger.Debug("古い件数レスポンスを破棄", zap.String("segment_id", segmentID.String()))
	default:
		st.count = result.Total()
	}
	return st.view(), nil
}

// View オーディエンスのフィルター状態
func (s *FilterService) View(audienceID models.ID) (AudienceFilterView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	af, ok := s.audiences[audienceID]
	if !ok {
		return AudienceFilterView{}, fmt.Errorf("filters for audience %s: %w", audienceID, ErrNotFound)
	}
	view := AudienceFilterView{AudienceID: audienceID, AudienceName: af.name, SelectedIDs: []models.ID{}}
	for _, id := range af.order {
		st := af.segments[id]
		view.Segments = append(view.Segments, st.view())
		if st.selected {
			view.SelectedIDs = append(view.SelectedIDs, id)
		}
	}
	return view, nil
}

// Filters 選択中セグメントのフィルター（ドラフト保存用）
func (s *FilterService) Filters(audienceID models.ID) map[string]models.PersonaFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.PersonaFilter)
	if af, ok := s.audiences[audienceID]; ok {
		for id, st := range af.segments {
			if st.selected {
				out[id.String()] = st.filter.Clone()
			}
		}
	}
	return out
}

// BuildSubmission 最終送信用のペイロード。未選択の軸は列挙値すべてに正規化する。
func (s *FilterService) BuildSubmission(audienceID models.ID, segmentIDs []models.ID) (models.FilterPersonasRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	af, ok := s.audiences[audienceID]
	if !ok {
		return models.FilterPersonasRequest{}, fmt.Errorf("filters for audience %s: %w", audienceID, ErrNotFound)
	}

	ids := uniqueIDs(segmentIDs)
	if len(ids) == 0 {
		for _, id := range af.order {
			if af.segments[id].selected {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return models.FilterPersonasRequest{}, ValidationErrors{{Field: "segments", Message: "Select at least one segment."}}
	}

	req := models.FilterPersonasRequest{
		Segments:     ids,
		Filters:      make(map[string]map[string][]string, len(ids)),
		AudienceName: af.name,
	}
	for _, id := range ids {
		var filter models.PersonaFilter
		if st, ok := af.segments[id]; ok {
			filter = st.filter
		}
		req.Filters[id.String()] = s.transform(filter, true)
	}
	return req, nil
}

// Submit 正規化済みフィルターでペルソナを絞り込む
func (s *FilterService) Submit(ctx context.Context, audienceID models.ID, segmentIDs []models.ID) (models.RolePersonas, error) {
	req, err := s.BuildSubmission(audienceID, segmentIDs)
	if err != nil {
		return nil, err
	}
	result, err := s.api.FilterPersonas(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to filter personas: %w", err)
	}
	return result, nil
}

// Normalize 軸IDをバックエンドのキーに変換し、未選択の軸を全値で埋める
func (s *FilterService) Normalize(filter models.PersonaFilter) map[string][]string {
	return s.transform(filter, true)
}

// transform 軸IDをバックエンドのキーに変換する。fillはtrueなら未選択の軸を全値で埋める。
func (s *FilterService) transform(filter models.PersonaFilter, fill bool) map[string][]string {
	out := make(map[string][]string, len(s.profile.Dimensions))
	for _, dim := range s.profile.Dimensions {
		values := filter[dim.ID]
		if len(values) == 0 {
			if fill {
				values = dim.Values
			} else {
				values = []string{}
			}
		}
		out[dim.Key] = append([]string(nil), values...)
	}
	return out
}

func (s *FilterService) segmentLocked(audienceID, segmentID models.ID) (*segmentFilterState, error) {
	af, ok := s.audiences[audienceID]
	if !ok {
		return nil, fmt.Errorf("filters for audience %s: %w", audienceID, ErrNotFound)
	}
	st, ok := af.segments[segmentID]
	if !ok {
		return nil, fmt.Errorf("segment %s: %w", segmentID, ErrNotFound)
	}
	return st, nil
}

func (st *segmentFilterState) view() SegmentFilterView {
	return SegmentFilterView{
		SegmentID: st.segment.ID,
		Name:      st.segment.Name,
		Total:     st.segment.Count,
		Selected:  st.selected,
		Filter:    st.filter.Clone(),
		Count:     st.count,
		Loading:   st.inFlight > 0,
	}
}

func toggleValue(values []string, value string) []string {
	for i, v := range values {
		if v == value {
			return append(values[:i:i], values[i+1:]...)
		}
	}
	out := append(append([]string(nil), values...), value)
	sort.Strings(out)
	return out
}

func uniqueIDs(ids []models.ID) []models.ID {
	seen := make(map[models.ID]bool, len(ids))
	out := make([]models.ID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
