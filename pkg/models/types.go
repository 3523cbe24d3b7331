package models

import "time"

// ターゲット種別
const (
	TargetCompany = "company"
	TargetProduct = "product"
	TargetPerson  = "person"
)

// セグメント範囲
const (
	SegmentScopeAll      = "all"
	SegmentScopeSpecific = "specific"
)

// UploadedFile ウィザードでアップロードされたファイル。Contentはシリアライズしない。
type UploadedFile struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Content     []byte    `json:"-"`
}

// SegmentSummary 生成されたセグメントの概要
type SegmentSummary struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// PersonaFilter 軸ID → 選択値
type PersonaFilter map[string][]string

// Clone ディープコピー
func (f PersonaFilter) Clone() PersonaFilter {
	if f == nil {
		return nil
	}
	out := make(PersonaFilter, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// AudienceDraft 作成中のオーディエンス
type AudienceDraft struct {
	ID              string                   `json:"id"`
	Step            string                   `json:"step,omitempty"`
	TargetType      string                   `json:"target_type,omitempty"`
	Website         string                   `json:"website,omitempty"`
	SegmentType     string                   `json:"segment_type,omitempty"`
	SpecificSegment string                   `json:"specific_segment,omitempty"`
	AdditionalInfo  string                   `json:"additional_info,omitempty"`
	UploadedFile    *UploadedFile            `json:"uploaded_file,omitempty"`
	AudienceID      ID                       `json:"audience_id,omitempty"`
	Name            string                   `json:"name,omitempty"`
	Segments        []SegmentSummary         `json:"segments,omitempty"`
	Filters         map[string]PersonaFilter `json:"filters,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// Clone 呼び出し側とマップ・スライスを共有しないコピーを返す
func (d AudienceDraft) Clone() AudienceDraft {
	out := d
	if d.UploadedFile != nil {
		f := *d.UploadedFile
		f.Content = append([]byte(nil), d.UploadedFile.Content...)
		out.UploadedFile = &f
	}
	out.Segments = append([]SegmentSummary(nil), d.Segments...)
	if d.Filters != nil {
		out.Filters = make(map[string]PersonaFilter, len(d.Filters))
		for k, v := range d.Filters {
			out.Filters[k] = v.Clone()
		}
	}
	return out
}

// DraftPatch Updateで適用する部分更新。nilのフィールドは変更しない。
type DraftPatch struct {
	Step            *string                  `json:"step,omitempty"`
	TargetType      *string                  `json:"target_type,omitempty"`
	Website         *string                  `json:"website,omitempty"`
	SegmentType     *string                  `json:"segment_type,omitempty"`
	SpecificSegment *string                  `json:"specific_segment,omitempty"`
	AdditionalInfo  *string                  `json:"additional_info,omitempty"`
	AudienceID      *ID                      `json:"audience_id,omitempty"`
	Name            *string                  `json:"name,omitempty"`
	Segments        []SegmentSummary         `json:"segments,omitempty"`
	Filters         map[string]PersonaFilter `json:"filters,omitempty"`
}

// Audience バックエンドが保持するオーディエンス詳細
type Audience struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Website     string    `json:"website,omitempty"`
	Industry    string    `json:"industry,omitempty"`
	Description string    `json:"description,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty"`
	UpdatedAt   string    `json:"updated_at,omitempty"`
}

// Segment オーディエンス内のコホート
type Segment struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Summary ドラフト保存用の概要に変換
func (s Segment) Summary() SegmentSummary {
	return SegmentSummary{ID: s.ID, Name: s.Name, Description: s.Description, Count: s.Count}
}

// CreateAudienceRequest POST /audience のリクエストボディ
type CreateAudienceRequest struct {
	Type            string `json:"type"`
	Website         string `json:"website"`
	SegmentType     string `json:"segment_type"`
	SpecificSegment string `json:"specific_segment,omitempty"`
	AdditionalInfo  string `json:"additional_info,omitempty"`
}

// FilterPersonasRequest POST /filter_personas のリクエストボディ
type FilterPersonasRequest struct {
	Segments     []ID                           `json:"segments"`
	Filters      map[string]map[string][]string `json:"filters"`
	AudienceName string                         `json:"audience_name"`
}

// RolePersonas ロール → ペルソナIDリスト
type RolePersonas map[string][]ID

// Total 全ロールのペルソナ数の合計
func (r RolePersonas) Total() int {
	total := 0
	for _, ids := range r {
		total += len(ids)
	}
	return total
}
