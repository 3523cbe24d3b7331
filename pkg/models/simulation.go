package models

// シミュレーションのタスク識別子
const (
	TaskPricingTest      = "pricing_test"
	TaskInsightsReport   = "insights_report"
	TaskContentCreation  = "content_creation"
	TaskABTest           = "ab_test"
	TaskCampaignStrategy = "campaign_strategy"
	TaskPackagingReview  = "packaging_review"
)

// Tasks 受け付けるタスク一覧
var Tasks = []string{
	TaskPricingTest,
	TaskInsightsReport,
	TaskContentCreation,
	TaskABTest,
	TaskCampaignStrategy,
	TaskPackagingReview,
}

// SimulationImage 画像付きシミュレーション用の画像
type SimulationImage struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// SimulationForm ユースケース入力フォームの値
type SimulationForm struct {
	Task           string                   `json:"task"`
	AudienceID     ID                       `json:"audience_id"`
	SegmentIDs     []ID                     `json:"segment_ids"`
	PersonaFilters map[string]PersonaFilter `json:"persona_filters,omitempty"`

	Goal            string   `json:"goal,omitempty"`
	ProductDesc     string   `json:"product_description,omitempty"`
	ContentType     string   `json:"content_type,omitempty"`
	MarketingCopies []string `json:"marketing_copies,omitempty"`
	PriceTiers      []string `json:"price_tiers,omitempty"`
	Questions       []string `json:"questions,omitempty"`
	Channels        []string `json:"channels,omitempty"`
	AdditionalNotes string   `json:"additional_notes,omitempty"`

	// Images バイナリはフォームキャッシュに含めない
	Images []SimulationImage `json:"-"`
}

// SimulationRequest POST /simulations のリクエストボディ
type SimulationRequest struct {
	Task              string                         `json:"task"`
	AudienceID        ID                             `json:"audience_id"`
	SegmentIDs        []ID                           `json:"segment_ids"`
	PersonaFilters    map[string]map[string][]string `json:"persona_filters"`
	Goal              string                         `json:"goal,omitempty"`
	ProductDesc       string                         `json:"product_description,omitempty"`
	ContentType       string                         `json:"content_type,omitempty"`
	MarketingCopies   []string                       `json:"marketing_copies,omitempty"`
	PriceTiers        []string                       `json:"price_tiers,omitempty"`
	Questions         []string                       `json:"questions,omitempty"`
	Channels          []string                       `json:"channels,omitempty"`
	AdditionalNotes   string                         `json:"additional_notes,omitempty"`
	Images            []string                       `json:"images,omitempty"` // base64
	ImageDescriptions []string                       `json:"image_descriptions,omitempty"`
}
