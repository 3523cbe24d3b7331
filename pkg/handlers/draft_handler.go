package handlers

import (
	"net/http"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// DraftHandler ウィザードのドラフト操作のハンドラ
type DraftHandler struct {
	drafts      *services.DraftService
	audiences   *services.AudienceService
	filters     *services.FilterService
	simulations *services.SimulationService
}

// NewDraftHandler 新しいDraftHandlerを生成
func NewDraftHandler(drafts *services.DraftService, audiences *services.AudienceService, filters *services.FilterService, simulations *services.SimulationService) *DraftHandler {
	return &DraftHandler{
		drafts:      drafts,
		audiences:   audiences,
		filters:     filters,
		simulations: simulations,
	}
}

// CreateDraft 空のドラフトを作成する
func (h *DraftHandler) CreateDraft(c *gin.Context) {
	draft := h.drafts.Create()
	c.JSON(http.StatusCreated, gin.H{"success": true, "draft": draft})
}

// GetDraft ドラフトを返す。オーディエンス作成後は選択中のフィルターも含める。
func (h *DraftHandler) GetDraft(c *gin.Context) {
	draft, err := h.drafts.Read(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if draft.AudienceID != "" {
		if filters := h.filters.Filters(draft.AudienceID); len(filters) > 0 {
			draft.Filters = filters
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "draft": draft})
}

// UpdateDraft 部分更新をマージする
func (h *DraftHandler) UpdateDraft(c *gin.Context) {
	var patch models.DraftPatch
	if !bindJSON(c, &patch) {
		return
	}
	draft, err := h.drafts.Update(c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "draft": draft})
}

// DeleteDraft ドラフトを破棄する
func (h *DraftHandler) DeleteDraft(c *gin.Context) {
	h.drafts.Delete(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ValidateDraftRequest ステップ検証のリクエスト。stepが空なら全ステップ。
type ValidateDraftRequest struct {
	Step string `json:"step"`
}

// ValidateDraft ステップの入力を検証する
func (h *DraftHandler) ValidateDraft(c *gin.Context) {
	var req ValidateDraftRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	draft, err := h.drafts.Read(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Step == "" {
		err = services.ValidateDraft(draft)
	} else {
		err = services.ValidateStep(draft, req.Step)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "valid": true})
}

// UploadFile 補足資料のファイルを添付する
func (h *DraftHandler) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ファイルの取得に失敗しました。"})
		return
	}
	data, err := readUpload(header)
	if err != nil {
		respondError(c, err)
		return
	}

	draft, err := h.drafts.SetFile(c.Param("id"), models.UploadedFile{
		Name:        header.Filename,
		ContentType: contentTypeOf(header, data),
		Size:        int64(len(data)),
		Content:     data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "draft": draft})
}

// CreateAudience ドラフトからオーディエンスを作成し、生成を開始する
func (h *DraftHandler) CreateAudience(c *gin.Context) {
	result, err := h.audiences.Create(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":     true,
		"audience_id": result.AudienceID,
		"draft":       result.Draft,
		"generation":  result.Generation,
	})
}

// PutForm ユースケースフォームの入力途中の値を保存する
func (h *DraftHandler) PutForm(c *gin.Context) {
	var form models.SimulationForm
	if !bindJSON(c, &form) {
		return
	}
	form.Task = c.Param("task")
	if _, err := h.drafts.Read(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	if err := h.simulations.CacheForm(c.Param("id"), form); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "form": form})
}

// GetForm 保存済みのフォームを返す
func (h *DraftHandler) GetForm(c *gin.Context) {
	form, err := h.simulations.CachedForm(c.Param("id"), c.Param("task"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "form": form})
}
