package handlers

import (
	"net/http"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// FilterHandler セグメント選択とペルソナフィルターのハンドラ
type FilterHandler struct {
	audiences *services.AudienceService
	filters   *services.FilterService
}

// NewFilterHandler 新しいFilterHandlerを生成
func NewFilterHandler(audiences *services.AudienceService, filters *services.FilterService) *FilterHandler {
	return &FilterHandler{audiences: audiences, filters: filters}
}

// GetProfile フィルター軸の定義
func (h *FilterHandler) GetProfile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "profile": h.filters.Profile()})
}

// GetFilters セグメントごとの選択状態と件数
func (h *FilterHandler) GetFilters(c *gin.Context) {
	id := idParam(c, "id")
	if err := h.audiences.PrepareFilters(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	view, err := h.filters.View(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filters": view})
}

// SelectSegmentRequest セグメントの選択状態
type SelectSegmentRequest struct {
	Selected bool `json:"selected"`
}

// SelectSegment セグメントを選択/解除する
func (h *FilterHandler) SelectSegment(c *gin.Context) {
	var req SelectSegmentRequest
	if !bindJSON(c, &req) {
		return
	}
	id := idParam(c, "id")
	if err := h.audiences.PrepareFilters(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	view, err := h.filters.SelectSegment(c.Request.Context(), id, idParam(c, "segmentId"), req.Selected)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "segment": view})
}

// ToggleFilterRequest 切り替える軸と値
type ToggleFilterRequest struct {
	Dimension string `json:"dimension" binding:"required"`
	Value     string `json:"value" binding:"required"`
}

// ToggleFilter 軸の値を切り替え、そのセグメントの件数を返す
func (h *FilterHandler) ToggleFilter(c *gin.Context) {
	var req ToggleFilterRequest
	if !bindJSON(c, &req) {
		return
	}
	id := idParam(c, "id")
	if err := h.audiences.PrepareFilters(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	view, err := h.filters.Toggle(c.Request.Context(), id, idParam(c, "segmentId"), req.Dimension, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "segment": view})
}

// SubmitFiltersRequest 送信するセグメント。空なら選択中のセグメント。
type SubmitFiltersRequest struct {
	SegmentIDs []models.ID `json:"segment_ids"`
}

// SubmitFilters 正規化したフィルターでペルソナを絞り込む
func (h *FilterHandler) SubmitFilters(c *gin.Context) {
	var req SubmitFiltersRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	id := idParam(c, "id")
	if err := h.audiences.PrepareFilters(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	personas, err := h.filters.Submit(c.Request.Context(), id, req.SegmentIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "personas": personas, "count": personas.Total()})
}
