package handlers

import (
	"fmt"
	"net/http"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// AudienceHandler オーディエンス・セグメント・ペルソナ参照と生成状況のハンドラ
type AudienceHandler struct {
	audiences  *services.AudienceService
	generation *services.GenerationService
}

// NewAudienceHandler 新しいAudienceHandlerを生成
func NewAudienceHandler(audiences *services.AudienceService, generation *services.GenerationService) *AudienceHandler {
	return &AudienceHandler{audiences: audiences, generation: generation}
}

// ListAudiences 全オーディエンス
func (h *AudienceHandler) ListAudiences(c *gin.Context) {
	audiences, err := h.audiences.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "audiences": audiences, "count": len(audiences)})
}

// GetAudience オーディエンス詳細
func (h *AudienceHandler) GetAudience(c *gin.Context) {
	audience, err := h.audiences.Get(c.Request.Context(), idParam(c, "id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "audience": audience})
}

// GetSegments セグメント一覧
func (h *AudienceHandler) GetSegments(c *gin.Context) {
	segments, err := h.audiences.Segments(c.Request.Context(), idParam(c, "id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "segments": segments})
}

// SaveAudienceRequest 保存時の名前
type SaveAudienceRequest struct {
	Name string `json:"name"`
}

// SaveAudience 名前を付けて保存する
func (h *AudienceHandler) SaveAudience(c *gin.Context) {
	var req SaveAudienceRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.audiences.Save(c.Request.Context(), idParam(c, "id"), req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetGeneration 生成の進捗
func (h *AudienceHandler) GetGeneration(c *gin.Context) {
	id := idParam(c, "id")
	status, ok := h.generation.Status(id)
	if !ok {
		respondError(c, fmt.Errorf("generation of audience %s: %w", id, services.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "generation": status})
}

// CancelGeneration ポーリングを停止する
func (h *AudienceHandler) CancelGeneration(c *gin.Context) {
	id := idParam(c, "id")
	if !h.generation.Cancel(id) {
		respondError(c, fmt.Errorf("generation of audience %s: %w", id, services.ErrNotFound))
		return
	}
	status, _ := h.generation.Status(id)
	c.JSON(http.StatusOK, gin.H{"success": true, "generation": status})
}

// GetSegmentPersonas セグメントのペルソナ一覧。?audience_id= があればローカルにキャッシュする。
func (h *AudienceHandler) GetSegmentPersonas(c *gin.Context) {
	personas, err := h.audiences.SegmentPersonas(c.Request.Context(), models.ID(c.Query("audience_id")), idParam(c, "id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "personas": personas})
}

// GetPersona ペルソナ詳細と表示用セクション
func (h *AudienceHandler) GetPersona(c *gin.Context) {
	persona, err := h.audiences.Persona(c.Request.Context(), idParam(c, "id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "persona": persona, "sections": persona.Sections()})
}
