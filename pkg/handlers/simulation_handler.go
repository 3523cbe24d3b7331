package handlers

import (
	"encoding/json"
	"net/http"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// SimulationHandler シミュレーション送信のハンドラ
type SimulationHandler struct {
	simulations *services.SimulationService
}

// NewSimulationHandler 新しいSimulationHandlerを生成
func NewSimulationHandler(simulations *services.SimulationService) *SimulationHandler {
	return &SimulationHandler{simulations: simulations}
}

// CreateSimulation JSONのフォームからシミュレーションを作成する
func (h *SimulationHandler) CreateSimulation(c *gin.Context) {
	var form models.SimulationForm
	if !bindJSON(c, &form) {
		return
	}
	h.submit(c, form)
}

// CreateImageSimulation multipartのフォーム（"form"フィールドのJSONと"images"ファイル）から作成する
func (h *SimulationHandler) CreateImageSimulation(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "multipartフォームの解析に失敗しました。"})
		return
	}

	var form models.SimulationForm
	if raw := c.PostForm("form"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "formフィールドのJSONが正しくありません: " + err.Error()})
			return
		}
	}
	if form.Task == "" {
		form.Task = models.TaskPackagingReview
	}

	for _, header := range c.Request.MultipartForm.File["images"] {
		data, err := readUpload(header)
		if err != nil {
			respondError(c, err)
			return
		}
		form.Images = append(form.Images, models.SimulationImage{
			Filename:    header.Filename,
			ContentType: contentTypeOf(header, data),
			Data:        data,
		})
	}
	h.submit(c, form)
}

func (h *SimulationHandler) submit(c *gin.Context, form models.SimulationForm) {
	result, err := h.simulations.Submit(c.Request.Context(), form)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":            true,
		"simulation_id":      result.SimulationID,
		"task":               result.Task,
		"image_descriptions": result.ImageDescriptions,
	})
}
