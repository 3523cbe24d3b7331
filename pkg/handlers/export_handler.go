package handlers

import (
	"fmt"
	"net/http"

	"persona-sim-api/pkg/export"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 結果表・グラフのエクスポートのハンドラ
type ExportHandler struct {
	exports *services.ExportService
}

// NewExportHandler 新しいExportHandlerを生成
func NewExportHandler(exports *services.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// PutTable 表のデータを更新する
func (h *ExportHandler) PutTable(c *gin.Context) {
	var table export.Table
	if !bindJSON(c, &table) {
		return
	}
	if err := h.exports.PutTable(c.Param("id"), table); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetTableMarkdown Markdown表（クリップボード用）
func (h *ExportHandler) GetTableMarkdown(c *gin.Context) {
	md, err := h.exports.TableMarkdown(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}

// GetTableXLSX XLSXのダウンロード
func (h *ExportHandler) GetTableXLSX(c *gin.Context) {
	data, err := h.exports.TableXLSX(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, c.Param("id")))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// PutChart グラフのデータを更新する
func (h *ExportHandler) PutChart(c *gin.Context) {
	var chart export.Chart
	if !bindJSON(c, &chart) {
		return
	}
	if err := h.exports.PutChart(c.Param("id"), chart); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetChartPNG グラフのPNG画像
func (h *ExportHandler) GetChartPNG(c *gin.Context) {
	data, err := h.exports.ChartPNG(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
