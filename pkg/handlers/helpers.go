package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"persona-sim-api/pkg/backend"
	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// maxUploadSize アップロードの上限
const maxUploadSize = 10 << 20 // 10MB

// respondError サービス層のエラーをHTTPレスポンスに変換する
func respondError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	if v, ok := services.AsValidation(err); ok {
		return http.StatusBadRequest, gin.H{"success": false, "errors": v}
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, gin.H{"success": false, "error": err.Error()}
	case errors.Is(err, services.ErrChatBusy):
		return http.StatusConflict, gin.H{"success": false, "error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, gin.H{"success": false, "error": err.Error(), "retryable": true}
	}

	var apiErr *backend.APIError
	var urlErr *url.Error
	if errors.As(err, &apiErr) || errors.As(err, &urlErr) {
		return http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "retryable": true}
	}
	return http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()}
}

// bindJSON JSONボディを読み込む。失敗時は400を返してfalse。
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "リクエストの形式が正しくありません: " + err.Error()})
		return false
	}
	return true
}

// idParam パスパラメータをIDとして取り出す
func idParam(c *gin.Context, name string) models.ID {
	return models.ID(c.Param(name))
}

// readUpload multipartのファイルを読み込む
func readUpload(header *multipart.FileHeader) ([]byte, error) {
	if header.Size > maxUploadSize {
		return nil, services.ValidationErrors{{Field: "file", Message: fmt.Sprintf("%s is larger than 10MB.", header.Filename)}}
	}
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxUploadSize {
		return nil, services.ValidationErrors{{Field: "file", Message: fmt.Sprintf("%s is larger than 10MB.", header.Filename)}}
	}
	return data, nil
}

func contentTypeOf(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}
