package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"persona-sim-api/pkg/models"
)

// Client オーディエンス/シミュレーションバックエンドのRESTクライアント。
// タイムアウトは呼び出し側がcontextで指定する。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 新しいバックエンドクライアントを作成
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// APIError バックエンドが2xx以外を返した
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s %s failed (status: %d): %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsNotFound 404かどうか
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreateAudience POST /audience
func (c *Client) CreateAudience(ctx context.Context, req models.CreateAudienceRequest) (models.ID, error) {
	var resp struct {
		AudienceID models.ID `json:"audience_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/audience", req, &resp); err != nil {
		return "", err
	}
	if resp.AudienceID == "" {
		return "", fmt.Errorf("backend returned no audience_id")
	}
	return resp.AudienceID, nil
}

// UpdateAudienceName PUT /audience/{id}
func (c *Client) UpdateAudienceName(ctx context.Context, audienceID models.ID, name string) error {
	body := map[string]string{"name": name}
	return c.doJSON(ctx, http.MethodPut, "/audience/"+escape(audienceID), body, nil)
}

// ListAudienceIDs GET /audience/ids
func (c *Client) ListAudienceIDs(ctx context.Context) ([]models.ID, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/audience/ids", nil, &raw); err != nil {
		return nil, err
	}
	var ids []models.ID
	if err := decodeList(raw, &ids, "audience_ids", "ids"); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetAudience GET /audience/{id}
func (c *Client) GetAudience(ctx context.Context, audienceID models.ID) (*models.Audience, error) {
	var audience models.Audience
	if err := c.doJSON(ctx, http.MethodGet, "/audience/"+escape(audienceID), nil, &audience); err != nil {
		return nil, err
	}
	if audience.ID == "" {
		audience.ID = audienceID
	}
	return &audience, nil
}

// ListSegments GET /audience/{id}/segments
func (c *Client) ListSegments(ctx context.Context, audienceID models.ID) ([]models.Segment, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/audience/"+escape(audienceID)+"/segments", nil, &raw); err != nil {
		return nil, err
	}
	var segments []models.Segment
	if err := decodeList(raw, &segments, "segments"); err != nil {
		return nil, err
	}
	return segments, nil
}

// ListSegmentPersonas GET /segments/{id}/personas
func (c *Client) ListSegmentPersonas(ctx context.Context, segmentID models.ID) ([]models.Persona, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/segments/"+escape(segmentID)+"/personas", nil, &raw); err != nil {
		return nil, err
	}
	var personas []models.Persona
	if err := decodeList(raw, &personas, "personas"); err != nil {
		return nil, err
	}
	return personas, nil
}

// GetPersona GET /personas/{id}
func (c *Client) GetPersona(ctx context.Context, personaID models.ID) (*models.Persona, error) {
	var persona models.Persona
	if err := c.doJSON(ctx, http.MethodGet, "/personas/"+escape(personaID), nil, &persona); err != nil {
		return nil, err
	}
	if persona.ID == "" {
		persona.ID = personaID
	}
	return &persona, nil
}

// FilterPersonas POST /filter_personas
func (c *Client) FilterPersonas(ctx context.Context, req models.FilterPersonasRequest) (models.RolePersonas, error) {
	var resp models.RolePersonas
	if err := c.doJSON(ctx, http.MethodPost, "/filter_personas", req, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = models.RolePersonas{}
	}
	return resp, nil
}

// CreateSimulation POST /simulations
func (c *Client) CreateSimulation(ctx context.Context, req models.SimulationRequest) (models.ID, error) {
	var resp struct {
		SimulationID models.ID `json:"simulation_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/simulations", req, &resp); err != nil {
		return "", err
	}
	if resp.SimulationID == "" {
		return "", fmt.Errorf("backend returned no simulation_id")
	}
	return resp.SimulationID, nil
}

// DescribeImages POST /images/describe（multipart）
func (c *Client) DescribeImages(ctx context.Context, images []models.SimulationImage) ([]string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, img := range images {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, escapeQuotes(img.Filename)))
		contentType := img.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(img.Data)
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, fmt.Errorf("failed to write image %s: %w", img.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/images/describe", writer.FormDataContentType(), &buf, &raw); err != nil {
		return nil, err
	}
	return decodeDescriptions(raw)
}

// GroupChat POST /persona_group_chat
func (c *Client) GroupChat(ctx context.Context, req models.GroupChatRequest) (*models.GroupChatResponse, error) {
	var resp models.GroupChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/persona_group_chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetGroupChat GET /persona_group_chat/{id}
func (c *Client) GetGroupChat(ctx context.Context, chatHistoryID models.ID) ([]models.ChatHistoryMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/persona_group_chat/"+escape(chatHistoryID), nil, &raw); err != nil {
		return nil, err
	}
	var messages []models.ChatHistoryMessage
	if err := decodeList(raw, &messages, "messages", "history"); err != nil {
		return nil, err
	}
	return messages, nil
}

// doJSON JSONボディでリクエストを送る
func (c *Client) doJSON(ctx context.Context, method, path string, requestData interface{}, responseData interface{}) error {
	var body io.Reader
	contentType := ""
	if requestData != nil {
		requestBody, err := json.Marshal(requestData)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(requestBody)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, responseData)
}

// do HTTPリクエストの実行と基本的なレスポンス処理を行う共通メソッド
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, responseData interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if responseData == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, responseData); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// errorMessage {"detail": ...} / {"error": ...} / {"message": ...} を優先して取り出す
func errorMessage(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if v, ok := payload[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// decodeList 配列そのもの、または {"<key>": [...]} のどちらでも受け付ける
func decodeList(raw json.RawMessage, out interface{}, keys ...string) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return fmt.Errorf("unexpected list payload: %w", err)
	}
	for _, key := range keys {
		if v, ok := wrapper[key]; ok {
			if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				return nil
			}
			return json.Unmarshal(v, out)
		}
	}
	return nil
}

func decodeDescriptions(raw json.RawMessage) ([]string, error) {
	var items []json.RawMessage
	if err := decodeList(raw, &items, "descriptions", "results"); err != nil {
		return nil, err
	}
	descriptions := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			descriptions = append(descriptions, s)
			continue
		}
		var obj struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("unexpected image description: %w", err)
		}
		descriptions = append(descriptions, obj.Description)
	}
	return descriptions, nil
}

func escape(id models.ID) string {
	return url.PathEscape(string(id))
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
