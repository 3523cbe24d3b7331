package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"persona-sim-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client())
}

func TestCreateAudience(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/audience", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"type":"company","website":"https://acme.com","segment_type":"all"}`, string(body))
		w.Write([]byte(`{"audience_id": 42}`))
	})

	id, err := client.CreateAudience(context.Background(), models.CreateAudienceRequest{
		Type:        "company",
		Website:     "https://acme.com",
		SegmentType: "all",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ID("42"), id)
}

func TestCreateAudienceServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"generation queue is full"}`))
	})

	_, err := client.CreateAudience(context.Background(), models.CreateAudienceRequest{Type: "company"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "generation queue is full", apiErr.Message)
}

func TestListSegmentsAcceptsArrayAndWrapper(t *testing.T) {
	responses := []string{
		`[{"id":1,"name":"Young Pros","count":120}]`,
		`{"segments":[{"id":"s-1","name":"Young Pros","count":120}]}`,
		`{"segments":null}`,
	}
	call := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audience/7/segments", r.URL.Path)
		w.Write([]byte(responses[call]))
		call++
	})

	segs, err := client.ListSegments(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, models.ID("1"), segs[0].ID)
	assert.Equal(t, 120, segs[0].Count)

	segs, err = client.ListSegments(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, models.ID("s-1"), segs[0].ID)

	segs, err = client.ListSegments(context.Background(), "7")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestFilterPersonas(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/filter_personas", r.URL.Path)
		var req models.FilterPersonasRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []models.ID{"3"}, req.Segments)
		assert.Equal(t, []string{"Urban"}, req.Filters["3"]["geography"])
		assert.Equal(t, "Acme buyers", req.AudienceName)
		w.Write([]byte(`{"buyer":[1,2,3],"influencer":[4]}`))
	})

	result, err := client.FilterPersonas(context.Background(), models.FilterPersonasRequest{
		Segments:     []models.ID{"3"},
		Filters:      map[string]map[string][]string{"3": {"geography": {"Urban"}}},
		AudienceName: "Acme buyers",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total())
}

func TestUpdateAudienceNameAndEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/audience/9", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"Coffee lovers"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.UpdateAudienceName(context.Background(), "9", "Coffee lovers"))
}

func TestDescribeImagesMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["images"]
		require.Len(t, files, 2)
		assert.Equal(t, "front.png", files[0].Filename)
		w.Write([]byte(`{"descriptions":["a red box",{"description":"a blue lid"}]}`))
	})

	descs, err := client.DescribeImages(context.Background(), []models.SimulationImage{
		{Filename: "front.png", ContentType: "image/png", Data: []byte("png-bytes")},
		{Filename: "top.png", Data: []byte("more-bytes")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a red box", "a blue lid"}, descs)
}

func TestGroupChatSendsNullHistoryID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"persona_ids":[1,2],"query":"Hello","chat_history_id":null}`, string(body))
		w.Write([]byte(`{"response":"Hi there","chat_history_id":"c-77"}`))
	})

	resp, err := client.GroupChat(context.Background(), models.GroupChatRequest{
		PersonaIDs: []models.ID{"1", "2"},
		Query:      "Hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Response)
	assert.Equal(t, models.ID("c-77"), resp.ChatHistoryID)
}

func TestGetPersonaNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.GetPersona(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
