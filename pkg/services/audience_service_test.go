package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/backend"
	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudienceAPI struct {
	mu        sync.Mutex
	created   []models.CreateAudienceRequest
	createErr error
	renamed   map[models.ID]string
	segments  []models.Segment
	personas  map[models.ID][]models.Persona
	listCalls int
	audiences map[models.ID]*models.Audience
}

func (f *fakeAudienceAPI) CreateAudience(ctx context.Context, req models.CreateAudienceRequest) (models.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "101", nil
}

func (f *fakeAudienceAPI) UpdateAudienceName(ctx context.Context, audienceID models.ID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renamed == nil {
		f.renamed = make(map[models.ID]string)
	}
	f.renamed[audienceID] = name
	return nil
}

func (f *fakeAudienceAPI) ListAudienceIDs(ctx context.Context) ([]models.ID, error) {
	return []models.ID{"1", "2", "3"}, nil
}

func (f *fakeAudienceAPI) GetAudience(ctx context.Context, audienceID models.ID) (*models.Audience, error) {
	aud, ok := f.audiences[audienceID]
	if !ok {
		return nil, &backend.APIError{Method: http.MethodGet, Path: "/audience/" + audienceID.String(), StatusCode: http.StatusNotFound}
	}
	return aud, nil
}

func (f *fakeAudienceAPI) ListSegments(ctx context.Context, audienceID models.ID) ([]models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.segments, nil
}

func (f *fakeAudienceAPI) ListSegmentPersonas(ctx context.Context, segmentID models.ID) ([]models.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.personas[segmentID], nil
}

func (f *fakeAudienceAPI) GetPersona(ctx context.Context, personaID models.ID) (*models.Persona, error) {
	return nil, errors.New("unused")
}

type audienceFixture struct {
	api        *fakeAudienceAPI
	drafts     *DraftService
	generation *GenerationService
	filters    *FilterService
	store      *store.SQLiteStore
	svc        *AudienceService
}

func newAudienceFixture(t *testing.T) *audienceFixture {
	t.Helper()
	api := &fakeAudienceAPI{
		segments: []models.Segment{{ID: "7", Name: "Founders", Count: 12}},
		personas: map[models.ID][]models.Persona{"7": {{ID: "70", Name: "Ava"}}},
		audiences: map[models.ID]*models.Audience{
			"1":   {ID: "1", Name: "First"},
			"3":   {ID: "3", Name: "Third"},
			"101": {ID: "101", Name: "Acme buyers"},
		},
	}
	st := newTestStore(t)
	drafts := NewDraftService()
	generation := NewGenerationService(api, st, fastPoll(), nil)
	t.Cleanup(generation.Close)
	filters := NewFilterService(&fakeFilterAPI{handle: func(models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{}, nil
	}}, config.DefaultFilterProfile(), nil)
	return &audienceFixture{
		api:        api,
		drafts:     drafts,
		generation: generation,
		filters:    filters,
		store:      st,
		svc:        NewAudienceService(api, drafts, generation, filters, st, nil),
	}
}

func strPtr(s string) *string { return &s }

func TestCreateAudienceOmitsSpecificSegmentForAll(t *testing.T) {
	fx := newAudienceFixture(t)
	draft := fx.drafts.Create()
	_, err := fx.drafts.Update(draft.ID, models.DraftPatch{
		TargetType:  strPtr(models.TargetCompany),
		Website:     strPtr("acme.com"),
		SegmentType: strPtr(models.SegmentScopeAll),
		// scope=allでは送らない
		SpecificSegment: strPtr("ignored"),
	})
	require.NoError(t, err)

	result, err := fx.svc.Create(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ID("101"), result.AudienceID)
	assert.Equal(t, models.ID("101"), result.Draft.AudienceID)

	want := []models.CreateAudienceRequest{{
		Type:        "company",
		Website:     "https://acme.com",
		SegmentType: "all",
	}}
	if diff := cmp.Diff(want, fx.api.created); diff != "" {
		t.Errorf("create request mismatch (-want +got):\n%s", diff)
	}

	waitDone(t, fx.generation.Done("101"))
	updated, err := fx.drafts.Read(draft.ID)
	require.NoError(t, err)
	require.Len(t, updated.Segments, 1)
	assert.Equal(t, "Founders", updated.Segments[0].Name)
	assert.True(t, fx.filters.Registered("101"))
}

func TestCreateAudienceRejectsInvalidDraft(t *testing.T) {
	fx := newAudienceFixture(t)
	draft := fx.drafts.Create()
	_, err := fx.drafts.Update(draft.ID, models.DraftPatch{TargetType: strPtr(models.TargetProduct)})
	require.NoError(t, err)

	_, err = fx.svc.Create(context.Background(), draft.ID)
	v, ok := AsValidation(err)
	require.True(t, ok)
	fields := make([]string, len(v))
	for i, e := range v {
		fields[i] = e.Field
	}
	assert.ElementsMatch(t, []string{"website", "segment_type"}, fields)
	assert.Empty(t, fx.api.created)
}

func TestCreateAudienceBackendFailureIsWrapped(t *testing.T) {
	fx := newAudienceFixture(t)
	fx.api.createErr = &backend.APIError{Method: http.MethodPost, Path: "/audience", StatusCode: http.StatusBadGateway, Message: "upstream"}
	draft := fx.drafts.Create()
	_, err := fx.drafts.Update(draft.ID, models.DraftPatch{
		TargetType:      strPtr(models.TargetPerson),
		AdditionalInfo:  strPtr("A barista in Lisbon"),
		SegmentType:     strPtr(models.SegmentScopeSpecific),
		SpecificSegment: strPtr("Coffee nerds"),
	})
	require.NoError(t, err)

	_, err = fx.svc.Create(context.Background(), draft.ID)
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)

	after, err := fx.drafts.Read(draft.ID)
	require.NoError(t, err)
	assert.Empty(t, after.AudienceID)
}

func TestBuildCreateAudienceRequestAppendsTextUpload(t *testing.T) {
	draft := models.AudienceDraft{
		TargetType:      models.TargetProduct,
		Website:         "https://shop.example.com",
		SegmentType:     models.SegmentScopeSpecific,
		SpecificSegment: " Parents of toddlers ",
		AdditionalInfo:  "Organic snacks",
		UploadedFile:    &models.UploadedFile{Name: "notes.TXT", Content: []byte("Sold in 40 stores\n")},
	}
	req := BuildCreateAudienceRequest(draft)
	assert.Equal(t, "Parents of toddlers", req.SpecificSegment)
	assert.Equal(t, "Organic snacks\n\nSold in 40 stores", req.AdditionalInfo)

	draft.UploadedFile = &models.UploadedFile{Name: "deck.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}
	req = BuildCreateAudienceRequest(draft)
	assert.Equal(t, "Organic snacks", req.AdditionalInfo)
}

func TestSaveAudienceClearsLocalKeys(t *testing.T) {
	fx := newAudienceFixture(t)
	draft := fx.drafts.Create()
	id := models.ID("101")
	_, err := fx.drafts.Update(draft.ID, models.DraftPatch{AudienceID: &id})
	require.NoError(t, err)

	require.NoError(t, fx.store.SetJSON(store.SegmentsKey("101"), fx.api.segments))
	require.NoError(t, fx.store.SetJSON(store.SelectedSegmentKey("101"), models.ID("7")))
	require.NoError(t, fx.store.SetJSON(store.PersonasKey("101", "7"), []string{"70"}))
	require.NoError(t, fx.store.SetJSON(store.SegmentsKey("1010"), fx.api.segments))

	require.NoError(t, fx.svc.Save(context.Background(), "101", "  Acme buyers "))
	assert.Equal(t, "Acme buyers", fx.api.renamed["101"])

	keys, err := fx.store.Keys("audience_101_")
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = fx.store.Keys("audience_1010_")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	saved, err := fx.drafts.Read(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme buyers", saved.Name)

	err = fx.svc.Save(context.Background(), "101", " ")
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestListSkipsMissingAudiences(t *testing.T) {
	fx := newAudienceFixture(t)
	list, err := fx.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "First", list[0].Name)
	assert.Equal(t, "Third", list[1].Name)

	_, err = fx.svc.Get(context.Background(), "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSegmentsAndPersonasUseLocalCache(t *testing.T) {
	fx := newAudienceFixture(t)
	cached := []models.Segment{{ID: "9", Name: "Cached"}}
	require.NoError(t, fx.store.SetJSON(store.SegmentsKey("55"), cached))

	segs, err := fx.svc.Segments(context.Background(), "55")
	require.NoError(t, err)
	assert.Equal(t, cached, segs)
	assert.Equal(t, 0, fx.api.listCalls)

	first, err := fx.svc.SegmentPersonas(context.Background(), "55", "7")
	require.NoError(t, err)
	second, err := fx.svc.SegmentPersonas(context.Background(), "55", "7")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.api.listCalls)
	assert.Equal(t, first[0].Name, second[0].Name)

	require.NoError(t, fx.svc.PrepareFilters(context.Background(), "55"))
	view, err := fx.filters.View("55")
	require.NoError(t, err)
	require.Len(t, view.Segments, 1)
	assert.Equal(t, "Cached", view.Segments[0].Name)
}
