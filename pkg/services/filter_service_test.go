package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	config "persona-sim-api/configs"
	"persona-sim-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFilterAPI リクエストを記録し、handleで結果を決める
type fakeFilterAPI struct {
	mu       sync.Mutex
	requests []models.FilterPersonasRequest
	handle   func(req models.FilterPersonasRequest) (models.RolePersonas, error)
}

func (f *fakeFilterAPI) FilterPersonas(ctx context.Context, req models.FilterPersonasRequest) (models.RolePersonas, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	handle := f.handle
	f.mu.Unlock()
	return handle(req)
}

func (f *fakeFilterAPI) last() models.FilterPersonasRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newFilterFixture(api *fakeFilterAPI) *FilterService {
	svc := NewFilterService(api, config.DefaultFilterProfile(), nil)
	svc.Register("a1", "Coffee lovers", []models.Segment{
		{ID: "1", Name: "Commuters", Count: 40},
		{ID: "2", Name: "Students", Count: 25},
	})
	return svc
}

func TestToggleCountsSumOfRoleLists(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{"buyer": {"1", "2", "3"}, "influencer": {"4", "5"}}, nil
	}}
	svc := newFilterFixture(api)

	view, err := svc.Toggle(context.Background(), "a1", "1", "age_group", "25-34")
	require.NoError(t, err)
	assert.Equal(t, 5, view.Count)
	assert.False(t, view.Loading)
	assert.True(t, view.Selected)
	assert.Equal(t, []string{"25-34"}, view.Filter["age_group"])

	req := api.last()
	assert.Equal(t, []models.ID{"1"}, req.Segments)
	assert.Equal(t, "Coffee lovers", req.AudienceName)
	require.Contains(t, req.Filters, "1")
	assert.Equal(t, []string{"25-34"}, req.Filters["1"]["age_group"])
	// 件数見積もりでは未選択の軸は空のまま
	assert.Empty(t, req.Filters["1"]["geography"])
}

func TestToggleOnlyAffectsOneSegment(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{"buyer": {"1"}}, nil
	}}
	svc := newFilterFixture(api)

	_, err := svc.Toggle(context.Background(), "a1", "1", "generation", "Millennials")
	require.NoError(t, err)

	view, err := svc.View("a1")
	require.NoError(t, err)
	require.Len(t, view.Segments, 2)
	assert.Equal(t, 1, view.Segments[0].Count)
	assert.Equal(t, 25, view.Segments[1].Count)
	assert.Empty(t, view.Segments[1].Filter)
	assert.Equal(t, []models.ID{"1"}, view.SelectedIDs)
}

func TestToggleTwiceRemovesValue(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{}, nil
	}}
	svc := newFilterFixture(api)

	_, err := svc.Toggle(context.Background(), "a1", "2", "children_count", "0")
	require.NoError(t, err)
	view, err := svc.Toggle(context.Background(), "a1", "2", "children_count", "0")
	require.NoError(t, err)
	assert.NotContains(t, view.Filter, "children_count")
}

func TestToggleRejectsUnknownValues(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		t.Fatal("no request expected")
		return nil, nil
	}}
	svc := newFilterFixture(api)

	_, err := svc.Toggle(context.Background(), "a1", "1", "shoe_size", "42")
	_, ok := AsValidation(err)
	assert.True(t, ok)

	_, err = svc.Toggle(context.Background(), "a1", "1", "age_group", "not-an-age")
	_, ok = AsValidation(err)
	assert.True(t, ok)

	_, err = svc.Toggle(context.Background(), "a1", "99", "age_group", "25-34")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountFailureKeepsPreviousValue(t *testing.T) {
	fail := false
	api := &fakeFilterAPI{}
	api.handle = func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return models.RolePersonas{"buyer": {"1", "2"}}, nil
	}
	svc := newFilterFixture(api)

	view, err := svc.SelectSegment(context.Background(), "a1", "1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Count)

	fail = true
	view, err = svc.Toggle(context.Background(), "a1", "1", "age_group", "18-24")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Count)
	assert.False(t, view.Loading)
}

func TestStaleCountResponseIgnored(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int
	var mu sync.Mutex
	api := &fakeFilterAPI{}
	api.handle = func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
			return models.RolePersonas{"buyer": {"1", "2", "3", "4", "5", "6", "7"}}, nil
		}
		return models.RolePersonas{"buyer": {"1"}}, nil
	}
	svc := newFilterFixture(api)

	done := make(chan SegmentFilterView)
	go func() {
		view, _ := svc.Toggle(context.Background(), "a1", "1", "age_group", "18-24")
		done <- view
	}()
	<-entered

	loading, err := svc.View("a1")
	require.NoError(t, err)
	assert.True(t, loading.Segments[0].Loading)

	view, err := svc.Toggle(context.Background(), "a1", "1", "age_group", "25-34")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Count)

	close(release)
	stale := <-done
	assert.Equal(t, 1, stale.Count)

	final, err := svc.View("a1")
	require.NoError(t, err)
	assert.Equal(t, 1, final.Segments[0].Count)
	assert.False(t, final.Segments[0].Loading)
}

func TestSubmitNormalizesUnsetDimensions(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{"buyer": {"10"}}, nil
	}}
	svc := newFilterFixture(api)
	profile := config.DefaultFilterProfile()

	_, err := svc.Toggle(context.Background(), "a1", "1", "geography_type", "Urban")
	require.NoError(t, err)

	result, err := svc.Submit(context.Background(), "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total())

	req := api.last()
	assert.Equal(t, []models.ID{"1"}, req.Segments)
	filters := req.Filters["1"]
	assert.Equal(t, []string{"Urban"}, filters["geography"])

	for _, dim := range profile.Dimensions {
		if dim.ID == "geography_type" {
			continue
		}
		assert.Equal(t, dim.Values, filters[dim.Key], dim.ID)
	}
}

func TestSubmitWithoutSelectionFails(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return nil, nil
	}}
	svc := newFilterFixture(api)

	_, err := svc.Submit(context.Background(), "a1", nil)
	v, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "segments", v[0].Field)

	_, err = svc.Submit(context.Background(), "missing", []models.ID{"1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterKeepsExistingSelection(t *testing.T) {
	api := &fakeFilterAPI{handle: func(req models.FilterPersonasRequest) (models.RolePersonas, error) {
		return models.RolePersonas{"buyer": {"1"}}, nil
	}}
	svc := newFilterFixture(api)
	_, err := svc.Toggle(context.Background(), "a1", "2", "age_group", "35-44")
	require.NoError(t, err)

	svc.Register("a1", "", []models.Segment{{ID: "2", Name: "Students", Count: 25}, {ID: "3", Name: "Retirees", Count: 10}})

	view, err := svc.View("a1")
	require.NoError(t, err)
	require.Len(t, view.Segments, 3)
	assert.Equal(t, "Coffee lovers", view.AudienceName)
	assert.Equal(t, []string{"35-44"}, view.Segments[1].Filter["age_group"])
	assert.Equal(t, map[string]models.PersonaFilter{"2": {"age_group": {"35-44"}}}, svc.Filters("a1"))
}
