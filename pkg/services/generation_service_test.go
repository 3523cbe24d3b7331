package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type pollResult struct {
	segments []models.Segment
	err      error
}

// scriptedLister 用意したレスポンスを順に返す。尽きたら最後のものを返し続ける。
type scriptedLister struct {
	mu      sync.Mutex
	script  []pollResult
	calls   int
	blocked chan struct{}
}

func (l *scriptedLister) ListSegments(ctx context.Context, audienceID models.ID) ([]models.Segment, error) {
	l.mu.Lock()
	idx := l.calls
	l.calls++
	blocked := l.blocked
	l.mu.Unlock()

	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if idx >= len(l.script) {
		idx = len(l.script) - 1
	}
	r := l.script[idx]
	return r.segments, r.err
}

func (l *scriptedLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// verifyNoLeaks database/sqlの接続オープナーはストアのCleanupまで残るため除外する
func verifyNoLeaks(t *testing.T) {
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func fastPoll() PollConfig {
	return PollConfig{FirstRetryDelay: time.Millisecond, RetryDelay: 2 * time.Millisecond}
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	require.NotNil(t, ch)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("polling loop did not finish")
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerationCompletesAfterNonReadyResponses(t *testing.T) {
	defer verifyNoLeaks(t)

	ready := []models.Segment{{ID: "s1", Name: "Commuters", Count: 50}, {ID: "s2", Name: "Students", Count: 30}}
	lister := &scriptedLister{script: []pollResult{
		{err: errors.New("502 bad gateway")},
		{segments: nil},
		{err: errors.New("connection reset")},
		{segments: ready},
	}}
	st := newTestStore(t)
	svc := NewGenerationService(lister, st, fastPoll(), nil)
	defer svc.Close()

	var completions int
	var mu sync.Mutex
	svc.Start("a1", func(segs []models.Segment) {
		mu.Lock()
		completions++
		mu.Unlock()
	})
	waitDone(t, svc.Done("a1"))

	// 完了後は追加のリクエストを出さない
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, lister.Calls())

	mu.Lock()
	assert.Equal(t, 1, completions)
	mu.Unlock()

	status, ok := svc.Status("a1")
	require.True(t, ok)
	assert.Equal(t, StateComplete, status.State)
	assert.Equal(t, 4, status.Attempts)
	assert.Equal(t, models.ID("s1"), status.SelectedSegment)

	var saved []models.Segment
	found, err := st.GetJSON(store.SegmentsKey("a1"), &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, saved, 2)

	var selected models.ID
	found, err = st.GetJSON(store.SelectedSegmentKey("a1"), &selected)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.ID("s1"), selected)
}

func TestGenerationKeepsPollingOnEmptySegments(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{script: []pollResult{{segments: []models.Segment{}}}}
	svc := NewGenerationService(lister, nil, fastPoll(), nil)

	svc.Start("a2", nil)
	require.Eventually(t, func() bool { return lister.Calls() >= 3 }, time.Second, time.Millisecond)

	status, ok := svc.Status("a2")
	require.True(t, ok)
	assert.NotEqual(t, StateComplete, status.State)
	assert.False(t, status.State.Terminal())

	assert.True(t, svc.Cancel("a2"))
	status, _ = svc.Status("a2")
	assert.Equal(t, StateCancelled, status.State)
	svc.Close()
}

func TestGenerationBackoffDelays(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{script: []pollResult{{segments: nil}}}
	cfg := PollConfig{FirstRetryDelay: 20 * time.Second, RetryDelay: 40 * time.Second}
	svc := NewGenerationService(lister, nil, cfg, nil)
	defer svc.Close()

	svc.Start("a3", nil)
	require.Eventually(t, func() bool {
		st, _ := svc.Status("a3")
		return st.NextPollAt != nil
	}, time.Second, time.Millisecond)

	st, _ := svc.Status("a3")
	wait := time.Until(*st.NextPollAt)
	assert.InDelta(t, (20 * time.Second).Seconds(), wait.Seconds(), 1)
	assert.Equal(t, 1, lister.Calls())
	assert.Equal(t, StateSegmenting, st.State)
}

func TestGenerationNarrativeStagesStopAtRefining(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{script: []pollResult{{err: errors.New("not ready")}}}
	svc := NewGenerationService(lister, nil, fastPoll(), nil)
	defer svc.Close()

	svc.Start("a4", nil)
	require.Eventually(t, func() bool { return lister.Calls() >= 6 }, time.Second, time.Millisecond)

	st, _ := svc.Status("a4")
	assert.Equal(t, StateRefining, st.State)
	assert.Equal(t, stageMessages[StateRefining], st.Message)
}

func TestGenerationMaxAttemptsEndsInError(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{script: []pollResult{{err: errors.New("down")}}}
	cfg := fastPoll()
	cfg.MaxAttempts = 3
	svc := NewGenerationService(lister, nil, cfg, nil)
	defer svc.Close()

	svc.Start("a5", nil)
	waitDone(t, svc.Done("a5"))

	st, _ := svc.Status("a5")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, 3, lister.Calls())
	assert.NotEmpty(t, st.Error)
}

func TestGenerationStartIsIdempotentWhileRunning(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{
		script:  []pollResult{{segments: []models.Segment{{ID: "s1"}}}},
		blocked: make(chan struct{}),
	}
	svc := NewGenerationService(lister, nil, fastPoll(), nil)
	defer svc.Close()

	svc.Start("a6", nil)
	svc.Start("a6", nil)
	require.Eventually(t, func() bool { return lister.Calls() == 1 }, time.Second, time.Millisecond)

	close(lister.blocked)
	waitDone(t, svc.Done("a6"))
	assert.Equal(t, 1, lister.Calls())
}

func TestGenerationCloseStopsInFlightPoll(t *testing.T) {
	defer verifyNoLeaks(t)

	lister := &scriptedLister{
		script:  []pollResult{{segments: nil}},
		blocked: make(chan struct{}),
	}
	svc := NewGenerationService(lister, nil, fastPoll(), nil)

	svc.Start("a7", nil)
	require.Eventually(t, func() bool { return lister.Calls() == 1 }, time.Second, time.Millisecond)
	svc.Close()

	st, _ := svc.Status("a7")
	assert.Equal(t, StateCancelled, st.State)
}

func TestGenerationStatusRestoredFromStore(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetJSON(store.SegmentsKey("a8"), []models.Segment{{ID: "x"}, {ID: "y"}}))
	require.NoError(t, st.SetJSON(store.SelectedSegmentKey("a8"), models.ID("y")))

	svc := NewGenerationService(&scriptedLister{}, st, fastPoll(), nil)
	defer svc.Close()

	status, ok := svc.Status("a8")
	require.True(t, ok)
	assert.Equal(t, StateComplete, status.State)
	assert.Equal(t, models.ID("y"), status.SelectedSegment)

	_, ok = svc.Status("unknown")
	assert.False(t, ok)
}
