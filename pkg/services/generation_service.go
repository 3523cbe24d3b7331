package services

import (
	"context"
	"sync"
	"time"

	"persona-sim-api/pkg/logging"
	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/store"

	"go.uber.org/zap"
)

// GenerationState オーディエンス生成の状態
type GenerationState string

const (
	StateAnalyzing  GenerationState = "analyzing"
	StateSegmenting GenerationState = "segmenting"
	StateGenerating GenerationState = "generating"
	StateRefining   GenerationState = "refining"
	StateComplete   GenerationState = "complete"
	StateError      GenerationState = "error"
	StateCancelled  GenerationState = "cancelled"
)

// narrativeStages 未完了のポーリングごとに1段階進める表示用ステージ
var narrativeStages = []GenerationState{StateAnalyzing, StateSegmenting, StateGenerating, StateRefining}

var stageMessages = map[GenerationState]string{
	StateAnalyzing:  "Analyzing your target market...",
	StateSegmenting: "Identifying customer segments...",
	StateGenerating: "Generating personas for each segment...",
	StateRefining:   "Refining persona details...",
	StateComplete:   "Your audience is ready.",
	StateError:      "We couldn't finish generating your audience.",
	StateCancelled:  "Audience generation was stopped.",
}

// Terminal 終了状態かどうか
func (s GenerationState) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// PollConfig ポーリング設定
type PollConfig struct {
	// FirstRetryDelay 最初の未完了レスポンス後の待ち時間
	FirstRetryDelay time.Duration
	// RetryDelay 2回目以降の未完了レスポンス後の待ち時間
	RetryDelay time.Duration
	// MaxAttempts 0は無制限
	MaxAttempts    int
	RequestTimeout time.Duration
}

// GenerationStatus 生成状況のスナップショット
type GenerationStatus struct {
	AudienceID      models.ID        `json:"audience_id"`
	State           GenerationState  `json:"state"`
	Message         string           `json:"message"`
	Attempts        int              `json:"attempts"`
	Segments        []models.Segment `json:"segments,omitempty"`
	SelectedSegment models.ID        `json:"selected_segment,omitempty"`
	Error           string           `json:"error,omitempty"`
	NextPollAt      *time.Time       `json:"next_poll_at,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (st GenerationStatus) clone() GenerationStatus {
	out := st
	out.Segments = append([]models.Segment(nil), st.Segments...)
	if st.NextPollAt != nil {
		t := *st.NextPollAt
		out.NextPollAt = &t
	}
	return out
}

type generationJob struct {
	status     GenerationStatus
	cancel     context.CancelFunc
	done       chan struct{}
	onComplete func([]models.Segment)
}

// GenerationService バックエンドの長時間ジョブをポーリングする状態機械。
// 1オーディエンスにつきポーリングループは1本で、リクエストは直列に発行される。
type GenerationService struct {
	api    SegmentLister
	store  StateStore
	cfg    PollConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[models.ID]*generationJob
}

// NewGenerationService 新しいGenerationServiceを生成
func NewGenerationService(api SegmentLister, stateStore StateStore, cfg PollConfig, logger *zap.Logger) *GenerationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &GenerationService{
		api:    api,
		store:  stateStore,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("generation"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[models.ID]*generationJob),
	}
}

// Start ポーリングを開始する。実行中または完了済みなら現在の状態を返すだけ。
func (s *GenerationService) Start(audienceID models.ID, onComplete func([]models.Segment)) GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[audienceID]; ok {
		if !job.status.State.Terminal() || job.status.State == StateComplete {
			return job.status.clone()
		}
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(s.ctx)
	job := &generationJob{
		status: GenerationStatus{
			AudienceID: audienceID,
			State:      StateAnalyzing,
			Message:    stageMessages[StateAnalyzing],
			StartedAt:  now,
			UpdatedAt:  now,
		},
		cancel:     cancel,
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
	s.jobs[audienceID] = job

	s.wg.Add(1)
	go s.run(ctx, job)

	s.logger.Info("オーディエンス生成のポーリングを開始", zap.String("audience_id", audienceID.String()))
	return job.status.clone()
}

func (s *GenerationService) run(ctx context.Context, job *generationJob) {
	defer s.wg.Done()
	defer close(job.done)
	defer job.cancel()

	audienceID := job.status.AudienceID
	for attempt := 1; ; attempt++ {
		segments, err := s.poll(ctx, audienceID)
		if ctx.Err() != nil {
			s.finish(job, StateCancelled, "")
			return
		}

		s.mu.Lock()
		job.status.Attempts = attempt
		s.mu.Unlock()

		if err == nil && len(segments) > 0 {
			s.complete(job, segments)
			return
		}

		// 失敗・空レスポンスはどちらも再試行対象。ユーザーには見せない。
		if err != nil {
			s.logger.Warn("セグメント取得に失敗、再試行します",
				zap.String("audience_id", audienceID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			s.logger.Debug("セグメントはまだ生成されていません",
				zap.String("audience_id", audienceID.String()),
				zap.Int("attempt", attempt))
		}

		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			s.finish(job, StateError, "audience generation did not finish in time")
			return
		}

		delay := s.cfg.RetryDelay
		if attempt == 1 {
			delay = s.cfg.FirstRetryDelay
		}
		s.advance(job, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(job, StateCancelled, "")
			return
		case <-timer.C:
		}
	}
}

func (s *GenerationService) poll(ctx context.Context, audienceID models.ID) ([]models.Segment, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return s.api.ListSegments(ctx, audienceID)
}

// advance 表示用のステージを1つ進める（refiningで止まる）
func (s *GenerationService) advance(job *generationJob, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := job.status.State
	for i, stage := range narrativeStages {
		if stage == job.status.State && i+1 < len(narrativeStages) {
			next = narrativeStages[i+1]
			break
		}
	}
	now := time.Now()
	nextPoll := now.Add(delay)
	job.status.State = next
	job.status.Message = stageMessages[next]
	job.status.NextPollAt = &nextPoll
	job.status.UpdatedAt = now
}

func (s *GenerationService) complete(job *generationJob, segments []models.Segment) {
	audienceID := job.status.AudienceID.String()
	selected := segments[0].ID

	if s.store != nil {
		if err := s.store.SetJSON(store.SegmentsKey(audienceID), segments); err != nil {
			s.logger.Warn("セグメントの保存に失敗", zap.String("audience_id", audienceID), zap.Error(err))
		}
		if err := s.store.SetJSON(store.SelectedSegmentKey(audienceID), selected); err != nil {
			s.logger.Warn("選択セグメントの保存に失敗", zap.String("audience_id", audienceID), zap.Error(err))
		}
	}

	s.mu.Lock()
	job.status.State = StateComplete
	job.status.Message = stageMessages[StateComplete]
	job.status.Segments = append([]models.Segment(nil), segments...)
	job.status.SelectedSegment = selected
	job.status.NextPollAt = nil
	job.status.UpdatedAt = time.Now()
	onComplete := job.onComplete
	attempts := job.status.Attempts
	s.mu.Unlock()

	s.logger.Info("オーディエンス生成が完了",
		zap.String("audience_id", audienceID),
		zap.Int("segments", len(segments)),
		zap.Int("attempts", attempts))

	if onComplete != nil {
		onComplete(append([]models.Segment(nil), segments...))
	}
}

func (s *GenerationService) finish(job *generationJob, state GenerationState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.status.State = state
	job.status.Message = stageMessages[state]
	job.status.Error = reason
	job.status.NextPollAt = nil
	job.status.UpdatedAt = time.Now()
}

// Status 現在の状態。ポーリング中でなければローカルに保存済みのセグメントから復元する。
func (s *GenerationService) Status(audienceID models.ID) (GenerationStatus, bool) {
	s.mu.Lock()
	job, ok := s.jobs[audienceID]
	if ok {
		st := job.status.clone()
		s.mu.Unlock()
		return st, true
	}
	s.mu.Unlock()

	if s.store == nil {
		return GenerationStatus{}, false
	}
	var segments []models.Segment
	found, err := s.store.GetJSON(store.SegmentsKey(audienceID.String()), &segments)
	if err != nil || !found || len(segments) == 0 {
		return GenerationStatus{}, false
	}
	var selected models.ID
	if _, err := s.store.GetJSON(store.SelectedSegmentKey(audienceID.String()), &selected); err != nil || selected == "" {
		selected = segments[0].ID
	}
	return GenerationStatus{
		AudienceID:      audienceID,
		State:           StateComplete,
		Message:         stageMessages[StateComplete],
		Segments:        segments,
		SelectedSegment: selected,
	}, true
}

// Done ポーリングループ終了時に閉じるチャネル。ジョブがなければnil。
func (s *GenerationService) Done(audienceID models.ID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[audienceID]; ok {
		return job.done
	}
	return nil
}

// Cancel ポーリングを止め、ループの終了を待つ
func (s *GenerationService) Cancel(audienceID models.ID) bool {
	s.mu.Lock()
	job, ok := s.jobs[audienceID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	<-job.done
	return true
}

// Forget ジョブの記録を破棄する（保存後など）
func (s *GenerationService) Forget(audienceID models.ID) {
	s.Cancel(audienceID)
	s.mu.Lock()
	delete(s.jobs, audienceID)
	s.mu.Unlock()
}

// Close 全ポーリングを止めて終了を待つ
func (s *GenerationService) Close() {
	s.cancel()
	s.wg.Wait()
}
