package services

import (
	"fmt"
	"sync"
	"time"

	"persona-sim-api/pkg/export"
	"persona-sim-api/pkg/logging"

	"go.uber.org/zap"
)

type tableEntry struct {
	table    export.Table
	markdown string
	xlsx     []byte
	rendered bool
}

type chartEntry struct {
	chart    export.Chart
	version  uint64
	png      []byte
	snapshot uint64 // pngを描画したversion
	timer    *time.Timer
}

// ExportService 結果表とグラフのエクスポート用レンダリングをキャッシュする
type ExportService struct {
	settle time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	tables map[string]*tableEntry
	charts map[string]*chartEntry
}

// NewExportService 新しいExportServiceを生成。settleはグラフ更新後にスナップショットを取るまでの待ち時間。
func NewExportService(settle time.Duration, logger *zap.Logger) *ExportService {
	return &ExportService{
		settle: settle,
		logger: logging.OrNop(logger).Named("export"),
		tables: make(map[string]*tableEntry),
		charts: make(map[string]*chartEntry),
	}
}

// PutTable 表を更新し、Markdown/XLSXを再生成する
func (s *ExportService) PutTable(id string, table export.Table) error {
	if err := table.Validate(); err != nil {
		return ValidationErrors{{Field: "table", Message: err.Error()}}
	}
	entry := &tableEntry{table: table}
	s.render(id, entry)

	s.mu.Lock()
	s.tables[id] = entry
	s.mu.Unlock()
	return nil
}

func (s *ExportService) render(id string, entry *tableEntry) {
	md, err := export.MarkdownTable(entry.table)
	if err != nil {
		s.logger.Debug("Markdownの生成に失敗", zap.String("table_id", id), zap.Error(err))
		return
	}
	xlsx, err := export.Workbook(entry.table)
	if err != nil {
		s.logger.Debug("XLSXの生成に失敗", zap.String("table_id", id), zap.Error(err))
		return
	}
	entry.markdown, entry.xlsx, entry.rendered = md, xlsx, true
}

// TableMarkdown キャッシュ済みのMarkdown。未生成なら同期的に生成する。
func (s *ExportService) TableMarkdown(id string) (string, error) {
	entry, err := s.table(id)
	if err != nil {
		return "", err
	}
	if entry.rendered {
		return entry.markdown, nil
	}
	return export.MarkdownTable(entry.table)
}

// TableXLSX キャッシュ済みのXLSX。未生成なら同期的に生成する。
func (s *ExportService) TableXLSX(id string) ([]byte, error) {
	entry, err := s.table(id)
	if err != nil {
		return nil, err
	}
	if entry.rendered {
		return entry.xlsx, nil
	}
	return export.Workbook(entry.table)
}

// Table 保存済みの表
func (s *ExportService) Table(id string) (export.Table, error) {
	entry, err := s.table(id)
	if err != nil {
		return export.Table{}, err
	}
	return entry.table, nil
}

func (s *ExportService) table(id string) (*tableEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, ErrNotFound)
	}
	return entry, nil
}

// PutChart グラフを更新する。PNGスナップショットは更新が落ち着いてから取る。
func (s *ExportService) PutChart(id string, chart export.Chart) error {
	if err := chart.Validate(); err != nil {
		return ValidationErrors{{Field: "chart", Message: err.Error()}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.charts[id]
	if !ok {
		entry = &chartEntry{}
		s.charts[id] = entry
	}
	entry.chart = chart
	entry.version++
	version := entry.version

	if entry.timer != nil {
		if entry.timer.Stop() {
			s.wg.Done()
		}
	}
	if s.closed {
		return nil
	}
	s.wg.Add(1)
	entry.timer = time.AfterFunc(s.settle, func() {
		defer s.wg.Done()
		s.snapshot(id, version)
	})
	return nil
}

func (s *ExportService) snapshot(id string, version uint64) {
	s.mu.Lock()
	entry, ok := s.charts[id]
	if !ok || entry.version != version {
		s.mu.Unlock()
		return
	}
	chart := entry.chart
	s.mu.Unlock()

	data, err := export.BarChartPNG(chart)
	if err != nil {
		s.logger.Debug("グラフのスナップショットに失敗", zap.String("chart_id", id), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.version == version {
		entry.png = data
		entry.snapshot = version
	}
}

// ChartPNG 最新のスナップショット。古いか未生成なら同期的に描画する。
func (s *ExportService) ChartPNG(id string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.charts[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("chart %s: %w", id, ErrNotFound)
	}
	if entry.png != nil && entry.snapshot == entry.version {
		data := entry.png
		s.mu.Unlock()
		return data, nil
	}
	chart := entry.chart
	s.mu.Unlock()
	return export.BarChartPNG(chart)
}

// SnapshotReady 現在のグラフのスナップショットが取れているか
func (s *ExportService) SnapshotReady(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.charts[id]
	return ok && entry.png != nil && entry.snapshot == entry.version
}

// Close 保留中のスナップショットを取り消し、実行中のものを待つ
func (s *ExportService) Close() {
	s.mu.Lock()
	s.closed = true
	for _, entry := range s.charts {
		if entry.timer != nil && entry.timer.Stop() {
			s.wg.Done()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
