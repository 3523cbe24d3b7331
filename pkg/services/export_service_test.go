package services

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"persona-sim-api/pkg/export"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestExportTableRecomputedOnChange(t *testing.T) {
	svc := NewExportService(time.Millisecond, nil)
	defer svc.Close()

	require.NoError(t, svc.PutTable("t1", export.Table{Headers: []string{"Name", "Score"}, Rows: [][]interface{}{{"A", 9.5}}}))
	md, err := svc.TableMarkdown("t1")
	require.NoError(t, err)
	assert.Contains(t, md, "| A | 9.5 |")

	require.NoError(t, svc.PutTable("t1", export.Table{Headers: []string{"Name", "Score"}, Rows: [][]interface{}{{"B", 7.25}}}))
	md, err = svc.TableMarkdown("t1")
	require.NoError(t, err)
	assert.NotContains(t, md, "| A |")
	assert.Contains(t, md, "| B | 7.25 |")

	xlsx, err := svc.TableXLSX("t1")
	require.NoError(t, err)
	assert.NotEmpty(t, xlsx)

	_, err = svc.TableMarkdown("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.PutTable("bad", export.Table{})
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestExportChartSnapshotIsDebounced(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewExportService(30*time.Millisecond, nil)
	chart := export.Chart{Labels: []string{"A", "B"}, Series: []export.Series{{Name: "x", Values: []float64{1, 2}}}, Width: 100, Height: 80}

	require.NoError(t, svc.PutChart("c1", chart))
	chart.Series[0].Values = []float64{3, 4}
	require.NoError(t, svc.PutChart("c1", chart))
	assert.False(t, svc.SnapshotReady("c1"))

	require.Eventually(t, func() bool { return svc.SnapshotReady("c1") }, time.Second, 5*time.Millisecond)

	data, err := svc.ChartPNG("c1")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	svc.Close()
}

func TestExportChartRendersSynchronouslyBeforeSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewExportService(time.Hour, nil)
	chart := export.Chart{Labels: []string{"A"}, Series: []export.Series{{Name: "x", Values: []float64{1}}}}
	require.NoError(t, svc.PutChart("c2", chart))

	data, err := svc.ChartPNG("c2")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.False(t, svc.SnapshotReady("c2"))

	_, err = svc.ChartPNG("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	svc.Close()
	// Close後の更新はスナップショットを予約しない
	require.NoError(t, svc.PutChart("c2", chart))
}
