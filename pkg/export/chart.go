package export

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
)

// Series 棒グラフの1系列
type Series struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Chart 結果のグラフ。ラベルごとに系列の棒を並べる。
type Chart struct {
	Title  string   `json:"title,omitempty"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
}

const (
	defaultChartWidth  = 800
	defaultChartHeight = 400
	chartPadding       = 24
	maxChartSide       = 4096
)

var palette = []color.RGBA{
	{R: 0x4f, G: 0x46, B: 0xe5, A: 0xff},
	{R: 0x10, G: 0xb9, B: 0x81, A: 0xff},
	{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff},
	{R: 0xef, G: 0x44, B: 0x44, A: 0xff},
	{R: 0x06, G: 0xb6, B: 0xd4, A: 0xff},
	{R: 0x8b, G: 0x5c, B: 0xf6, A: 0xff},
}

var (
	axisColor       = color.RGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff}
	backgroundColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Validate 系列の長さがラベル数と一致するか確認する
func (c Chart) Validate() error {
	if len(c.Labels) == 0 {
		return errors.New("chart has no labels")
	}
	if len(c.Series) == 0 {
		return errors.New("chart has no series")
	}
	for _, s := range c.Series {
		if len(s.Values) != len(c.Labels) {
			return fmt.Errorf("series %q has %d values for %d labels", s.Name, len(s.Values), len(c.Labels))
		}
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("series %q contains a non-finite value", s.Name)
			}
		}
	}
	if c.Width < 0 || c.Height < 0 || c.Width > maxChartSide || c.Height > maxChartSide {
		return fmt.Errorf("chart size %dx%d is out of range", c.Width, c.Height)
	}
	return nil
}

// Size 既定値を適用した出力サイズ
func (c Chart) Size() (int, int) {
	w, h := c.Width, c.Height
	if w == 0 {
		w = defaultChartWidth
	}
	if h == 0 {
		h = defaultChartHeight
	}
	return w, h
}

// BarChartPNG グループ化した棒グラフをPNGにする。負の値は基準線の下に描く。
func BarChartPNG(c Chart) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	width, height := c.Size()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	maxV, minV := 0.0, 0.0
	for _, s := range c.Series {
		for _, v := range s.Values {
			maxV = math.Max(maxV, v)
			minV = math.Min(minV, v)
		}
	}
	span := maxV - minV
	if span == 0 {
		span = 1
	}

	plot := image.Rect(chartPadding, chartPadding, width-chartPadding, height-chartPadding)
	if plot.Dx() <= 0 || plot.Dy() <= 0 {
		return nil, fmt.Errorf("chart size %dx%d is too small", width, height)
	}
	scale := float64(plot.Dy()) / span
	baseline := plot.Max.Y - int(math.Round(-minV*scale))

	groupWidth := float64(plot.Dx()) / float64(len(c.Labels))
	barWidth := groupWidth * 0.8 / float64(len(c.Series))
	for li := range c.Labels {
		groupX := float64(plot.Min.X) + groupWidth*float64(li) + groupWidth*0.1
		for si, s := range c.Series {
			x0 := int(math.Round(groupX + barWidth*float64(si)))
			x1 := int(math.Round(groupX + barWidth*float64(si+1)))
			if x1 <= x0 {
				x1 = x0 + 1
			}
			y := baseline - int(math.Round(s.Values[li]*scale))
			bar := image.Rect(x0, y, x1, baseline).Canon()
			draw.Draw(img, bar, &image.Uniform{C: palette[si%len(palette)]}, image.Point{}, draw.Src)
		}
	}

	// 軸
	draw.Draw(img, image.Rect(plot.Min.X, baseline, plot.Max.X, baseline+1), &image.Uniform{C: axisColor}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(plot.Min.X, plot.Min.Y, plot.Min.X+1, plot.Max.Y), &image.Uniform{C: axisColor}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}
	return buf.Bytes(), nil
}
