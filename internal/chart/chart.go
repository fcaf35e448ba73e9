package chart

import (
	"bytes"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"quant-telegram/lib/helpers"
)

// Point is one observed price.
type Point struct {
	Time  time.Time
	Value float64
}

// Options of a rendered chart
type Options struct {
	Title  string
	Width  int
	Height int
	// Font defaults to the font bundled with go-chart.
	Font *truetype.Font
}

var (
	backgroundColor = drawing.Color{R: 55, G: 55, B: 55, A: 255}
	textColor       = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	splitLineColor  = drawing.Color{R: 100, G: 100, B: 100, A: 128}
	seriesColor     = drawing.Color{R: 0, G: 122, B: 255, A: 255}
	areaColor       = drawing.Color{R: 0, G: 122, B: 255, A: 25}
)

// RenderPNG draws points as a dark themed line chart.
func RenderPNG(points []Point, opt Options) ([]byte, error) {
	if len(points) < 2 {
		return nil, errors.New("need at least two prices to draw a chart")
	}
	if opt.Width <= 0 {
		opt.Width = 1200
	}
	if opt.Height <= 0 {
		opt.Height = 500
	}
	if opt.Font == nil {
		font, err := gochart.GetDefaultFont()
		if err != nil {
			return nil, errors.Wrap(err, "could not load chart font")
		}
		opt.Font = font
	}

	times := make([]time.Time, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		times[i] = p.Time
		values[i] = p.Value
	}

	minPrice, maxPrice := getMinMax(values)
	padding := (maxPrice - minPrice) * 0.1
	if padding == 0 {
		padding = maxPrice*0.01 + 1e-9
	}

	axisStyle := gochart.Style{
		FontColor:   textColor,
		FontSize:    12,
		StrokeColor: textColor,
	}

	graph := gochart.Chart{
		Title: opt.Title,
		TitleStyle: gochart.Style{
			FontColor: textColor,
			FontSize:  14,
		},
		Width:  opt.Width,
		Height: opt.Height,
		Font:   opt.Font,
		Background: gochart.Style{
			FillColor: backgroundColor,
			Padding:   gochart.Box{Top: 60, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: backgroundColor},
		XAxis: gochart.XAxis{
			Style:          axisStyle,
			ValueFormatter: gochart.TimeMinuteValueFormatter,
		},
		YAxis: gochart.YAxis{
			Style: axisStyle,
			Range: &gochart.ContinuousRange{
				Min: minPrice - padding,
				Max: maxPrice + padding,
			},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return helpers.FormatPrice(f)
				}
				return ""
			},
			GridMajorStyle: gochart.Style{
				StrokeColor: splitLineColor,
				StrokeWidth: 1,
			},
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name: opt.Title,
				Style: gochart.Style{
					StrokeColor: seriesColor,
					StrokeWidth: 2,
					FillColor:   areaColor,
				},
				XValues: times,
				YValues: values,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "could not render chart")
	}
	return buf.Bytes(), nil
}

func getMinMax(values []float64) (min, max float64) {
	min, max = values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
