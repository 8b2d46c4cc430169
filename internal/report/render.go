package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/odometry/internal/db"
)

// PlotSize is the edge length of rendered PNG plots.
const PlotSize = 8 * vg.Inch

var (
	pathColor  = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	startColor = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff}
	endColor   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// TrajectoryPlot builds an X/Y plot of recs with start and end markers.
func TrajectoryPlot(title string, recs []db.PoseRecord) (*plot.Plot, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("no poses to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(recs))
	for i, r := range recs {
		pts[i] = plotter.XY{X: r.Pose.X, Y: r.Pose.Y}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("trajectory line: %w", err)
	}
	line.Color = pathColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("path", line)

	for _, m := range []struct {
		name  string
		pt    plotter.XY
		color color.Color
	}{
		{"start", pts[0], startColor},
		{"end", pts[len(pts)-1], endColor},
	} {
		sc, err := plotter.NewScatter(plotter.XYs{m.pt})
		if err != nil {
			return nil, fmt.Errorf("%s marker: %w", m.name, err)
		}
		sc.GlyphStyle.Color = m.color
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(m.name, sc)
	}

	// equal axes so arcs stay round
	minX, maxX := p.X.Min, p.X.Max
	minY, maxY := p.Y.Min, p.Y.Max
	half := math.Max(maxX-minX, maxY-minY)/2 + 1
	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	p.X.Min, p.X.Max = cx-half, cx+half
	p.Y.Min, p.Y.Max = cy-half, cy+half

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveTrajectoryPNG renders recs to file. The format follows the file
// extension.
func SaveTrajectoryPNG(file, title string, recs []db.PoseRecord) error {
	p, err := TrajectoryPlot(title, recs)
	if err != nil {
		return err
	}
	if err := p.Save(PlotSize, PlotSize, file); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// WriteTrajectoryPNG renders recs as PNG to w.
func WriteTrajectoryPNG(w io.Writer, title string, recs []db.PoseRecord) error {
	p, err := TrajectoryPlot(title, recs)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotSize, PlotSize, "png")
	if err != nil {
		return fmt.Errorf("trajectory png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// RenderTrajectoryHTML writes an interactive scatter of recs, coloured by
// sequence so the direction of travel is visible.
func RenderTrajectoryHTML(w io.Writer, title string, recs []db.PoseRecord) error {
	data := make([]opts.ScatterData, 0, len(recs))
	maxAbs := 1.0
	var lastSeq int64
	for _, r := range recs {
		data = append(data, opts.ScatterData{Value: []interface{}{r.Pose.X, r.Pose.Y, r.Seq, r.Pose.Heading}})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(r.Pose.X), math.Abs(r.Pose.Y)))
		lastSeq = r.Seq
	}
	pad := math.Ceil(maxAbs * 1.1)

	stats := Summarize(recs)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("poses=%d path=%.2f net=%.2f rotation=%.1f°", stats.Poses, stats.PathLength, stats.NetDisplacement, stats.TotalRotation),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(lastSeq),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("pose", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter.Render(w)
}
