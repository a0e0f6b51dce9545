package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/fsutil"
)

// RenderDeviationChart writes an HTML page with one bar per image comparing
// the residual standard deviation of the distortion-free and the
// distortion-aware model, followed by the aggregate.
func RenderDeviationChart(w io.Writer, rep *calib.Report, subtitle string) error {
	if rep == nil {
		return fmt.Errorf("no residual report to chart")
	}

	x := make([]string, 0, len(rep.Images)+1)
	free := make([]opts.BarData, 0, len(rep.Images)+1)
	dist := make([]opts.BarData, 0, len(rep.Images)+1)
	for _, img := range rep.Images {
		x = append(x, img.Name)
		free = append(free, opts.BarData{Value: img.NoDistortion.StdDev})
		if img.Distortion != nil {
			dist = append(dist, opts.BarData{Value: img.Distortion.StdDev})
		}
	}
	x = append(x, "all")
	free = append(free, opts.BarData{Value: rep.NoDistortion.StdDev})
	if rep.Distortion != nil {
		dist = append(dist, opts.BarData{Value: rep.Distortion.StdDev})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Calibration residuals", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Residual standard deviation (px)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "px", NameLocation: "middle", NameGap: 40}),
	)
	bar.SetXAxis(x).AddSeries("no distortion", free)
	if len(dist) == len(free) {
		bar.AddSeries("distortion", dist)
	}

	page := components.NewPage()
	page.AddCharts(bar)
	return page.Render(w)
}

// WriteDeviationChart renders the deviation chart into path.
func WriteDeviationChart(fsys fsutil.FileSystem, path string, rep *calib.Report, subtitle string) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := RenderDeviationChart(f, rep, subtitle); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
