// Package report renders calibration residuals: PNG scatter plots of the
// per-image residual vectors (gonum/plot) and an HTML chart comparing the
// residual deviation of both camera models (go-echarts).
package report

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/fsutil"
)

// ResidualPlotter writes one residual scatter plot per analysed image.
type ResidualPlotter struct {
	fs        fsutil.FileSystem
	outputDir string
}

// NewResidualPlotter creates a plotter writing into outputDir.
func NewResidualPlotter(fsys fsutil.FileSystem, outputDir string) *ResidualPlotter {
	return &ResidualPlotter{fs: fsys, outputDir: outputDir}
}

// PlotReport writes image_NN_residuals.png for every image of rep and returns
// the number of files written.
func (rp *ResidualPlotter) PlotReport(rep *calib.Report) (int, error) {
	if rep == nil {
		return 0, nil
	}
	if err := rp.fs.MkdirAll(rp.outputDir, 0755); err != nil {
		return 0, fmt.Errorf("create %s: %w", rp.outputDir, err)
	}

	count := 0
	for _, img := range rep.Images {
		if err := rp.plotImage(img); err != nil {
			return count, fmt.Errorf("image %d: %w", img.Index, err)
		}
		count++
	}
	return count, nil
}

func (rp *ResidualPlotter) plotImage(img calib.ImageResiduals) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - reprojection residuals", img.Name)
	p.X.Label.Text = "du (px)"
	p.Y.Label.Text = "dv (px)"
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		stats *calib.ResidualStats
	}{
		{"no distortion", &img.NoDistortion},
		{"distortion", img.Distortion},
	}
	for i, s := range series {
		if s.stats == nil || len(s.stats.Vectors) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.stats.Vectors))
		for j, v := range s.stats.Vectors {
			pts[j] = plotter.XY{X: v.X, Y: v.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("%s scatter: %w", s.name, err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Radius = vg.Points(2)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%s (sd %.3f px)", s.name, s.stats.StdDev), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	name := filepath.Join(rp.outputDir, fmt.Sprintf("image_%02d_residuals.png", img.Index))
	f, err := rp.fs.Create(name)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
