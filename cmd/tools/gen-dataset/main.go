// Command gen-dataset renders the default calibration grid through a known
// camera into a dataset file, for exercising calibrate without a detector.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/dataset"
	"github.com/banshee-data/camcal/internal/fsutil"
)

type options struct {
	px, py, u0, v0 float64
	k1, k2         float64
	width, height  int
	noise          float64
	dotSize        float64
	seed           int64
}

func main() {
	output := flag.String("o", "grid.json", "output path")
	var opts options
	flag.Float64Var(&opts.px, "px", 800, "horizontal focal scale in pixels")
	flag.Float64Var(&opts.py, "py", 795, "vertical focal scale in pixels")
	flag.Float64Var(&opts.u0, "u0", 322, "principal point u in pixels")
	flag.Float64Var(&opts.v0, "v0", 241, "principal point v in pixels")
	flag.Float64Var(&opts.k1, "k1", 0, "first radial distortion coefficient")
	flag.Float64Var(&opts.k2, "k2", 0, "second radial distortion coefficient")
	flag.IntVar(&opts.width, "width", 640, "image width in pixels")
	flag.IntVar(&opts.height, "height", 480, "image height in pixels")
	flag.Float64Var(&opts.noise, "noise", 0, "standard deviation of the detection noise in pixels")
	flag.Float64Var(&opts.dotSize, "dot", 8, "detected dot extent in pixels (0 omits extents)")
	flag.Int64Var(&opts.seed, "seed", 1, "noise seed")
	flag.Parse()

	ds, err := generate(opts)
	if err != nil {
		log.Fatalf("failed to generate dataset: %v", err)
	}
	if err := dataset.Save(fsutil.OSFileSystem{}, *output, ds); err != nil {
		log.Fatalf("failed to write dataset: %v", err)
	}
	log.Printf("✓ Created: %s (%d images, camera %s)", *output, len(ds.Images), *ds.Camera)
}

func generate(opts options) (*dataset.Dataset, error) {
	cam := calib.NewCameraModel(opts.px, opts.py, opts.u0, opts.v0)
	if opts.k1 != 0 || opts.k2 != 0 {
		cam.K1, cam.K2 = opts.k1, opts.k2
		cam = cam.WithDistortion()
	}
	if err := cam.Validate(); err != nil {
		return nil, err
	}
	if opts.noise < 0 {
		return nil, fmt.Errorf("noise must be non-negative, got %g", opts.noise)
	}

	scene := calib.DefaultScene(cam)
	scene.Width, scene.Height = opts.width, opts.height
	scene.Noise = opts.noise
	scene.DotSize = opts.dotSize
	scene.Seed = opts.seed

	ds := dataset.FromInputs(scene.Images())
	ds.Camera = &cam
	ds.Grid = &dataset.Grid{Cols: calib.DefaultGridCols, Rows: calib.DefaultGridRows, Spacing: calib.DefaultGridSpacing}
	return ds, ds.Validate()
}
