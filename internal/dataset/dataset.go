// Package dataset reads and writes detector output files: for every image,
// its size and the (world point, detected pixel, found) tuples produced by an
// external feature detector.
package dataset

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/fsutil"
)

// MaxFileSize is the largest dataset file Load accepts.
const MaxFileSize = 64 * 1024 * 1024

// Dataset is the on-disk form of a calibration input.
type Dataset struct {
	Grid *Grid `json:"grid,omitempty"`
	// Camera is the ground-truth model of a synthetic dataset.
	Camera *calib.CameraModel `json:"camera,omitempty"`
	Images []Image            `json:"images"`
}

// Grid describes a regular planar target.
type Grid struct {
	Cols    int     `json:"cols"`
	Rows    int     `json:"rows"`
	Spacing float64 `json:"spacing"`
}

// Image is the detector output for one image.
type Image struct {
	Name        string  `json:"name"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	SeedIndices []int   `json:"seed_indices,omitempty"`
	Points      []Point `json:"points"`
}

// Point is one detector tuple. BBox is [minU, minV, maxU, maxV].
type Point struct {
	World [3]float64  `json:"world"`
	Pixel [2]float64  `json:"pixel"`
	BBox  *[4]float64 `json:"bbox,omitempty"`
	Found bool        `json:"found"`
}

// Load reads and validates a dataset file.
func Load(fsys fsutil.FileSystem, path string) (*Dataset, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".json" {
		return nil, fmt.Errorf("dataset file must have .json extension, got %q", ext)
	}
	data, err := fsutil.ReadFileLimited(fsys, clean, MaxFileSize)
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", clean, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", clean, err)
	}
	return &ds, nil
}

// Save writes ds as indented JSON, creating parent directories.
func Save(fsys fsutil.FileSystem, path string, ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid dataset: %w", err)
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return fsys.WriteFile(path, data, 0644)
}

// Validate checks image sizes and seed indices.
func (d *Dataset) Validate() error {
	if len(d.Images) == 0 {
		return fmt.Errorf("dataset has no images")
	}
	if d.Grid != nil && (d.Grid.Cols <= 0 || d.Grid.Rows <= 0 || !(d.Grid.Spacing > 0)) {
		return fmt.Errorf("grid must have positive cols, rows and spacing, got %+v", *d.Grid)
	}
	for i, img := range d.Images {
		if img.Width <= 0 || img.Height <= 0 {
			return fmt.Errorf("image %d (%s): size must be positive, got %dx%d", i, img.Name, img.Width, img.Height)
		}
		for _, s := range img.SeedIndices {
			if s < 0 || s >= len(img.Points) {
				return fmt.Errorf("image %d (%s): seed index %d out of range [0, %d)", i, img.Name, s, len(img.Points))
			}
		}
	}
	return nil
}

// Inputs converts the dataset into pipeline inputs.
func (d *Dataset) Inputs() []calib.ImageInput {
	out := make([]calib.ImageInput, len(d.Images))
	for i, img := range d.Images {
		in := calib.ImageInput{
			Name:        img.Name,
			Width:       img.Width,
			Height:      img.Height,
			SeedIndices: img.SeedIndices,
			Points:      make([]calib.PointInput, len(img.Points)),
		}
		for j, p := range img.Points {
			det := calib.Detection{Pixel: r2.Point{X: p.Pixel[0], Y: p.Pixel[1]}, Found: p.Found}
			if p.BBox != nil {
				det.Bounds = r2.RectFromPoints(r2.Point{X: p.BBox[0], Y: p.BBox[1]}, r2.Point{X: p.BBox[2], Y: p.BBox[3]})
			}
			in.Points[j] = calib.PointInput{
				World:     r3.Vector{X: p.World[0], Y: p.World[1], Z: p.World[2]},
				Detection: det,
			}
		}
		out[i] = in
	}
	return out
}

// FromInputs builds a dataset from pipeline inputs.
func FromInputs(images []calib.ImageInput) *Dataset {
	ds := &Dataset{Images: make([]Image, len(images))}
	for i, in := range images {
		img := Image{
			Name:        in.Name,
			Width:       in.Width,
			Height:      in.Height,
			SeedIndices: in.SeedIndices,
			Points:      make([]Point, len(in.Points)),
		}
		for j, p := range in.Points {
			pt := Point{
				World: [3]float64{p.World.X, p.World.Y, p.World.Z},
				Pixel: [2]float64{p.Detection.Pixel.X, p.Detection.Pixel.Y},
				Found: p.Detection.Found,
			}
			if p.Detection.HasBounds() {
				b := p.Detection.Bounds
				pt.BBox = &[4]float64{b.X.Lo, b.Y.Lo, b.X.Hi, b.Y.Hi}
			}
			img.Points[j] = pt
		}
		ds.Images[i] = img
	}
	return ds
}
