package dataset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/fsutil"
)

func TestSaveLoad_PreservesInputs(t *testing.T) {
	t.Parallel()
	scene := calib.DefaultScene(calib.NewCameraModel(800, 795, 322, 241))
	scene.Noise = 0.3
	images := scene.Images()
	// Lose one detection so the not-found path is covered.
	images[0].Points[3].Detection = calib.Detection{}

	mfs := fsutil.NewMemoryFileSystem()
	ds := FromInputs(images)
	ds.Grid = &Grid{Cols: 6, Rows: 6, Spacing: 0.03}
	require.NoError(t, Save(mfs, "out/data.json", ds))

	loaded, err := Load(mfs, "out/data.json")
	require.NoError(t, err)
	if diff := cmp.Diff(images, loaded.Inputs()); diff != "" {
		t.Errorf("inputs changed across save/load (-want +got):\n%s", diff)
	}
	assert.Equal(t, ds.Grid, loaded.Grid)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("bad.json", []byte(`{"images": [`), 0644))
	require.NoError(t, mfs.WriteFile("empty.json", []byte(`{"images": []}`), 0644))
	require.NoError(t, mfs.WriteFile("size.json", []byte(`{"images": [{"name": "a", "width": 0, "height": 480, "points": []}]}`), 0644))
	require.NoError(t, mfs.WriteFile("seed.json", []byte(`{"images": [{"name": "a", "width": 640, "height": 480, "seed_indices": [2], "points": [{"world": [0,0,0], "pixel": [1,1], "found": true}]}]}`), 0644))
	require.NoError(t, mfs.WriteFile("data.txt", []byte(`{}`), 0644))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", "nope.json", "failed to stat"},
		{"extension", "data.txt", ".json extension"},
		{"malformed", "bad.json", "failed to parse"},
		{"no images", "empty.json", "no images"},
		{"zero width", "size.json", "size must be positive"},
		{"seed out of range", "seed.json", "seed index 2 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(mfs, tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInputs_BoundingBox(t *testing.T) {
	t.Parallel()
	ds := &Dataset{Images: []Image{{
		Name: "img", Width: 100, Height: 100,
		Points: []Point{
			{World: [3]float64{0.1, 0.2, 0}, Pixel: [2]float64{50, 40}, BBox: &[4]float64{46, 36, 54, 44}, Found: true},
			{World: [3]float64{0.2, 0.2, 0}, Pixel: [2]float64{70, 40}, Found: true},
		},
	}}}

	in := ds.Inputs()
	require.Len(t, in, 1)
	require.Len(t, in[0].Points, 2)

	withBox := in[0].Points[0].Detection
	assert.True(t, withBox.HasBounds())
	assert.Equal(t, 46.0, withBox.Bounds.X.Lo)
	assert.Equal(t, 44.0, withBox.Bounds.Y.Hi)
	assert.False(t, in[0].Points[1].Detection.HasBounds())
	assert.Equal(t, 0.2, in[0].Points[0].World.Y)
}
