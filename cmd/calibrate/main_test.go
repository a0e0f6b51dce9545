package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/dataset"
	"github.com/banshee-data/camcal/internal/fsutil"
	"github.com/banshee-data/camcal/internal/monitoring"
	"github.com/banshee-data/camcal/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// writeFixtures writes a noise-free synthetic dataset and a matching config
// into dir.
func writeFixtures(t *testing.T, dir string) (input, cfg string) {
	t.Helper()
	scene := calib.DefaultScene(calib.NewCameraModel(800, 795, 322, 241))
	ds := dataset.FromInputs(scene.Images())
	ds.Camera = &scene.Camera

	input = filepath.Join(dir, "grid.json")
	require.NoError(t, dataset.Save(fsutil.OSFileSystem{}, input, ds))

	cfg = filepath.Join(dir, "calibration.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"mode": "distortion-aware", "seed_focal_px": 800}`), 0644))
	return input, cfg
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "camcal.db", *dbPath)
	assert.Equal(t, -1, *workers)
	assert.Equal(t, "", *modeFlag)
	assert.False(t, *verbose)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input, cfg := writeFixtures(t, dir)
	opts := options{
		input:      input,
		configPath: cfg,
		dbPath:     filepath.Join(dir, "runs.db"),
		plotsDir:   filepath.Join(dir, "plots"),
		chartPath:  filepath.Join(dir, "chart.html"),
		mode:       "distortion-free",
		workers:    2,
		notes:      "bench rig",
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &out))

	text := out.String()
	assert.Contains(t, text, "camera (no distortion): px=800.0000 py=795.0000 u0=322.0000 v0=241.0000")
	assert.NotContains(t, text, "camera (distortion):")
	assert.Contains(t, text, "view-05")
	assert.Contains(t, text, "Included")
	assert.Contains(t, text, "wrote 6 residual plots")

	plots, err := filepath.Glob(filepath.Join(dir, "plots", "*.png"))
	require.NoError(t, err)
	assert.Len(t, plots, 6)
	_, err = os.Stat(opts.chartPath)
	assert.NoError(t, err)

	db, err := sqlite.Open(opts.dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := sqlite.NewRunStore(db).List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "grid.json", runs[0].Dataset)
	assert.Equal(t, "distortion-free", runs[0].Mode)
	assert.Equal(t, "bench rig", runs[0].Notes)
	assert.Contains(t, string(runs[0].ConfigJSON), `"workers":2`)

	var listing bytes.Buffer
	require.NoError(t, listRecent(&listing, opts.dbPath, 5))
	assert.Contains(t, listing.String(), runs[0].RunID)
	assert.Contains(t, listing.String(), "6/6")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	input, cfg := writeFixtures(t, dir)

	tests := []struct {
		name string
		opts options
	}{
		{"unknown mode", options{input: input, configPath: cfg, mode: "fisheye", workers: -1}},
		{"missing config", options{input: input, configPath: filepath.Join(dir, "missing.json"), workers: -1}},
		{"missing input", options{input: filepath.Join(dir, "missing.json"), configPath: cfg, workers: -1}},
		{"not json", options{input: filepath.Join(dir, "grid.txt"), configPath: cfg, workers: -1}},
		{"chart outside", options{input: input, configPath: cfg, chartPath: "/proc/camcal/chart.html", workers: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(context.Background(), tt.opts, &out))
		})
	}

	assert.Error(t, listRecent(&bytes.Buffer{}, "", 5))
}
