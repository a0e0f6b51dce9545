// Command calibrate estimates camera intrinsics and per-image poses from a
// detector dataset, records the run in SQLite and optionally renders the
// reprojection residuals.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/config"
	"github.com/banshee-data/camcal/internal/dataset"
	"github.com/banshee-data/camcal/internal/fsutil"
	"github.com/banshee-data/camcal/internal/monitoring"
	"github.com/banshee-data/camcal/internal/report"
	"github.com/banshee-data/camcal/internal/security"
	"github.com/banshee-data/camcal/internal/storage/sqlite"
	"github.com/banshee-data/camcal/internal/version"
)

var (
	inputPath   = flag.String("input", "", "Dataset JSON file to calibrate from")
	configPath  = flag.String("config", "", "Calibration config JSON (built-in defaults when empty)")
	dbPath      = flag.String("db", "camcal.db", "SQLite database for run history (empty disables persistence)")
	plotsDir    = flag.String("plots", "", "Directory for per-image residual plots")
	chartPath   = flag.String("chart", "", "HTML file for the residual deviation chart")
	modeFlag    = flag.String("mode", "", "Override the calibration mode (distortion-free or distortion-aware)")
	workers     = flag.Int("workers", -1, "Override the worker limit (0 = unbounded, -1 = use config)")
	notes       = flag.String("notes", "", "Free-form notes stored with the run")
	listRuns    = flag.Int("list", 0, "List the N most recent runs from -db and exit")
	verbose     = flag.Bool("verbose", false, "Log per-iteration solver traces")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

type options struct {
	input      string
	configPath string
	dbPath     string
	plotsDir   string
	chartPath  string
	mode       string
	workers    int
	notes      string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("calibrate"))
		return
	}
	monitoring.SetVerbose(*verbose)

	if *listRuns > 0 {
		if err := listRecent(os.Stdout, *dbPath, *listRuns); err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		return
	}

	if *inputPath == "" {
		log.Fatal("-input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		input:      *inputPath,
		configPath: *configPath,
		dbPath:     *dbPath,
		plotsDir:   *plotsDir,
		chartPath:  *chartPath,
		mode:       *modeFlag,
		workers:    *workers,
		notes:      *notes,
	}
	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}

// loadConfig resolves the config file and the command-line overrides.
func loadConfig(opts options) (*config.CalibrationConfig, error) {
	cfg := config.DefaultCalibrationConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadCalibrationConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.mode != "" {
		if _, err := calib.ParseMode(opts.mode); err != nil {
			return nil, err
		}
		mode := opts.mode
		cfg.Mode = &mode
	}
	if opts.workers >= 0 {
		w := opts.workers
		cfg.Workers = &w
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, opts options, w io.Writer) error {
	for _, out := range []string{opts.plotsDir, opts.chartPath} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	fsys := fsutil.OSFileSystem{}
	ds, err := dataset.Load(fsys, opts.input)
	if err != nil {
		return err
	}
	log.Printf("loaded %d images from %s", len(ds.Images), opts.input)

	start := time.Now()
	res, err := calib.NewPipeline(cfg.ToPipelineConfig()).Run(ctx, ds.Inputs())
	if err != nil {
		return err
	}
	log.Printf("calibrated %d/%d images in %s", res.Included(), len(res.Images), time.Since(start).Round(time.Millisecond))

	if err := printResult(w, ds, res); err != nil {
		return err
	}

	if opts.dbPath != "" {
		runID, err := persist(opts, res, configJSON)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nstored run %s in %s\n", runID, opts.dbPath)
	}

	if opts.plotsDir != "" {
		n, err := report.NewResidualPlotter(fsys, opts.plotsDir).PlotReport(res.Report)
		if err != nil {
			return fmt.Errorf("plots: %w", err)
		}
		fmt.Fprintf(w, "wrote %d residual plots to %s\n", n, opts.plotsDir)
	}
	if opts.chartPath != "" {
		subtitle := fmt.Sprintf("%s, %d/%d images", filepath.Base(opts.input), res.Included(), len(res.Images))
		if err := report.WriteDeviationChart(fsys, opts.chartPath, res.Report, subtitle); err != nil {
			return fmt.Errorf("chart: %w", err)
		}
		fmt.Fprintf(w, "wrote deviation chart to %s\n", opts.chartPath)
	}
	return nil
}

func persist(opts options, res *calib.Result, configJSON json.RawMessage) (string, error) {
	db, err := sqlite.Open(opts.dbPath)
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	r := sqlite.RunFromResult(filepath.Base(opts.input), res, configJSON)
	r.Notes = opts.notes
	if err := sqlite.NewRunStore(db).Insert(r); err != nil {
		return "", fmt.Errorf("store run: %w", err)
	}
	return r.RunID, nil
}

func printResult(w io.Writer, ds *dataset.Dataset, res *calib.Result) error {
	fmt.Fprintf(w, "camera (no distortion): %s\n", res.CameraNoDistortion)
	if res.CameraDistortion != nil {
		fmt.Fprintf(w, "camera (distortion):    %s\n", *res.CameraDistortion)
	}
	if ds.Camera != nil {
		fmt.Fprintf(w, "ground truth:           %s\n", *ds.Camera)
	}
	if rep := res.Report; rep != nil {
		fmt.Fprintf(w, "residual std dev: %.4f px without distortion", rep.NoDistortion.StdDev)
		if rep.Distortion != nil {
			fmt.Fprintf(w, ", %.4f px with distortion (improvement %.4f px)", rep.Distortion.StdDev, rep.Improvement())
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tSTATUS\tVALID\tQUALITY\tPOSE\tREASON")
	for _, img := range res.Images {
		pose := "-"
		if img.Status == calib.StatusIncluded {
			pose = img.Pose.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", img.Name, img.Status, img.ValidPoints, string(img.Quality), pose, img.Reason)
	}
	return tw.Flush()
}

func listRecent(w io.Writer, path string, limit int) error {
	if path == "" {
		return errors.New("-db is required with -list")
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := sqlite.NewRunStore(db).List(limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tDATASET\tMODE\tIMAGES\tSTDDEV\tCAMERA\tNOTES")
	for _, r := range runs {
		sd := r.StdDevNoDistortion
		if r.StdDevDistortion != nil {
			sd = *r.StdDevDistortion
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.4f\t%s\t%s\n",
			r.RunID, time.Unix(0, r.CreatedAt).Format(time.RFC3339), r.Dataset, r.Mode,
			r.ImagesIncluded, r.ImagesTotal, sd, r.Camera, r.Notes)
	}
	return tw.Flush()
}
