package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/camcal/internal/calib"
	"github.com/banshee-data/camcal/internal/timeutil"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("calibration run not found")

// Run is a persisted calibration result.
type Run struct {
	RunID      string            `json:"run_id"`
	Dataset    string            `json:"dataset"`
	Mode       string            `json:"mode"`
	Camera     calib.CameraModel `json:"camera"`
	Iterations int               `json:"iterations"`
	Converged  bool              `json:"converged"`

	StdDevNoDistortion float64  `json:"std_dev_free_px"`
	StdDevDistortion   *float64 `json:"std_dev_dist_px,omitempty"`

	ImagesIncluded int             `json:"images_included"`
	ImagesTotal    int             `json:"images_total"`
	ConfigJSON     json.RawMessage `json:"config_json,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      int64           `json:"created_at"`

	Images []RunImage `json:"images,omitempty"`
}

// RunImage is the persisted outcome of one image of a run.
type RunImage struct {
	Index       int        `json:"index"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ValidPoints int        `json:"valid_points"`
	Pose        calib.Pose `json:"pose"`
	RMSPx       *float64   `json:"rms_px,omitempty"`
	StdDevPx    *float64   `json:"std_dev_px,omitempty"`
	Quality     string     `json:"quality"`
}

// RunFromResult flattens a pipeline result into a Run.
func RunFromResult(dataset string, res *calib.Result, configJSON json.RawMessage) *Run {
	run := &Run{
		Dataset:        dataset,
		Mode:           calib.ModeDistortionFree.String(),
		Camera:         res.Camera,
		Converged:      res.FreeRun.Converged,
		Iterations:     res.FreeRun.Iterations,
		ImagesIncluded: res.Included(),
		ImagesTotal:    len(res.Images),
		ConfigJSON:     configJSON,
	}
	if res.AwareRun != nil {
		run.Mode = calib.ModeDistortionAware.String()
		run.Iterations += res.AwareRun.Iterations
		run.Converged = run.Converged && res.AwareRun.Converged
	}

	stats := make(map[int]calib.ResidualStats)
	if res.Report != nil {
		run.StdDevNoDistortion = res.Report.NoDistortion.StdDev
		if res.Report.Distortion != nil {
			sd := res.Report.Distortion.StdDev
			run.StdDevDistortion = &sd
		}
		for _, img := range res.Report.Images {
			s := img.NoDistortion
			if img.Distortion != nil {
				s = *img.Distortion
			}
			stats[img.Index] = s
		}
	}

	for _, img := range res.Images {
		ri := RunImage{
			Index:       img.Index,
			Name:        img.Name,
			Status:      img.Status.String(),
			Reason:      img.Reason,
			ValidPoints: img.ValidPoints,
			Pose:        img.Pose,
			Quality:     string(img.Quality),
		}
		if s, ok := stats[img.Index]; ok {
			rms, sd := s.RMS, s.StdDev
			ri.RMSPx, ri.StdDevPx = &rms, &sd
		}
		run.Images = append(run.Images, ri)
	}
	return run
}

// RunStore provides persistence for calibration runs.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a new RunStore using the wall clock.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// WithClock returns a copy of the store that timestamps runs and waits
// between busy retries with clock.
func (s *RunStore) WithClock(clock timeutil.Clock) *RunStore {
	return &RunStore{db: s.db, clock: clock}
}

func (s *RunStore) retry(fn func() error) error {
	return retryOnBusyWith(s.clock, fn)
}

// Insert persists a run and its images in one transaction. If RunID is
// empty, a UUID is generated.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	var configStr interface{}
	if len(run.ConfigJSON) > 0 {
		configStr = string(run.ConfigJSON)
	}

	return s.retry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		c := run.Camera
		_, err = tx.Exec(`
			INSERT INTO calibration_runs (
				run_id, dataset, mode, px, py, u0, v0, k1, k2, distorted,
				iterations, converged, std_dev_free_px, std_dev_dist_px,
				images_included, images_total, config_json, notes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Dataset, run.Mode, c.Px, c.Py, c.U0, c.V0, c.K1, c.K2, c.Distorted,
			run.Iterations, run.Converged, run.StdDevNoDistortion, run.StdDevDistortion,
			run.ImagesIncluded, run.ImagesTotal, configStr, run.Notes, run.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for _, img := range run.Images {
			pose, err := json.Marshal(img.Pose)
			if err != nil {
				return fmt.Errorf("encode pose of image %d: %w", img.Index, err)
			}
			_, err = tx.Exec(`
				INSERT INTO calibration_images (
					run_id, image_index, name, status, reason, valid_points,
					pose_json, rms_px, std_dev_px, quality
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.RunID, img.Index, img.Name, img.Status, img.Reason, img.ValidPoints,
				string(pose), img.RMSPx, img.StdDevPx, img.Quality,
			)
			if err != nil {
				return fmt.Errorf("insert image %d: %w", img.Index, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `
	run_id, dataset, mode, px, py, u0, v0, k1, k2, distorted,
	iterations, converged, std_dev_free_px, std_dev_dist_px,
	images_included, images_total, config_json, notes, created_at`

// Get returns a run with its images.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM calibration_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT image_index, name, status, reason, valid_points, pose_json,
		       rms_px, std_dev_px, quality
		FROM calibration_images
		WHERE run_id = ?
		ORDER BY image_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var img RunImage
		var pose string
		var rms, sd sql.NullFloat64
		if err := rows.Scan(&img.Index, &img.Name, &img.Status, &img.Reason, &img.ValidPoints,
			&pose, &rms, &sd, &img.Quality); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		if err := json.Unmarshal([]byte(pose), &img.Pose); err != nil {
			return nil, fmt.Errorf("decode pose of image %d: %w", img.Index, err)
		}
		if rms.Valid {
			img.RMSPx = &rms.Float64
		}
		if sd.Valid {
			img.StdDevPx = &sd.Float64
		}
		run.Images = append(run.Images, img)
	}
	return run, rows.Err()
}

// List returns up to limit runs without their images, newest first. A
// non-positive limit returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM calibration_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateNotes replaces the free-form notes of a run.
func (s *RunStore) UpdateNotes(runID, notes string) error {
	return s.retry(func() error {
		result, err := s.db.Exec(`UPDATE calibration_runs SET notes = ? WHERE run_id = ?`, notes, runID)
		if err != nil {
			return fmt.Errorf("update notes: %w", err)
		}
		return requireAffected(result, runID)
	})
}

// Delete removes a run and its images.
func (s *RunStore) Delete(runID string) error {
	return s.retry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM calibration_images WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM calibration_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		if err := requireAffected(result, runID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func requireAffected(result sql.Result, runID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var dist sql.NullFloat64
	var config sql.NullString
	err := row.Scan(
		&r.RunID, &r.Dataset, &r.Mode,
		&r.Camera.Px, &r.Camera.Py, &r.Camera.U0, &r.Camera.V0, &r.Camera.K1, &r.Camera.K2, &r.Camera.Distorted,
		&r.Iterations, &r.Converged, &r.StdDevNoDistortion, &dist,
		&r.ImagesIncluded, &r.ImagesTotal, &config, &r.Notes, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	if dist.Valid {
		r.StdDevDistortion = &dist.Float64
	}
	if config.Valid {
		r.ConfigJSON = json.RawMessage(config.String)
	}
	return &r, nil
}
