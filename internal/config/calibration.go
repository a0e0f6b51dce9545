package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/camcal/internal/calib"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// CalibrationConfig is the JSON configuration consumed at the start of a
// calibration run. Omitted fields fall back to the Get* defaults, so partial
// files are safe.
type CalibrationConfig struct {
	// Joint refinement
	Mode            *string  `json:"mode,omitempty"` // "distortion-free" or "distortion-aware"
	ConvergenceGain *float64 `json:"convergence_gain,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty"`
	ErrorTolerance  *float64 `json:"error_tolerance,omitempty"`
	MaxCondition    *float64 `json:"max_condition,omitempty"`

	// Outlier gate
	OutlierPixelTolerance *float64 `json:"outlier_pixel_tolerance,omitempty"`
	BorderMarginPx        *int     `json:"border_margin_px,omitempty"`
	DetectionMarginPx     *int     `json:"detection_margin_px,omitempty"`

	// Per-image pose
	PoseGain           *float64 `json:"pose_gain,omitempty"`
	PoseMaxIterations  *int     `json:"pose_max_iterations,omitempty"`
	PoseErrorTolerance *float64 `json:"pose_error_tolerance,omitempty"`

	SeedFocalPx *float64 `json:"seed_focal_px,omitempty"`
	Workers     *int     `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCalibrationConfig returns a config with every field unset.
func EmptyCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{}
}

// DefaultCalibrationConfig returns a config with every field set to its
// default.
func DefaultCalibrationConfig() *CalibrationConfig {
	c := EmptyCalibrationConfig()
	return &CalibrationConfig{
		Mode:                  ptrString(c.GetMode().String()),
		ConvergenceGain:       ptrFloat64(c.GetConvergenceGain()),
		MaxIterations:         ptrInt(c.GetMaxIterations()),
		ErrorTolerance:        ptrFloat64(c.GetErrorTolerance()),
		MaxCondition:          ptrFloat64(c.GetMaxCondition()),
		OutlierPixelTolerance: ptrFloat64(c.GetOutlierPixelTolerance()),
		BorderMarginPx:        ptrInt(c.GetBorderMarginPx()),
		DetectionMarginPx:     ptrInt(c.GetDetectionMarginPx()),
		PoseGain:              ptrFloat64(c.GetPoseGain()),
		PoseMaxIterations:     ptrInt(c.GetPoseMaxIterations()),
		PoseErrorTolerance:    ptrFloat64(c.GetPoseErrorTolerance()),
		SeedFocalPx:           ptrFloat64(c.GetSeedFocalPx()),
		Workers:               ptrInt(c.GetWorkers()),
	}
}

// LoadCalibrationConfig loads a CalibrationConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCalibrationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *CalibrationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/tools/gen-dataset/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCalibrationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *CalibrationConfig) Validate() error {
	if c.Mode != nil {
		if _, err := calib.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.ConvergenceGain != nil && !(*c.ConvergenceGain > 0) {
		return fmt.Errorf("convergence_gain must be positive, got %g", *c.ConvergenceGain)
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.ErrorTolerance != nil && !(*c.ErrorTolerance > 0) {
		return fmt.Errorf("error_tolerance must be positive, got %g", *c.ErrorTolerance)
	}
	if c.MaxCondition != nil && !(*c.MaxCondition > 1) {
		return fmt.Errorf("max_condition must be greater than 1, got %g", *c.MaxCondition)
	}
	if c.OutlierPixelTolerance != nil && !(*c.OutlierPixelTolerance >= 0) {
		return fmt.Errorf("outlier_pixel_tolerance must be non-negative, got %g", *c.OutlierPixelTolerance)
	}
	if c.BorderMarginPx != nil && *c.BorderMarginPx < 0 {
		return fmt.Errorf("border_margin_px must be non-negative, got %d", *c.BorderMarginPx)
	}
	if c.DetectionMarginPx != nil && *c.DetectionMarginPx < 0 {
		return fmt.Errorf("detection_margin_px must be non-negative, got %d", *c.DetectionMarginPx)
	}
	if c.PoseGain != nil && !(*c.PoseGain > 0) {
		return fmt.Errorf("pose_gain must be positive, got %g", *c.PoseGain)
	}
	if c.PoseMaxIterations != nil && *c.PoseMaxIterations <= 0 {
		return fmt.Errorf("pose_max_iterations must be positive, got %d", *c.PoseMaxIterations)
	}
	if c.PoseErrorTolerance != nil && !(*c.PoseErrorTolerance > 0) {
		return fmt.Errorf("pose_error_tolerance must be positive, got %g", *c.PoseErrorTolerance)
	}
	if c.SeedFocalPx != nil && !(*c.SeedFocalPx > 0) {
		return fmt.Errorf("seed_focal_px must be positive, got %g", *c.SeedFocalPx)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetMode returns the calibration mode or the default (distortion-aware).
// An unparseable value also yields the default; Validate reports it.
func (c *CalibrationConfig) GetMode() calib.Mode {
	if c.Mode == nil {
		return calib.ModeDistortionAware
	}
	m, err := calib.ParseMode(*c.Mode)
	if err != nil {
		return calib.ModeDistortionAware
	}
	return m
}

// GetConvergenceGain returns the convergence_gain value or the default.
func (c *CalibrationConfig) GetConvergenceGain() float64 {
	if c.ConvergenceGain == nil {
		return 0.5
	}
	return *c.ConvergenceGain
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *CalibrationConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 200
	}
	return *c.MaxIterations
}

// GetErrorTolerance returns the error_tolerance value or the default.
func (c *CalibrationConfig) GetErrorTolerance() float64 {
	if c.ErrorTolerance == nil {
		return 1e-10
	}
	return *c.ErrorTolerance
}

// GetMaxCondition returns the max_condition value or the default.
func (c *CalibrationConfig) GetMaxCondition() float64 {
	if c.MaxCondition == nil {
		return 1e14
	}
	return *c.MaxCondition
}

// GetOutlierPixelTolerance returns the outlier_pixel_tolerance value or the default.
func (c *CalibrationConfig) GetOutlierPixelTolerance() float64 {
	if c.OutlierPixelTolerance == nil {
		return 10
	}
	return *c.OutlierPixelTolerance
}

// GetBorderMarginPx returns the border_margin_px value or the default.
func (c *CalibrationConfig) GetBorderMarginPx() int {
	if c.BorderMarginPx == nil {
		return 10
	}
	return *c.BorderMarginPx
}

// GetDetectionMarginPx returns the detection_margin_px value or the default.
func (c *CalibrationConfig) GetDetectionMarginPx() int {
	if c.DetectionMarginPx == nil {
		return 5
	}
	return *c.DetectionMarginPx
}

// GetPoseGain returns the pose_gain value or the default.
func (c *CalibrationConfig) GetPoseGain() float64 {
	if c.PoseGain == nil {
		return 1.0
	}
	return *c.PoseGain
}

// GetPoseMaxIterations returns the pose_max_iterations value or the default.
func (c *CalibrationConfig) GetPoseMaxIterations() int {
	if c.PoseMaxIterations == nil {
		return 200
	}
	return *c.PoseMaxIterations
}

// GetPoseErrorTolerance returns the pose_error_tolerance value or the default.
func (c *CalibrationConfig) GetPoseErrorTolerance() float64 {
	if c.PoseErrorTolerance == nil {
		return 1e-16
	}
	return *c.PoseErrorTolerance
}

// GetSeedFocalPx returns the seed_focal_px value or the default.
func (c *CalibrationConfig) GetSeedFocalPx() float64 {
	if c.SeedFocalPx == nil {
		return 600
	}
	return *c.SeedFocalPx
}

// GetWorkers returns the workers value or the default (0, unbounded).
func (c *CalibrationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// ToPipelineConfig converts the configuration into a calib.Config.
func (c *CalibrationConfig) ToPipelineConfig() calib.Config {
	return calib.Config{
		Engine: calib.EngineConfig{
			Mode:          c.GetMode(),
			Gain:          c.GetConvergenceGain(),
			MaxIterations: c.GetMaxIterations(),
			Tolerance:     c.GetErrorTolerance(),
			Workers:       c.GetWorkers(),
			MaxCondition:  c.GetMaxCondition(),
		},
		Pose: calib.PoseConfig{
			Gain:          c.GetPoseGain(),
			MaxIterations: c.GetPoseMaxIterations(),
			Tolerance:     c.GetPoseErrorTolerance(),
		},
		Gate: calib.OutlierGate{
			BorderMarginPx:    float64(c.GetBorderMarginPx()),
			DetectionMarginPx: float64(c.GetDetectionMarginPx()),
			PixelTolerance:    c.GetOutlierPixelTolerance(),
		},
		SeedFocalPx: c.GetSeedFocalPx(),
		Workers:     c.GetWorkers(),
	}
}
