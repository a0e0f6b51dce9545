package calib

import "errors"

var (
	// ErrDegenerateModel is returned when an intrinsic update leaves the camera
	// with a non-positive focal scale or a non-finite parameter.
	ErrDegenerateModel = errors.New("degenerate camera model")

	// ErrPoseComputationFailed is returned when single-image pose estimation
	// cannot produce a usable pose (degenerate seed, divergence, iteration cap).
	ErrPoseComputationFailed = errors.New("pose computation failed")

	// ErrCalibrationIllConditioned is returned when the joint normal equations
	// cannot be solved (rank deficiency, too few observations or images).
	ErrCalibrationIllConditioned = errors.New("calibration ill-conditioned")

	// ErrInsufficientCorrespondences is returned when an operation receives
	// fewer valid correspondences than it needs.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
)
