// Package testutil provides shared numeric test assertions for the
// calibration packages.
package testutil

import (
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertNear reports an error when |got − want| > tol or got is NaN.
func AssertNear(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("%s = %.12g, want %.12g ± %g", name, got, want, tol)
	}
}

// AssertSliceNear compares two slices element-wise with AssertNear.
func AssertSliceNear(t testing.TB, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s has %d elements, want %d", name, len(got), len(want))
		return
	}
	for i := range got {
		if math.IsNaN(got[i]) || math.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d] = %.12g, want %.12g ± %g", name, i, got[i], want[i], tol)
		}
	}
}

// AssertRelNear reports an error when got differs from want by more than
// rel·|want|.
func AssertRelNear(t testing.TB, name string, got, want, rel float64) {
	t.Helper()
	AssertNear(t, name, got, want, rel*math.Abs(want))
}
