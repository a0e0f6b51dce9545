package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(safe, 0755))
	require.NoError(t, os.MkdirAll(outside, 0755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "chart.html"), false},
		{"new nested dir", filepath.Join(safe, "plots", "run1", "a.png"), false},
		{"dir itself", safe, false},
		{"parent traversal", filepath.Join(safe, "..", "outside", "a.png"), true},
		{"sibling", filepath.Join(outside, "a.png"), true},
		{"through symlink", filepath.Join(safe, "link", "a.png"), true},
		{"new file under symlink", filepath.Join(safe, "link", "new", "a.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(safe, "a"), filepath.Join(tmp, "missing")))
}

func TestValidateOutputPath(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "camcal", "chart.html")))
	assert.NoError(t, ValidateOutputPath("plots"))
	assert.Error(t, ValidateOutputPath("/proc/camcal/chart.html"))
}
