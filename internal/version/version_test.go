package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "calibrate dev (unknown, built unknown)", String("calibrate"))
}
