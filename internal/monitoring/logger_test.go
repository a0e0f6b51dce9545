package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Tests in this file swap package globals and must not run in parallel.

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("image %d excluded", 3)
	assert.Equal(t, []string{"image 3 excluded"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted") })
	assert.Len(t, got, 1)
}

func TestSetVerbose(t *testing.T) {
	originalLog, originalDebug := Logf, Debugf
	defer func() { Logf, Debugf = originalLog, originalDebug }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetVerbose(false)
	Debugf("iteration %d", 1)
	assert.Empty(t, got)

	SetVerbose(true)
	Debugf("iteration %d", 2)
	assert.Equal(t, []string{"iteration 2"}, got)

	SetVerbose(false)
	Debugf("iteration %d", 3)
	assert.Len(t, got, 1)
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotNil(t, Debugf)
}
