package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoWritesMessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("debug", true)
	Info("package installed", Fields{"name": "foo", "version": "1.0.0"})

	out := buf.String()
	assert.Contains(t, out, "package installed")
	assert.Contains(t, out, "name=foo")
	assert.Contains(t, out, "version=1.0.0")
}

func TestWarnLevelBelowThresholdIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("error", true)
	Warn("should not appear")

	assert.Empty(t, buf.String())
}

func TestSuccessAddsStatusField(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("info", true)
	Success("done")

	assert.Contains(t, buf.String(), "status=success")
}

func TestInitLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("not-a-real-level", true)
	Debug("should be suppressed")
	Info("should appear")

	out := buf.String()
	assert.False(t, strings.Contains(out, "should be suppressed"))
	assert.Contains(t, out, "should appear")
}

func TestInitLoggerNoColorDisablesColors(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("info", true)
	Info("plain")

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestMergeFieldsCombinesMultipleMaps(t *testing.T) {
	merged := mergeFields(Fields{"a": 1}, Fields{"b": 2})
	assert.Len(t, merged, 2)
	assert.Contains(t, merged, "a")
	assert.Contains(t, merged, "b")
}

func TestErrorfFormatsMessage(t *testing.T) {
	var buf bytes.Buffer
	SetTestOutput(&buf)
	defer UnsetTestOutput()

	InitLogger("error", true)
	Errorf("failed to install %s: %v", "foo", assertErr{})

	assert.Contains(t, buf.String(), "failed to install foo: boom")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
