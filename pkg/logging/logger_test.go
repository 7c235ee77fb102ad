package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestStderrLogger_LevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := NewStderrLogger("moneta", LevelWarn)
	l.SetOutput(&buf)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("sub-threshold messages emitted: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 3") || !strings.Contains(out, "[ERROR] shown 4") {
		t.Errorf("expected messages missing: %q", out)
	}
	if !strings.Contains(out, "[moneta]") {
		t.Errorf("prefix missing: %q", out)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		v    Verbosity
		want Level
	}{
		{VerbositySurface, LevelWarn},
		{VerbosityDetail, LevelInfo},
		{VerbosityDebug, LevelDebug},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.v); got != tt.want {
			t.Errorf("LevelFor(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	// Must be safe to call with any arguments.
	var l Logger = NopLogger{}
	l.Debug("x %d", 1)
	l.Info("x")
	l.Warn("x %v", nil)
	l.Error("x")
}
