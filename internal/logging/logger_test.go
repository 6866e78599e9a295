package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("WARN-level logger emitted lower-level output:\n%s", out)
	}
	if !strings.Contains(out, "WARN warn 3") {
		t.Errorf("missing warn line:\n%s", out)
	}
	if !strings.Contains(out, "ERROR error 4") {
		t.Errorf("missing error line:\n%s", out)
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestIsNil(t *testing.T) {
	if !IsNil(nil) {
		t.Error("IsNil(nil) should be true")
	}
	var typed *DefaultLogger
	if !IsNil(typed) {
		t.Error("IsNil(typed-nil) should be true")
	}
	if IsNil(Discard) {
		t.Error("IsNil(Discard) should be false")
	}
}

func TestOrDefault(t *testing.T) {
	if l := OrDefault(nil); IsNil(l) {
		t.Error("OrDefault(nil) returned a nil logger")
	}
	if l := OrDefault(Discard); l != Discard {
		t.Error("OrDefault should pass a valid logger through")
	}
}
