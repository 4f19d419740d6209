package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zap.AtomicLevel
	}{
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"DEBUG", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"warning", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{" error ", zap.NewAtomicLevelAt(zap.ErrorLevel)},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want.Level() {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want.Level())
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew(t *testing.T) {
	for _, pretty := range []bool{true, false} {
		log, err := New("debug", pretty)
		if err != nil {
			t.Fatalf("New(pretty=%v): %v", pretty, err)
		}
		if !log.Core().Enabled(zap.DebugLevel) {
			t.Errorf("pretty=%v: debug should be enabled", pretty)
		}
		log.Debug("logger ready")
	}

	log, err := New("warn", false)
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if _, err := New("loud", false); err == nil {
		t.Error("expected error for unknown level")
	}
}
