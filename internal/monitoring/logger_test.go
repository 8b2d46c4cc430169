package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger; this must not panic
	SetLogger(nil)
	Logf("test message %d", 1)
}

func TestDebugf(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetDebug(false)
	}()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Debugf("tick %d", 1)
	if len(lines) != 0 {
		t.Fatalf("Debugf logged %d lines while disabled", len(lines))
	}

	SetDebug(true)
	Debugf("tick %d", 2)
	if len(lines) != 1 {
		t.Fatalf("Debugf logged %d lines while enabled, want 1", len(lines))
	}
	if lines[0] != "[debug] tick 2" {
		t.Errorf("Debugf line = %q, want %q", lines[0], "[debug] tick 2")
	}
}
