package api

import (
	"fmt"
	"os"
	"testing"

	"github.com/banshee-data/odometry/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func captureLogs(into *[]string) (restore func()) {
	monitoring.SetLogger(func(format string, v ...interface{}) {
		*into = append(*into, fmt.Sprintf(format, v...))
	})
	return func() { monitoring.SetLogger(nil) }
}
