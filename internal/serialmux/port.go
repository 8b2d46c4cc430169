package serialmux

import (
	"context"
	"io"
	"net/http"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Mux is the line-oriented view of the robot brain's serial link shared by
// the telemetry reader, the motor actuator and the debug routes.
type Mux interface {
	// Subscribe creates a new channel receiving every line read from the
	// port. The ID identifies the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe closes and removes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the port.
	SendCommand(string) error
	// Monitor reads lines from the port and fans them out until ctx is
	// done or the port reaches EOF.
	Monitor(context.Context) error
	// Close closes all subscriber channels and the port.
	Close() error
	// AttachAdminRoutes registers the serial debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

var (
	_ Mux = (*SerialMux[SerialPorter])(nil)
	_ Mux = (*DisabledSerialMux)(nil)
)
