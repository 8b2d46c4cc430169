package sim

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/sensors"
	"github.com/banshee-data/odometry/internal/timeutil"
)

// Port is a serialmux.SerialPorter backed by a simulated robot. Each Read
// that finds no pending output advances the robot by one period and emits a
// telemetry line; MTR commands written to the port set the drive voltages.
type Port struct {
	robot  *Robot
	clock  timeutil.Clock
	period time.Duration

	mu      sync.Mutex
	pending bytes.Buffer
	closed  bool

	commands []string
}

// NewPort returns a port emitting one line per period of clock time.
func NewPort(robot *Robot, clk timeutil.Clock, period time.Duration) *Port {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Port{robot: robot, clock: clk, period: period}
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if p.pending.Len() > 0 {
		defer p.mu.Unlock()
		return p.pending.Read(b)
	}
	p.mu.Unlock()

	p.clock.Sleep(p.period)
	p.robot.Advance(p.period)
	line := p.robot.Reading().Line() + "\n"

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	p.pending.WriteString(line)
	return p.pending.Read(b)
}

// Write implements io.Writer. Each newline-terminated command is applied to
// the robot; unknown commands are logged and ignored.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.commands = append(p.commands, line)
		if left, right, ok := sensors.ParseMotorCommand(line); ok {
			p.robot.SetVoltages(left, right)
			continue
		}
		monitoring.Logf("sim: ignoring command %q", line)
	}
	return len(b), nil
}

// Close implements io.Closer.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Commands returns every command written so far.
func (p *Port) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}
