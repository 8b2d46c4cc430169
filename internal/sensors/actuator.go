package sensors

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/odometry/internal/serialmux"
)

// MaxVoltage is the motor supply limit accepted by the robot brain.
const MaxVoltage = 12.0

// MotorCommand formats a drive command for the left and right motor groups,
// in volts, clamped to the supply limit.
func MotorCommand(left, right float64) string {
	return fmt.Sprintf("MTR %.2f %.2f", clampVolts(left), clampVolts(right))
}

func clampVolts(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-MaxVoltage, math.Min(MaxVoltage, v))
}

// SerialMotors drives the robot's motors by writing MTR commands to the
// serial link. Repeated identical commands are suppressed.
type SerialMotors struct {
	mux serialmux.Mux

	mu   sync.Mutex
	last string
}

// NewSerialMotors returns an actuator writing to mux.
func NewSerialMotors(mux serialmux.Mux) *SerialMotors {
	return &SerialMotors{mux: mux}
}

// Drive sets the left and right motor voltages.
func (m *SerialMotors) Drive(left, right float64) error {
	cmd := MotorCommand(left, right)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd == m.last {
		return nil
	}
	if err := m.mux.SendCommand(cmd); err != nil {
		return fmt.Errorf("drive motors: %w", err)
	}
	m.last = cmd
	return nil
}

// Stop sends a zero-voltage command unconditionally.
func (m *SerialMotors) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := MotorCommand(0, 0)
	if err := m.mux.SendCommand(cmd); err != nil {
		return fmt.Errorf("stop motors: %w", err)
	}
	m.last = cmd
	return nil
}

// ParseMotorCommand decodes an MTR command line. ok is false for any other
// line.
func ParseMotorCommand(line string) (left, right float64, ok bool) {
	n, err := fmt.Sscanf(line, "MTR %g %g", &left, &right)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return left, right, true
}
