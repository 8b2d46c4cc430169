package odometry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/odometry/internal/config"
)

// ErrInvalidCalibration is returned when calibration constants cannot drive
// the integrator.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Pose is the robot's position on the field and its absolute heading in
// degrees.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// String renders the pose for logs.
func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.2f°)", p.X, p.Y, p.Heading)
}

// Calibration describes where the tracking wheels sit relative to the
// tracking center and how far each travels per degree of rotation.
type Calibration struct {
	VerticalOffset           float64 // distance from tracking center to the vertical wheel
	HorizontalOffset         float64 // distance from tracking center to the horizontal wheel
	VerticalUnitsPerDegree   float64
	HorizontalUnitsPerDegree float64
	TickPeriod               time.Duration
}

// CalibrationFromConfig builds a Calibration from a loaded RobotConfig.
func CalibrationFromConfig(cfg *config.RobotConfig) Calibration {
	return Calibration{
		VerticalOffset:           cfg.GetVerticalOffset(),
		HorizontalOffset:         cfg.GetHorizontalOffset(),
		VerticalUnitsPerDegree:   cfg.GetVerticalUnitsPerDegree(),
		HorizontalUnitsPerDegree: cfg.GetHorizontalUnitsPerDegree(),
		TickPeriod:               cfg.GetTickPeriod(),
	}
}

// Validate reports configuration errors before a loop is started.
func (c Calibration) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("%w: tick period must be positive, got %s", ErrInvalidCalibration, c.TickPeriod)
	}
	for name, v := range map[string]float64{
		"vertical units per degree":   c.VerticalUnitsPerDegree,
		"horizontal units per degree": c.HorizontalUnitsPerDegree,
	} {
		if v == 0 || !finite(v) {
			return fmt.Errorf("%w: %s must be finite and non-zero, got %g", ErrInvalidCalibration, name, v)
		}
	}
	if !finite(c.VerticalOffset) || !finite(c.HorizontalOffset) {
		return fmt.Errorf("%w: wheel offsets must be finite", ErrInvalidCalibration)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180)
}
