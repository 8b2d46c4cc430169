// Package sim simulates a differential-drive robot with tracking wheels so
// the service can run end to end without hardware.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/sensors"
)

// Params describes the simulated chassis.
type Params struct {
	TrackWidth float64 // distance between left and right drive wheels
	MaxSpeed   float64 // linear speed of a drive side at full voltage, units/s

	VerticalOffset           float64
	HorizontalOffset         float64
	VerticalUnitsPerDegree   float64
	HorizontalUnitsPerDegree float64
}

// ParamsFromCalibration returns a chassis whose tracking wheels match cal.
func ParamsFromCalibration(cal odometry.Calibration) Params {
	return Params{
		TrackWidth:               12,
		MaxSpeed:                 60,
		VerticalOffset:           cal.VerticalOffset,
		HorizontalOffset:         cal.HorizontalOffset,
		VerticalUnitsPerDegree:   cal.VerticalUnitsPerDegree,
		HorizontalUnitsPerDegree: cal.HorizontalUnitsPerDegree,
	}
}

// Robot is the simulated ground truth. Heading grows clockwise from +Y.
type Robot struct {
	params Params

	mu          sync.Mutex
	x, y        float64
	thetaRad    float64
	vertical    float64 // wheel degrees
	horizontal  float64 // wheel degrees
	left, right float64 // volts
	uptime      time.Duration
}

// NewRobot returns a robot at the origin facing +Y.
func NewRobot(p Params) *Robot {
	return &Robot{params: p}
}

// SetVoltages sets the drive voltages, clamped to the motor supply.
func (r *Robot) SetVoltages(left, right float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = clamp(left)
	r.right = clamp(right)
}

// Voltages returns the current drive voltages.
func (r *Robot) Voltages() (left, right float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left, r.right
}

func clamp(v float64) float64 {
	return math.Max(-sensors.MaxVoltage, math.Min(sensors.MaxVoltage, v))
}

// Advance moves the robot for dt at the current voltages. Constant wheel
// speeds trace an exact circular arc.
func (r *Robot) Advance(dt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	secs := dt.Seconds()
	vl := r.left / sensors.MaxVoltage * r.params.MaxSpeed
	vr := r.right / sensors.MaxVoltage * r.params.MaxSpeed
	ds := (vl + vr) / 2 * secs
	var dTheta float64
	if r.params.TrackWidth > 0 {
		dTheta = (vl - vr) / r.params.TrackWidth * secs
	}
	r.move(ds, dTheta)
	r.uptime += dt
}

// Move applies a body-frame motion directly: ds forward along the arc and
// dTheta radians of clockwise rotation.
func (r *Robot) Move(ds, dTheta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.move(ds, dTheta)
}

func (r *Robot) move(ds, dTheta float64) {
	theta := r.thetaRad
	if dTheta == 0 {
		r.x += ds * math.Sin(theta)
		r.y += ds * math.Cos(theta)
	} else {
		radius := ds / dTheta
		r.x += radius * (math.Cos(theta) - math.Cos(theta+dTheta))
		r.y += radius * (math.Sin(theta+dTheta) - math.Sin(theta))
	}
	r.thetaRad += dTheta

	// each tracking wheel rolls along its own arc about the turn center
	r.vertical += (ds - r.params.VerticalOffset*dTheta) / r.params.VerticalUnitsPerDegree
	r.horizontal += (-r.params.HorizontalOffset * dTheta) / r.params.HorizontalUnitsPerDegree
}

// Reading returns what the robot brain would report now.
func (r *Robot) Reading() sensors.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readingLocked()
}

func (r *Robot) readingLocked() sensors.Reading {
	rot := r.thetaRad * 180 / math.Pi
	hdg := math.Mod(rot, 360)
	if hdg < 0 {
		hdg += 360
	}
	return sensors.Reading{
		UptimeMs:   r.uptime.Milliseconds(),
		Vertical:   r.vertical,
		Horizontal: r.horizontal,
		Rotation:   rot,
		Heading:    hdg,
	}
}

// Truth returns the simulated pose.
func (r *Robot) Truth() odometry.Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return odometry.Pose{X: r.x, Y: r.y, Heading: r.readingLocked().Heading}
}
