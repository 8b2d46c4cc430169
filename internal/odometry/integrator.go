package odometry

import "math"

// Sample is one tick's linearised sensor reading: cumulative wheel travel in
// linear units and cumulative rotation in radians.
type Sample struct {
	Vertical   float64
	Horizontal float64
	HeadingRad float64
}

// Displacement is the field-frame motion of the tracking center over one tick.
type Displacement struct {
	X float64
	Y float64
}

// Integrator converts consecutive samples into field-frame displacements.
// It is stateless apart from the wheel offsets; the caller keeps the
// previous sample.
type Integrator struct {
	VerticalOffset   float64
	HorizontalOffset float64
}

// NewIntegrator returns an Integrator for the calibrated wheel offsets.
func NewIntegrator(cal Calibration) Integrator {
	return Integrator{
		VerticalOffset:   cal.VerticalOffset,
		HorizontalOffset: cal.HorizontalOffset,
	}
}

// Local returns the robot-frame displacement for one tick. With no heading
// change the wheel deltas are the displacement. Otherwise each wheel swept an
// arc of radius delta/dTheta + offset about the turn center, and the chord
// 2*sin(dTheta/2)*radius replaces the arc.
func (in Integrator) Local(dVertical, dHorizontal, dTheta float64) (x, y float64) {
	if dTheta == 0 {
		return dHorizontal, dVertical
	}
	chord := 2 * math.Sin(dTheta/2)
	x = chord * (dHorizontal/dTheta + in.HorizontalOffset)
	y = chord * (dVertical/dTheta + in.VerticalOffset)
	return x, y
}

// Polar converts a local displacement to angle and radius. No motion maps to
// (0, 0) explicitly rather than through atan2(0, 0).
func Polar(x, y float64) (angle, radius float64) {
	if x == 0 && y == 0 {
		return 0, 0
	}
	return math.Atan2(y, x), math.Hypot(x, y)
}

// Step returns the field-frame displacement between prev and cur. The local
// vector is rotated by the average heading over the tick.
func (in Integrator) Step(prev, cur Sample) Displacement {
	dTheta := cur.HeadingRad - prev.HeadingRad
	localX, localY := in.Local(cur.Vertical-prev.Vertical, cur.Horizontal-prev.Horizontal, dTheta)

	angle, radius := Polar(localX, localY)
	global := angle - prev.HeadingRad - dTheta/2

	return Displacement{
		X: radius * math.Cos(global),
		Y: radius * math.Sin(global),
	}
}
