package odometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const eps = 1e-9

func TestLocal_ZeroRotationUsesRawDeltas(t *testing.T) {
	t.Parallel()
	in := Integrator{VerticalOffset: 3.5, HorizontalOffset: -2}

	for _, d := range []struct{ v, h float64 }{
		{0, 0}, {1, 0}, {0, 1}, {-4.25, 7.5}, {1e-12, -1e-12},
	} {
		x, y := in.Local(d.v, d.h, 0)
		assert.Equal(t, d.h, x, "local x should equal raw horizontal delta")
		assert.Equal(t, d.v, y, "local y should equal raw vertical delta")
	}
}

func TestLocal_ArcCorrection(t *testing.T) {
	t.Parallel()
	in := Integrator{VerticalOffset: 1, HorizontalOffset: 0.5}
	dTheta := 0.2

	x, y := in.Local(3, 0.4, dTheta)
	chord := 2 * math.Sin(dTheta/2)
	assert.InDelta(t, chord*(0.4/dTheta+0.5), x, eps)
	assert.InDelta(t, chord*(3/dTheta+1), y, eps)
}

func TestPolar_NoMotion(t *testing.T) {
	t.Parallel()
	angle, radius := Polar(0, 0)
	assert.Equal(t, 0.0, angle)
	assert.Equal(t, 0.0, radius)
	assert.False(t, math.IsNaN(angle))

	// negative zero must take the same branch
	angle, radius = Polar(math.Copysign(0, -1), 0)
	assert.Equal(t, 0.0, angle)
	assert.Equal(t, 0.0, radius)
}

func TestPolar(t *testing.T) {
	t.Parallel()
	angle, radius := Polar(3, 4)
	assert.InDelta(t, math.Atan2(4, 3), angle, eps)
	assert.InDelta(t, 5, radius, eps)
}

func TestStep_StraightLine(t *testing.T) {
	t.Parallel()
	in := Integrator{VerticalOffset: 0.25, HorizontalOffset: -2.5}

	tests := []struct {
		name           string
		heading        float64 // radians, held constant
		dV, dH         float64
		wantDX, wantDY float64
	}{
		{name: "forward at heading 0", dV: 1.5, wantDY: 1.5},
		{name: "strafe right at heading 0", dH: 2, wantDX: 2},
		{name: "forward facing east", heading: math.Pi / 2, dV: 1, wantDX: 1},
		{name: "forward facing south", heading: math.Pi, dV: 1, wantDY: -1},
		{name: "reverse at heading 0", dV: -0.75, wantDY: -0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const ticks = 100
			var x, y float64
			prev := Sample{HeadingRad: tt.heading}
			for i := 0; i < ticks; i++ {
				cur := Sample{
					Vertical:   prev.Vertical + tt.dV,
					Horizontal: prev.Horizontal + tt.dH,
					HeadingRad: tt.heading,
				}
				d := in.Step(prev, cur)
				x += d.X
				y += d.Y
				prev = cur
			}
			assert.InDelta(t, ticks*tt.wantDX, x, 1e-9*ticks)
			assert.InDelta(t, ticks*tt.wantDY, y, 1e-9*ticks)
		})
	}
}

func TestStep_PureRotation(t *testing.T) {
	t.Parallel()

	// wheel on the tracking center: spinning in place goes nowhere
	centred := Integrator{}
	d := centred.Step(Sample{}, Sample{HeadingRad: math.Pi / 2})
	assert.InDelta(t, 0, d.X, eps)
	assert.InDelta(t, 0, d.Y, eps)

	// offset wheel: the center sweeps a quarter arc of radius 1, chord sqrt(2)
	offset := Integrator{VerticalOffset: 1}
	d = offset.Step(Sample{}, Sample{HeadingRad: math.Pi / 2})
	assert.InDelta(t, 1, d.X, eps)
	assert.InDelta(t, 1, d.Y, eps)

	// displacement scales with the offset
	double := Integrator{VerticalOffset: 2}
	d2 := double.Step(Sample{}, Sample{HeadingRad: math.Pi / 2})
	assert.InDelta(t, 2*math.Hypot(d.X, d.Y), math.Hypot(d2.X, d2.Y), eps)
}

// A constant-curvature path is integrated exactly by the chord model, so a
// quarter circle driven in many ticks must land on the analytic endpoint.
func TestStep_ConstantArc(t *testing.T) {
	t.Parallel()
	const (
		radius = 24.0
		ticks  = 360
	)
	in := Integrator{VerticalOffset: 0.25, HorizontalOffset: -2.5}
	dTheta := (math.Pi / 2) / ticks

	var x, y float64
	prev := Sample{}
	for i := 0; i < ticks; i++ {
		cur := Sample{
			// each wheel travels (R - offset) * dTheta about the turn center
			Vertical:   prev.Vertical + (radius-in.VerticalOffset)*dTheta,
			Horizontal: prev.Horizontal + (0-in.HorizontalOffset)*dTheta,
			HeadingRad: prev.HeadingRad + dTheta,
		}
		d := in.Step(prev, cur)
		x += d.X
		y += d.Y
		prev = cur
	}

	// clockwise turn from heading 0 about (R, 0) ends at (R, R)
	assert.InDelta(t, radius, x, 1e-9)
	assert.InDelta(t, radius, y, 1e-9)
}

// Rotating by the mid-tick heading beats either endpoint for a single
// coarse tick.
func TestStep_MidpointHeading(t *testing.T) {
	t.Parallel()
	in := Integrator{}
	dTheta := 0.5
	arc := 10.0
	d := in.Step(Sample{}, Sample{Vertical: arc, HeadingRad: dTheta})

	R := arc / dTheta
	wantX := R - R*math.Cos(dTheta)
	wantY := R * math.Sin(dTheta)
	assert.InDelta(t, wantX, d.X, 1e-9)
	assert.InDelta(t, wantY, d.Y, 1e-9)
}
