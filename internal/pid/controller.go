// Package pid implements a fixed-tick PID feedback controller with integral
// anti-windup, output clamping and settle-time detection.
//
// A Controller is driven synchronously, one Update per control tick, and is
// not safe for concurrent use.
package pid

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/odometry/internal/config"
)

// ErrInvalidOptions is returned by New for limits or durations that cannot
// drive a controller.
var ErrInvalidOptions = errors.New("invalid pid options")

// DefaultTick is the control period assumed when none is configured.
const DefaultTick = 10 * time.Millisecond

// Gains are the proportional, integral and derivative constants.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// Options are the controller's tolerances, limits and timing.
type Options struct {
	// IntegralTolerance is the error magnitude below which the integral
	// term accumulates.
	IntegralTolerance float64
	// SettleTolerance is the error magnitude below which a tick counts
	// toward settling.
	SettleTolerance float64
	// SettleTime is how long the error must stay inside SettleTolerance.
	SettleTime time.Duration
	OutputMin  float64
	OutputMax  float64
	// Tick is the period between Update calls.
	Tick time.Duration
}

// Validate reports options New would reject.
func (o Options) Validate() error {
	if o.OutputMin > o.OutputMax {
		return fmt.Errorf("%w: output min %g exceeds max %g", ErrInvalidOptions, o.OutputMin, o.OutputMax)
	}
	if o.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive, got %s", ErrInvalidOptions, o.Tick)
	}
	if o.IntegralTolerance < 0 || o.SettleTolerance < 0 {
		return fmt.Errorf("%w: tolerances must be non-negative", ErrInvalidOptions)
	}
	if o.SettleTime < 0 {
		return fmt.Errorf("%w: settle time must be non-negative, got %s", ErrInvalidOptions, o.SettleTime)
	}
	return nil
}

// TuningData is the diagnostic view used when tuning gains.
type TuningData struct {
	// Overshoot is the smallest error seen so far, measured in the direction
	// of the initial error. It starts at |initialError| and goes negative
	// once the error crosses past zero.
	Overshoot float64       `json:"overshoot"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Controller is a PID controller.
type Controller struct {
	gains Gains
	opts  Options

	err         float64
	prevErr     float64
	integral    float64
	timeSettled time.Duration
	elapsed     time.Duration

	initialSign float64
	data        TuningData
}

// New returns a controller primed with the error it starts from.
func New(g Gains, opts Options, initialError float64) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{gains: g, opts: opts}
	c.Reset(initialError)
	return c, nil
}

// OptionsFromConfig converts a config block into controller options. An
// unset tick falls back to DefaultTick.
func OptionsFromConfig(p config.PIDConfig) Options {
	return Options{
		IntegralTolerance: p.IntegralTolerance,
		SettleTolerance:   p.SettleTolerance,
		SettleTime:        p.GetSettleTime(),
		OutputMin:         p.OutputMin,
		OutputMax:         p.OutputMax,
		Tick:              p.GetTick(),
	}
}

// NewFromConfig builds a controller from a config block.
func NewFromConfig(p config.PIDConfig, initialError float64) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return New(Gains{Kp: p.Kp, Ki: p.Ki, Kd: p.Kd}, OptionsFromConfig(p), initialError)
}

// sgn returns -1 for negative input and +1 otherwise, zero included.
func sgn(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Update feeds one tick's error and returns the clamped output.
func (c *Controller) Update(e float64) float64 {
	c.prevErr = c.err
	c.err = e

	abs := math.Abs(e)
	if abs < c.opts.IntegralTolerance {
		c.integral += e
	}
	if sgn(e) != sgn(c.prevErr) || e == 0 || abs > c.opts.IntegralTolerance {
		c.integral = 0
	}

	out := c.gains.Kp*e + c.gains.Ki*c.integral + c.gains.Kd*(e-c.prevErr)

	if abs < c.opts.SettleTolerance {
		c.timeSettled += c.opts.Tick
	} else {
		c.timeSettled = 0
	}
	c.elapsed += c.opts.Tick

	if directed := c.initialSign * e; directed < c.data.Overshoot {
		c.data.Overshoot = directed
	}
	c.data.Elapsed = c.elapsed

	return clamp(out, c.opts.OutputMin, c.opts.OutputMax)
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// Settled reports whether the error has stayed inside the settle tolerance
// for at least the settle time.
func (c *Controller) Settled() bool {
	return c.timeSettled >= c.opts.SettleTime
}

// Data returns the current tuning diagnostics.
func (c *Controller) Data() TuningData {
	return c.data
}

// Integral returns the accumulated integral term.
func (c *Controller) Integral() float64 {
	return c.integral
}

// Error returns the most recent error.
func (c *Controller) Error() float64 {
	return c.err
}

// Gains returns the controller's gains.
func (c *Controller) Gains() Gains {
	return c.gains
}

// Options returns the controller's options.
func (c *Controller) Options() Options {
	return c.opts
}

// Reset clears all accumulated state and primes the controller for a new
// move starting at initialError.
func (c *Controller) Reset(initialError float64) {
	c.err = initialError
	c.prevErr = 0
	c.integral = 0
	c.timeSettled = 0
	c.elapsed = 0
	c.initialSign = sgn(initialError)
	c.data = TuningData{Overshoot: math.Abs(initialError)}
}
