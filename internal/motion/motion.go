// Package motion closes the loop between the tracked pose and the drive
// motors: it turns pose into PID error and PID output into motor voltages.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/pid"
	"github.com/banshee-data/odometry/internal/timeutil"
)

// ErrTimeout is returned when a move does not settle within its time limit.
var ErrTimeout = errors.New("motion did not settle before timeout")

// Actuator accepts left and right drive commands in volts.
type Actuator interface {
	Drive(left, right float64) error
	Stop() error
}

// PoseSource provides the current pose estimate.
type PoseSource interface {
	Position() odometry.Pose
}

// AngleError returns the shortest signed rotation from current to target in
// degrees, in (-180, 180]. Positive means clockwise.
func AngleError(target, current float64) float64 {
	e := math.Mod(target-current, 360)
	switch {
	case e > 180:
		e -= 360
	case e <= -180:
		e += 360
	}
	return e
}

// Run summarises one completed move.
type Run struct {
	Kind    string         `json:"kind"` // "turn" or "drive"
	Target  float64        `json:"target"`
	Gains   pid.Gains      `json:"gains"`
	Data    pid.TuningData `json:"tuning"`
	Settled bool           `json:"settled"`
	Start   odometry.Pose  `json:"start"`
	Final   odometry.Pose  `json:"final"`
	Started time.Time      `json:"started"`
}

// Controller executes moves against a pose source and an actuator.
type Controller struct {
	pose  PoseSource
	act   Actuator
	clock timeutil.Clock

	// Timeout bounds a single move. Zero means no limit.
	Timeout time.Duration
	// OnRun, when set, receives a summary of every finished move.
	OnRun func(Run)
}

// NewController returns a controller pacing its loops with clk.
func NewController(pose PoseSource, act Actuator, clk timeutil.Clock) *Controller {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Controller{pose: pose, act: act, clock: clk}
}

// TurnToHeading rotates in place until the heading error settles.
func (c *Controller) TurnToHeading(ctx context.Context, target float64, cfg config.PIDConfig) (Run, error) {
	start := c.pose.Position()
	turn, err := pid.NewFromConfig(cfg, AngleError(target, start.Heading))
	if err != nil {
		return Run{}, err
	}

	run := Run{Kind: "turn", Target: target, Gains: turn.Gains(), Start: start, Started: c.clock.Now()}
	err = c.loop(ctx, turn, func(p odometry.Pose) (left, right float64) {
		out := turn.Update(AngleError(target, p.Heading))
		return out, -out
	})
	return c.finish(run, turn, err)
}

// DriveDistance drives straight for distance along the starting heading,
// holding that heading with the turn controller. Negative distances reverse.
func (c *Controller) DriveDistance(ctx context.Context, distance float64, drive, hold config.PIDConfig) (Run, error) {
	start := c.pose.Position()
	sinH, cosH := math.Sincos(start.Heading * math.Pi / 180)
	travelled := func(p odometry.Pose) float64 {
		return (p.X-start.X)*sinH + (p.Y-start.Y)*cosH
	}

	dist, err := pid.NewFromConfig(drive, distance)
	if err != nil {
		return Run{}, err
	}
	heading, err := pid.NewFromConfig(hold, 0)
	if err != nil {
		return Run{}, err
	}

	run := Run{Kind: "drive", Target: distance, Gains: dist.Gains(), Start: start, Started: c.clock.Now()}
	err = c.loop(ctx, dist, func(p odometry.Pose) (left, right float64) {
		out := dist.Update(distance - travelled(p))
		correction := heading.Update(AngleError(start.Heading, p.Heading))
		return out + correction, out - correction
	})
	return c.finish(run, dist, err)
}

// loop runs one PID tick per controller period until settled. The motors
// are stopped on every exit path.
func (c *Controller) loop(ctx context.Context, ctrl *pid.Controller, step func(odometry.Pose) (float64, float64)) (err error) {
	defer func() {
		if stopErr := c.act.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("stop motors: %w", stopErr)
		}
	}()

	tick := ctrl.Options().Tick
	began := c.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Timeout > 0 && c.clock.Since(began) >= c.Timeout {
			return ErrTimeout
		}

		tickStart := c.clock.Now()
		left, right := step(c.pose.Position())
		if err := c.act.Drive(left, right); err != nil {
			return err
		}
		if ctrl.Settled() {
			return nil
		}

		remaining := tick - c.clock.Since(tickStart)
		if remaining < 0 {
			remaining = 0
		}
		c.clock.Sleep(remaining)
	}
}

func (c *Controller) finish(run Run, ctrl *pid.Controller, err error) (Run, error) {
	run.Data = ctrl.Data()
	run.Settled = ctrl.Settled()
	run.Final = c.pose.Position()
	monitoring.Logf("motion: %s to %.2f settled=%t overshoot=%.3f elapsed=%s final=%s",
		run.Kind, run.Target, run.Settled, run.Data.Overshoot, run.Data.Elapsed, run.Final)
	if c.OnRun != nil {
		c.OnRun(run)
	}
	return run, err
}
