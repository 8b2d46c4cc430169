package odometry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/timeutil"
)

var (
	// ErrAlreadyRunning is returned when Run or Start is called on a
	// tracker whose loop is active.
	ErrAlreadyRunning = errors.New("odometry loop already running")
	// ErrSensorUnavailable is returned by Run once the configured number of
	// consecutive ticks failed to sample the sensors.
	ErrSensorUnavailable = errors.New("tracking sensors unavailable")
)

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithClock paces the loop with c instead of the wall clock.
func WithClock(c timeutil.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithMaxSensorFailures halts Run after n consecutive failed ticks. Zero
// keeps retrying forever.
func WithMaxSensorFailures(n int) TrackerOption {
	return func(t *Tracker) { t.maxFailures = n }
}

// WithObserver registers a callback that receives every integrated pose. It
// runs on the loop goroutine after the pose lock is released and must not
// block.
func WithObserver(fn func(Pose)) TrackerOption {
	return func(t *Tracker) { t.observer = fn }
}

// WithSnapshot reads wheels and rotation from s in one call instead of
// polling the wheel sources and heading sensor separately. Use it when all
// three come from the same reading.
func WithSnapshot(s SnapshotSource) TrackerOption {
	return func(t *Tracker) { t.snapshot = s }
}

// Tracker runs the Integrator at a fixed period and owns the shared Pose.
// All accessors are safe for concurrent use with the loop.
type Tracker struct {
	vertical   DisplacementSource
	horizontal DisplacementSource
	imu        HeadingSensor
	cal        Calibration
	integ      Integrator

	snapshot    SnapshotSource
	clock       timeutil.Clock
	maxFailures int
	observer    func(Pose)

	// mu guards the pose and the tracking snapshot. A tick holds it from
	// sampling until the pose is updated, so heading resets never land
	// mid-tick.
	mu     sync.Mutex
	pose   Pose
	prev   Sample
	seeded bool

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
}

// NewTracker builds a tracker polling the given wheels and inertial sensor.
// The tracker borrows the sensors and never closes them.
func NewTracker(vertical, horizontal DisplacementSource, imu HeadingSensor, cal Calibration, opts ...TrackerOption) (*Tracker, error) {
	if vertical == nil || horizontal == nil || imu == nil {
		return nil, errors.New("odometry: tracker requires both wheels and a heading sensor")
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		vertical:   vertical,
		horizontal: horizontal,
		imu:        imu,
		cal:        cal,
		integ:      NewIntegrator(cal),
		clock:      timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Calibration returns the constants the tracker was built with.
func (t *Tracker) Calibration() Calibration {
	return t.cal
}

// sample reads and linearises the wheels and rotation. Callers hold t.mu.
func (t *Tracker) sample() (Sample, error) {
	if t.snapshot != nil {
		v, h, rot, err := t.snapshot.Snapshot()
		if err != nil {
			return Sample{}, fmt.Errorf("snapshot: %w", err)
		}
		return t.linearise(v, h, rot), nil
	}
	v, err := t.vertical.PositionDegrees()
	if err != nil {
		return Sample{}, fmt.Errorf("vertical wheel: %w", err)
	}
	h, err := t.horizontal.PositionDegrees()
	if err != nil {
		return Sample{}, fmt.Errorf("horizontal wheel: %w", err)
	}
	rot, err := t.imu.Rotation()
	if err != nil {
		return Sample{}, fmt.Errorf("rotation: %w", err)
	}
	return t.linearise(v, h, rot), nil
}

func (t *Tracker) linearise(v, h, rot float64) Sample {
	return Sample{
		Vertical:   v * t.cal.VerticalUnitsPerDegree,
		Horizontal: h * t.cal.HorizontalUnitsPerDegree,
		HeadingRad: degToRad(rot),
	}
}

// Step runs exactly one tick. The first successful call after construction
// or after the loop stops seeds the tracking snapshot and refreshes the
// heading without integrating. A failed sample
// leaves the pose and snapshot untouched, so the next good tick integrates
// across the gap.
func (t *Tracker) Step() error {
	t.mu.Lock()

	cur, err := t.sample()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	heading, err := t.imu.Heading()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("heading: %w", err)
	}
	if !t.seeded {
		t.prev = cur
		t.seeded = true
		t.pose.Heading = heading
		t.mu.Unlock()
		return nil
	}

	d := t.integ.Step(t.prev, cur)
	t.prev = cur
	t.pose.X += d.X
	t.pose.Y += d.Y
	t.pose.Heading = heading
	pose := t.pose
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(pose)
	}
	return nil
}

// Run blocks, stepping once per tick period until Stop is called or ctx is
// done. Both are observed at the top of the next tick. Run returns nil after
// Stop, ctx.Err() after cancellation and an ErrSensorUnavailable error when
// the sensor failure budget is exhausted.
func (t *Tracker) Run(ctx context.Context) error {
	stop, err := t.begin()
	if err != nil {
		return err
	}
	defer t.end()
	return t.loop(ctx, stop)
}

// Start launches Run on a new goroutine. The returned channel receives the
// loop's result and is then closed.
func (t *Tracker) Start(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	stop, err := t.begin()
	if err != nil {
		errc <- err
		close(errc)
		return errc
	}
	go func() {
		defer close(errc)
		defer t.end()
		errc <- t.loop(ctx, stop)
	}()
	return errc
}

// Stop requests loop termination. It is safe to call at any time and more
// than once.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Running reports whether the loop is active.
func (t *Tracker) Running() bool {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.running
}

func (t *Tracker) begin() (chan struct{}, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return nil, ErrAlreadyRunning
	}
	t.running = true
	t.stop = make(chan struct{})
	return t.stop, nil
}

func (t *Tracker) end() {
	t.runMu.Lock()
	t.running = false
	t.stop = nil
	t.runMu.Unlock()

	// the tracking snapshot lives only as long as the loop
	t.mu.Lock()
	t.seeded = false
	t.mu.Unlock()
}

func (t *Tracker) loop(ctx context.Context, stop <-chan struct{}) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		start := t.clock.Now()
		if err := t.Step(); err != nil {
			failures++
			if failures == 1 || failures%25 == 0 {
				monitoring.Logf("odometry: skipped tick (%d consecutive): %v", failures, err)
			}
			if t.maxFailures > 0 && failures >= t.maxFailures {
				return fmt.Errorf("%w after %d consecutive failed ticks: %w", ErrSensorUnavailable, failures, err)
			}
		} else {
			if failures > 0 {
				monitoring.Logf("odometry: sensors recovered after %d skipped ticks", failures)
			}
			failures = 0
		}

		remaining := t.cal.TickPeriod - t.clock.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		monitoring.Debugf("odometry: tick took %s", t.cal.TickPeriod-remaining)
		t.clock.Sleep(remaining)
	}
}

// Position returns a consistent copy of the full pose.
func (t *Tracker) Position() Pose {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pose
}

// X returns the field X coordinate.
func (t *Tracker) X() float64 {
	return t.Position().X
}

// Y returns the field Y coordinate.
func (t *Tracker) Y() float64 {
	return t.Position().Y
}

// Heading returns the absolute heading in degrees.
func (t *Tracker) Heading() float64 {
	return t.Position().Heading
}

// SetPosition overwrites the pose and re-references the heading sensor.
func (t *Tracker) SetPosition(x, y, heading float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.resetHeading(heading); err != nil {
		return err
	}
	t.pose = Pose{X: x, Y: y, Heading: heading}
	return nil
}

// PoseUpdate names the pose fields to overwrite. Nil fields keep their
// current value.
type PoseUpdate struct {
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Heading *float64 `json:"heading"`
}

// UpdatePosition applies u in one step with respect to the loop and returns
// the resulting pose. A heading in u re-references the heading sensor; if
// that fails nothing changes.
func (t *Tracker) UpdatePosition(u PoseUpdate) (Pose, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u.Heading != nil {
		if err := t.resetHeading(*u.Heading); err != nil {
			return t.pose, err
		}
		t.pose.Heading = *u.Heading
	}
	if u.X != nil {
		t.pose.X = *u.X
	}
	if u.Y != nil {
		t.pose.Y = *u.Y
	}
	return t.pose, nil
}

// SetX overwrites the field X coordinate.
func (t *Tracker) SetX(x float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pose.X = x
}

// SetY overwrites the field Y coordinate.
func (t *Tracker) SetY(y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pose.Y = y
}

// SetHeading overwrites the heading and re-references the heading sensor.
func (t *Tracker) SetHeading(heading float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.resetHeading(heading); err != nil {
		return err
	}
	t.pose.Heading = heading
	return nil
}

// resetHeading moves the sensor's heading and rotation references and
// re-seeds the snapshot so the next tick sees no spurious rotation.
// Callers hold t.mu.
func (t *Tracker) resetHeading(deg float64) error {
	if err := t.imu.SetHeading(deg); err != nil {
		return fmt.Errorf("set sensor heading: %w", err)
	}
	if err := t.imu.SetRotation(deg); err != nil {
		return fmt.Errorf("set sensor rotation: %w", err)
	}
	if t.seeded {
		t.prev.HeadingRad = degToRad(deg)
	}
	return nil
}

// TickPeriod returns the loop period.
func (t *Tracker) TickPeriod() time.Duration {
	return t.cal.TickPeriod
}
