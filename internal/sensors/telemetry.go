// Package sensors adapts the robot brain's telemetry streams to the odometry
// sensor contracts and drives the motors over the same serial link.
package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/serialmux"
	"github.com/banshee-data/odometry/internal/timeutil"
)

var (
	// ErrStale is returned when the newest reading is older than the
	// staleness window.
	ErrStale = errors.New("telemetry is stale")
	// ErrNoTelemetry is returned before the first reading arrives.
	ErrNoTelemetry = errors.New("no telemetry received")
	// ErrMalformed is returned by ParseReading for lines that are not a
	// complete telemetry record.
	ErrMalformed = errors.New("malformed telemetry line")
)

// Reading is one telemetry record from the robot brain.
//
//	{"t":123456,"v":1520.5,"h":-33.25,"rot":187.4,"hdg":187.4}
type Reading struct {
	UptimeMs   int64   `json:"t"`
	Vertical   float64 `json:"v"`   // vertical wheel, cumulative degrees
	Horizontal float64 `json:"h"`   // horizontal wheel, cumulative degrees
	Rotation   float64 `json:"rot"` // unwrapped cumulative rotation, degrees
	Heading    float64 `json:"hdg"` // absolute heading, [0, 360)
}

type rawReading struct {
	UptimeMs   *int64   `json:"t"`
	Vertical   *float64 `json:"v"`
	Horizontal *float64 `json:"h"`
	Rotation   *float64 `json:"rot"`
	Heading    *float64 `json:"hdg"`
}

// ParseReading decodes one telemetry line. Every field must be present.
func ParseReading(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Reading{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var raw rawReading
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if raw.UptimeMs == nil || raw.Vertical == nil || raw.Horizontal == nil || raw.Rotation == nil || raw.Heading == nil {
		return Reading{}, fmt.Errorf("%w: missing field", ErrMalformed)
	}
	return Reading{
		UptimeMs:   *raw.UptimeMs,
		Vertical:   *raw.Vertical,
		Horizontal: *raw.Horizontal,
		Rotation:   *raw.Rotation,
		Heading:    *raw.Heading,
	}, nil
}

// Line encodes r in the telemetry wire format.
func (r Reading) Line() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// Telemetry keeps the newest reading from the robot brain and serves it to
// the tracker. It implements odometry.HeadingSensor and
// odometry.SnapshotSource; heading and rotation resets are applied as local
// offsets so they take effect on the very next read without a round trip to
// the device. When the brain reboots, every counter is re-based so reads
// continue from the last value seen before the reboot.
type Telemetry struct {
	clock      timeutil.Clock
	staleAfter time.Duration

	mu             sync.Mutex
	latest         Reading
	receivedAt     time.Time
	have           bool
	headingOffset  float64
	rotationOffset float64

	verticalOffset   float64
	horizontalOffset float64

	malformed uint64
	restarts  uint64
}

// NewTelemetry returns an empty store. A zero staleAfter disables the
// staleness check.
func NewTelemetry(clk timeutil.Clock, staleAfter time.Duration) *Telemetry {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &Telemetry{clock: clk, staleAfter: staleAfter}
}

// Update stores r as the newest reading.
func (t *Telemetry) Update(r Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.have && r.UptimeMs < t.latest.UptimeMs {
		// uptime going backwards means the brain rebooted and its
		// cumulative counters restarted. Motion during the reboot is lost.
		t.restarts++
		t.verticalOffset += t.latest.Vertical - r.Vertical
		t.horizontalOffset += t.latest.Horizontal - r.Horizontal
		t.rotationOffset += t.latest.Rotation - r.Rotation
		t.headingOffset += t.latest.Heading - r.Heading
		monitoring.Logf("sensors: robot brain uptime went from %dms to %dms, counters re-based", t.latest.UptimeMs, r.UptimeMs)
	}
	t.latest = r
	t.receivedAt = t.clock.Now()
	t.have = true
}

// HandleLine parses and stores one line. Lines that are not telemetry are
// counted and returned as ErrMalformed.
func (t *Telemetry) HandleLine(line string) error {
	r, err := ParseReading(line)
	if err != nil {
		t.mu.Lock()
		t.malformed++
		t.mu.Unlock()
		return err
	}
	t.Update(r)
	return nil
}

// Consume subscribes to mux and stores every telemetry line until ctx is
// done or the subscription closes.
func (t *Telemetry) Consume(ctx context.Context, mux serialmux.Mux) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := t.HandleLine(line); err != nil {
				monitoring.Debugf("sensors: ignoring line %q: %v", line, err)
			}
		}
	}
}

// WaitReady blocks until a reading has arrived or ctx is done.
func (t *Telemetry) WaitReady(ctx context.Context, poll time.Duration) error {
	for {
		if _, err := t.Latest(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for telemetry: %w", ctx.Err())
		case <-time.After(poll):
		}
	}
}

// Latest returns the newest reading, or an error when none is fresh.
func (t *Telemetry) Latest() (Reading, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latestLocked()
}

func (t *Telemetry) latestLocked() (Reading, error) {
	if !t.have {
		return Reading{}, ErrNoTelemetry
	}
	if t.staleAfter > 0 {
		if age := t.clock.Since(t.receivedAt); age > t.staleAfter {
			return Reading{}, fmt.Errorf("%w: last reading %s old", ErrStale, age)
		}
	}
	return t.latest, nil
}

// Stats reports counters for the debug page.
func (t *Telemetry) Stats() (malformed, restarts uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.malformed, t.restarts
}

// Snapshot returns both wheels and the rotation from the same reading.
func (t *Telemetry) Snapshot() (vertical, horizontal, rotation float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.latestLocked()
	if err != nil {
		return 0, 0, 0, err
	}
	return r.Vertical + t.verticalOffset, r.Horizontal + t.horizontalOffset, r.Rotation + t.rotationOffset, nil
}

// VerticalWheel returns the vertical tracking wheel as a displacement source.
func (t *Telemetry) VerticalWheel() odometry.DisplacementSource {
	return odometry.DisplacementFunc(func() (float64, error) {
		v, _, _, err := t.Snapshot()
		return v, err
	})
}

// HorizontalWheel returns the horizontal tracking wheel as a displacement
// source.
func (t *Telemetry) HorizontalWheel() odometry.DisplacementSource {
	return odometry.DisplacementFunc(func() (float64, error) {
		_, h, _, err := t.Snapshot()
		return h, err
	})
}

// Heading returns the re-referenced absolute heading in [0, 360).
func (t *Telemetry) Heading() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.latestLocked()
	if err != nil {
		return 0, err
	}
	return wrap360(r.Heading + t.headingOffset), nil
}

// Rotation returns the re-referenced cumulative rotation.
func (t *Telemetry) Rotation() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.latestLocked()
	if err != nil {
		return 0, err
	}
	return r.Rotation + t.rotationOffset, nil
}

// SetHeading makes the current heading read as deg.
func (t *Telemetry) SetHeading(deg float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.latestLocked()
	if err != nil {
		return err
	}
	t.headingOffset = deg - r.Heading
	return nil
}

// SetRotation makes the current cumulative rotation read as deg.
func (t *Telemetry) SetRotation(deg float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.latestLocked()
	if err != nil {
		return err
	}
	t.rotationOffset = deg - r.Rotation
	return nil
}

func wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

var (
	_ odometry.HeadingSensor  = (*Telemetry)(nil)
	_ odometry.SnapshotSource = (*Telemetry)(nil)
)
