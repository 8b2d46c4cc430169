package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.einride.tech/can"

	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/timeutil"
)

// Default frame IDs broadcast by the wheel encoder boards.
const (
	DefaultVerticalFrameID   uint32 = 0x181
	DefaultHorizontalFrameID uint32 = 0x182
)

// centiDegrees is the scale of the signed 32-bit position signal.
const centiDegrees = 100.0

// FrameReceiver is the subset of socketcan.Receiver used to consume frames.
type FrameReceiver interface {
	Receive() bool
	Frame() can.Frame
	Err() error
}

// EncodeWheelFrame builds the frame an encoder board broadcasts for a wheel
// position in degrees: a little-endian int32 of centi-degrees in bytes 0-3.
func EncodeWheelFrame(id uint32, degrees float64) can.Frame {
	f := can.Frame{ID: id, Length: 4}
	f.Data.SetSignedBitsLittleEndian(0, 32, int64(math.Round(degrees*centiDegrees)))
	return f
}

// DecodeWheelFrame extracts the wheel position in degrees.
func DecodeWheelFrame(f can.Frame) (float64, error) {
	if f.IsRemote || f.Length < 4 {
		return 0, fmt.Errorf("%w: wheel frame 0x%X has length %d", ErrMalformed, f.ID, f.Length)
	}
	raw := f.Data.SignedBitsLittleEndian(0, 32)
	return float64(raw) / centiDegrees, nil
}

type wheelState struct {
	degrees float64
	at      time.Time
	have    bool
}

// CANWheels holds the newest position of each tracking wheel decoded from
// encoder frames on a CAN bus.
type CANWheels struct {
	clock        timeutil.Clock
	staleAfter   time.Duration
	verticalID   uint32
	horizontalID uint32

	mu         sync.Mutex
	vertical   wheelState
	horizontal wheelState
	frames     uint64
	ignored    uint64
}

// NewCANWheels returns a store listening for the given frame IDs. A zero
// staleAfter disables the staleness check.
func NewCANWheels(verticalID, horizontalID uint32, clk timeutil.Clock, staleAfter time.Duration) *CANWheels {
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	return &CANWheels{
		clock:        clk,
		staleAfter:   staleAfter,
		verticalID:   verticalID,
		horizontalID: horizontalID,
	}
}

// HandleFrame stores a wheel frame. Frames with other IDs are ignored.
func (w *CANWheels) HandleFrame(f can.Frame) error {
	var st *wheelState
	w.mu.Lock()
	defer w.mu.Unlock()
	switch f.ID {
	case w.verticalID:
		st = &w.vertical
	case w.horizontalID:
		st = &w.horizontal
	default:
		w.ignored++
		return nil
	}
	deg, err := DecodeWheelFrame(f)
	if err != nil {
		w.ignored++
		return err
	}
	w.frames++
	*st = wheelState{degrees: deg, at: w.clock.Now(), have: true}
	return nil
}

// Consume feeds frames from recv into the store until the receiver stops.
// It returns the receiver's error, nil on a clean close.
func (w *CANWheels) Consume(recv FrameReceiver) error {
	for recv.Receive() {
		if err := w.HandleFrame(recv.Frame()); err != nil {
			monitoring.Debugf("sensors: %v", err)
		}
	}
	return recv.Err()
}

// Stats reports decoded and ignored frame counts.
func (w *CANWheels) Stats() (frames, ignored uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.ignored
}

func (w *CANWheels) read(st *wheelState, name string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !st.have {
		return 0, fmt.Errorf("%s wheel: %w", name, ErrNoTelemetry)
	}
	if w.staleAfter > 0 {
		if age := w.clock.Since(st.at); age > w.staleAfter {
			return 0, fmt.Errorf("%s wheel: %w: last frame %s old", name, ErrStale, age)
		}
	}
	return st.degrees, nil
}

// VerticalWheel returns the vertical wheel as a displacement source.
func (w *CANWheels) VerticalWheel() odometry.DisplacementSource {
	return odometry.DisplacementFunc(func() (float64, error) {
		return w.read(&w.vertical, "vertical")
	})
}

// HorizontalWheel returns the horizontal wheel as a displacement source.
func (w *CANWheels) HorizontalWheel() odometry.DisplacementSource {
	return odometry.DisplacementFunc(func() (float64, error) {
		return w.read(&w.horizontal, "horizontal")
	})
}

// RunBus consumes frames from bus until ctx is done, closing the bus to
// unblock the receiver.
func (w *CANWheels) RunBus(ctx context.Context, bus *CANBus) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			bus.Close()
		case <-done:
		}
	}()

	err := w.Consume(bus.Receiver())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
