//go:build !linux

package sensors

import (
	"context"
	"errors"

	"go.einride.tech/can"
)

// CANBus is unavailable off Linux.
type CANBus struct{}

// OpenCANBus always fails; SocketCAN is Linux-only.
func OpenCANBus(ctx context.Context, iface string) (*CANBus, error) {
	return nil, errors.New("socketcan is only supported on linux")
}

// Receiver returns a receiver that yields no frames.
func (b *CANBus) Receiver() FrameReceiver { return emptyReceiver{} }

// Close is a no-op.
func (b *CANBus) Close() error { return nil }

type emptyReceiver struct{}

func (emptyReceiver) Receive() bool    { return false }
func (emptyReceiver) Frame() can.Frame { return can.Frame{} }
func (emptyReceiver) Err() error       { return nil }
