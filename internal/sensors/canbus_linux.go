//go:build linux

package sensors

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can/pkg/socketcan"
)

// CANBus is an open SocketCAN interface.
type CANBus struct {
	conn net.Conn
	recv *socketcan.Receiver
}

// OpenCANBus dials the SocketCAN interface, for example "can0" or "vcan0".
func OpenCANBus(ctx context.Context, iface string) (*CANBus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &CANBus{conn: conn, recv: socketcan.NewReceiver(conn)}, nil
}

// Receiver returns the bus's frame receiver.
func (b *CANBus) Receiver() FrameReceiver {
	return b.recv
}

// Close closes the CAN socket.
func (b *CANBus) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
