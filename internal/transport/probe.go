package transport

import (
	"context"
	"fmt"
	"net"
	"slices"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// Probe checks that the endpoint in desc is reachable using a throw-away
// connection. Live links are not touched.
func Probe(ctx context.Context, desc types.ConnectionDescriptor, opts ...Option) error {
	desc = desc.WithDefaults()
	o := buildOptions(opts)

	switch desc.Type() {
	case types.ConnectionTCP:
		addr := desc.TCP.Address()
		dialer := net.Dialer{Timeout: desc.Timeout()}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if isTimeout(err) {
				return types.NewError(types.KindTimeout, fmt.Sprintf("connect to %s", addr), types.ErrConnectTimeout)
			}
			return types.NewError(types.KindConnection, fmt.Sprintf("connect to %s failed", addr), err)
		}
		return conn.Close()

	case types.ConnectionSerial:
		path := desc.Serial.Path
		if ports, err := ListSerialPorts(); err == nil && !slices.Contains(ports, path) {
			return types.NewError(types.KindConnection, fmt.Sprintf("serial port %s not present", path), nil)
		}
		port, err := o.opener(*desc.Serial)
		if err != nil {
			return types.NewError(types.KindConnection, fmt.Sprintf("open %s failed", path), err)
		}
		return port.Close()
	}
	return nil
}
