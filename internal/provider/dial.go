package provider

import (
	"context"
	"net"
)

// contextDialer dials TCP connections bound to ctx. A connection inherits the
// context deadline for all reads and writes and is closed once ctx is done,
// which unblocks any command still waiting on the server.
type contextDialer struct {
	ctx    context.Context
	dialer net.Dialer
}

func (d *contextDialer) Dial(network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(d.ctx, network, address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := d.ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	context.AfterFunc(d.ctx, func() { conn.Close() })
	return conn, nil
}
