package master

import (
	"context"
	"log"
	"net"

	"loopcache/internal/wire"
)

// Serve accepts connections on ln and dispatches each to handleConn until
// ctx is canceled. One short-lived task per connection (spec §5).
func (m *Master) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go m.handleConn(ctx, conn)
	}
}

// handleConn serves every request sent over a single connection until the
// peer closes it or sends something malformed.
func (m *Master) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("master: recovered panic serving %s: %v", conn.RemoteAddr(), r)
		}
	}()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		kind, payload := m.dispatch(ctx, conn, wire.RequestKind(msg.Kind), msg.Payload)
		if err := wire.WriteMessage(conn, uint8(kind), payload); err != nil {
			return
		}
	}
}

// dispatch maps a request kind to its master-side handler (spec §4.4
// dispatch table). Data-node-only kinds get NotDataNode; unrecognised
// kinds get InvalidRequestType; panics are not recovered here — handleConn
// recovers them, so a crash ends only that one client's connection.
func (m *Master) dispatch(ctx context.Context, conn net.Conn, kind wire.RequestKind, payload []byte) (wire.ResponseKind, []byte) {
	switch kind {
	case wire.Ping:
		return wire.Accepted, nil

	case wire.GetConfig:
		return wire.Configuration, wire.EncodeRingDescriptor(m.ring.Nodes(), true)

	case wire.Register:
		port, err := wire.DecodeRegister(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			return wire.InternalServerError, nil
		}
		return m.Register(host, port)

	case wire.NodeUnreachable:
		req, err := wire.DecodeHostPort(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		return m.NodeUnreachable(req.Host, req.Port), nil

	case wire.AddNode:
		req, err := wire.DecodeAddOrChangeNode(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		return m.AddNode(ctx, req.Host, req.Port, req.MaxBytes)

	case wire.RemoveNode:
		req, err := wire.DecodeHostPort(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		return m.RemoveNode(req.Host, req.Port)

	case wire.ChangeNode:
		req, err := wire.DecodeAddOrChangeNode(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		return m.ChangeNode(req.Host, req.Port, req.MaxBytes)

	case wire.Clear:
		go m.Clear(context.Background())
		return wire.Accepted, nil

	case wire.GetObject, wire.PutObject, wire.DeleteObject, wire.GetStats, wire.FireSale, wire.ChangeConfig:
		return wire.NotDataNode, nil

	default:
		return wire.InvalidRequestType, nil
	}
}

// Logger exposes the master's logger so callers can share it with other
// subsystems.
func (m *Master) Logger() *log.Logger {
	return m.logger
}
