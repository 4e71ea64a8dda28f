// Package master implements the authoritative cluster controller (spec
// §4.6, role C7): the Ring plus the on-disk config file, the
// Register/AddNode/RemoveNode/ChangeNode/NodeUnreachable handlers, and the
// background config fan-out that keeps every data node's ring in sync.
package master

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"loopcache/internal/cluster"
	"loopcache/internal/config"
	"loopcache/internal/wire"
)

// Dialer opens a connection to addr. A narrow seam over net.Dial so tests
// can substitute an in-memory transport without a real listener.
type Dialer func(network, addr string) (net.Conn, error)

// Master owns the authoritative ring and config file, and drives every
// membership mutation's background persistence + fan-out.
type Master struct {
	cfg    *config.Config
	ring   *cluster.Ring
	dialer Dialer
	logger *log.Logger

	dialTimeout   time.Duration
	requestTimeout time.Duration
}

// New builds a Master backed by cfg (already loaded, RoleMaster). dialer
// defaults to net.Dial when nil.
func New(cfg *config.Config, dialer Dialer, logger *log.Logger) *Master {
	if dialer == nil {
		dialer = net.Dial
	}
	return &Master{
		cfg:            cfg,
		ring:           cfg.Ring(),
		dialer:         dialer,
		logger:         logger,
		dialTimeout:    2 * time.Second,
		requestTimeout: 3 * time.Second,
	}
}

// Ring returns the live authoritative ring.
func (m *Master) Ring() *cluster.Ring {
	return m.ring
}

////////////////////////////////////////////////////////////////////////////////
// REGISTER
////////////////////////////////////////////////////////////////////////////////

// Register handles a data node's Register request (spec §4.6): look up
// remoteIP:port against the ring, mark it Up, and answer with a minimal
// (no-locations) ring descriptor.
func (m *Master) Register(remoteIP string, port int32) (wire.ResponseKind, []byte) {
	name := cluster.CanonicalName(remoteIP, port)
	if _, ok := m.ring.Get(name); !ok {
		return wire.UnknownNode, nil
	}
	m.ring.SetStatus(name, cluster.StatusUp)
	return wire.Configuration, wire.EncodeRingDescriptor(m.ring.Nodes(), false)
}

////////////////////////////////////////////////////////////////////////////////
// ADD NODE
////////////////////////////////////////////////////////////////////////////////

// AddNode validates and pings the candidate node synchronously, then
// schedules the ring mutation, config persistence, and fan-out in the
// background (spec §4.6: "Synchronously return Accepted as soon as the
// ping succeeded").
func (m *Master) AddNode(ctx context.Context, host string, port int32, maxBytes int64) (wire.ResponseKind, []byte) {
	name := cluster.CanonicalName(host, port)
	if _, exists := m.ring.Get(name); exists {
		return wire.NodeExists, nil
	}
	if maxBytes <= 0 {
		return wire.EndPointMismatch, nil
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	if _, err := net.ResolveIPAddr("ip", host); err != nil {
		return wire.EndPointMismatch, nil
	}
	if err := m.ping(addr); err != nil {
		return wire.EndPointMismatch, nil
	}

	go func() {
		n := &cluster.Node{HostName: host, Port: port, MaxBytes: maxBytes, Status: cluster.StatusUp}
		if err := m.ring.AddNode(n); err != nil {
			m.logger.Printf("master: AddNode %s: %v", name, err)
			return
		}
		m.persistAndFanOut(context.Background())
	}()

	return wire.Accepted, nil
}

////////////////////////////////////////////////////////////////////////////////
// REMOVE NODE
////////////////////////////////////////////////////////////////////////////////

// RemoveNode validates the node exists, then schedules removal, config
// persistence, and fan-out in the background. The removed node transitions
// to Migrating (via a ChangeConfig carrying the new ring, sent to it after
// the fan-out to the remaining nodes) rather than being told directly — it
// learns it's gone from the new ring no longer containing it.
func (m *Master) RemoveNode(host string, port int32) (wire.ResponseKind, []byte) {
	name := cluster.CanonicalName(host, port)
	if _, ok := m.ring.Get(name); !ok {
		return wire.UnknownNode, nil
	}

	go func() {
		removed, ok := m.ring.Get(name)
		if !ok || !m.ring.RemoveNode(name) {
			return
		}
		m.persistAndFanOut(context.Background())
		payload := wire.EncodeRingDescriptor(m.ring.Nodes(), false)
		if err := m.send(context.Background(), removed.Address(), wire.ChangeConfig, payload); err != nil {
			m.logger.Printf("master: RemoveNode %s: push new ring to removed node: %v", name, err)
		}
	}()

	return wire.Accepted, nil
}

////////////////////////////////////////////////////////////////////////////////
// CHANGE NODE
////////////////////////////////////////////////////////////////////////////////

// ChangeNode mutates only maxBytes, rejecting maxBytes ≤ 0 with
// EndPointMismatch (the response-kind enum has no InvalidConfiguration
// value); the ring's placement is re-derived so most keys' owners change,
// hence the fan-out that follows.
func (m *Master) ChangeNode(host string, port int32, maxBytes int64) (wire.ResponseKind, []byte) {
	name := cluster.CanonicalName(host, port)
	if _, ok := m.ring.Get(name); !ok {
		return wire.UnknownNode, nil
	}
	if maxBytes <= 0 {
		return wire.EndPointMismatch, nil
	}

	go func() {
		if err := m.ring.ChangeCapacity(name, maxBytes); err != nil {
			m.logger.Printf("master: ChangeNode %s: %v", name, err)
			return
		}
		m.persistAndFanOut(context.Background())
	}()

	return wire.Accepted, nil
}

////////////////////////////////////////////////////////////////////////////////
// NODE UNREACHABLE
////////////////////////////////////////////////////////////////////////////////

// NodeUnreachable handles a client's report that it could not reach a peer
// (spec §4.6): the master pings the peer itself. If it answers, the client
// should just retry (NodeExists); if not, the node is flagged Questionable
// — purely an operator-visible marker, never an automatic removal.
func (m *Master) NodeUnreachable(host string, port int32) wire.ResponseKind {
	name := cluster.CanonicalName(host, port)
	if _, ok := m.ring.Get(name); !ok {
		return wire.UnknownNode
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	if err := m.ping(addr); err == nil {
		return wire.NodeExists
	}

	m.ring.SetStatus(name, cluster.StatusQuestionable)
	return wire.Accepted
}

////////////////////////////////////////////////////////////////////////////////
// CLEAR (cluster-wide)
////////////////////////////////////////////////////////////////////////////////

// Clear sends FireSale to every data node in parallel (spec §4.5).
func (m *Master) Clear(ctx context.Context) {
	nodes := m.ring.Nodes()
	fanOut(ctx, nodes, func(ctx context.Context, n *cluster.Node) error {
		return m.send(ctx, n.Address(), wire.FireSale, nil)
	}, m.logger, "FireSale")
}

////////////////////////////////////////////////////////////////////////////////
// INTERNAL HELPERS
////////////////////////////////////////////////////////////////////////////////

// persistAndFanOut rewrites the config file then pushes the new minimal
// ring to every node, retrying each up to 3 times before marking it
// Questionable (spec §4.6).
func (m *Master) persistAndFanOut(ctx context.Context) {
	if m.cfg != nil && m.cfg.Path != "" {
		if err := m.cfg.Save(); err != nil {
			m.logger.Printf("master: persist config: %v", err)
		}
	}

	nodes := m.ring.Nodes()
	payload := wire.EncodeRingDescriptor(nodes, false)

	fanOut(ctx, nodes, func(ctx context.Context, n *cluster.Node) error {
		return m.pushConfigWithRetry(ctx, n, payload)
	}, m.logger, "ChangeConfig")
}

// pushConfigWithRetry sends ChangeConfig to n, retrying up to 3 times. A
// node that never acknowledges is marked Questionable.
func (m *Master) pushConfigWithRetry(ctx context.Context, n *cluster.Node, payload []byte) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := m.send(ctx, n.Address(), wire.ChangeConfig, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	m.ring.SetStatus(n.Name(), cluster.StatusQuestionable)
	return fmt.Errorf("push config to %s: %w (marked Questionable)", n.Name(), lastErr)
}

// ping sends a Ping request and requires an Accepted or DataNodeNotReady
// response (spec §4.6: "it must answer DataNodeNotReady or Accepted").
func (m *Master) ping(addr string) error {
	conn, err := m.dialer("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(m.dialTimeout))

	if err := wire.WriteMessage(conn, uint8(wire.Ping), nil); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return err
	}
	switch wire.ResponseKind(msg.Kind) {
	case wire.Accepted, wire.DataNodeNotReady:
		return nil
	default:
		return fmt.Errorf("master: ping %s: unexpected response %s", addr, wire.ResponseKind(msg.Kind))
	}
}

// send issues one request/response round trip to addr.
func (m *Master) send(ctx context.Context, addr string, kind wire.RequestKind, payload []byte) error {
	conn, err := m.dialer("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.requestTimeout))
	}

	if err := wire.WriteMessage(conn, uint8(kind), payload); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return err
	}
	if wire.ResponseKind(msg.Kind) != wire.Accepted && wire.ResponseKind(msg.Kind) != wire.ObjectOk {
		return fmt.Errorf("master: %s to %s: unexpected response %s", kind, addr, wire.ResponseKind(msg.Kind))
	}
	return nil
}
