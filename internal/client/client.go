// Package client is a Go SDK for talking to a LoopCache cluster over its
// binary wire protocol (spec §4.7, role C8). It boots from one master
// endpoint, caches the ring it gets back, and on every request hashes the
// key, finds the owner, and dials it directly — retrying through
// transport failures, ownership drift, and readiness gaps the way the
// spec's retry policy describes.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"loopcache/internal/cluster"
	"loopcache/internal/lifecycle"
	"loopcache/internal/wire"
)

// Dialer opens a connection to addr, overridable in tests.
type Dialer func(network, addr string) (net.Conn, error)

// maxAttempts bounds a single request's retry loop (spec §4.7: "at most 3
// attempts per request").
const maxAttempts = 3

// notReadyPause is the sleep on DataNodeNotReady before retrying.
const notReadyPause = 50 * time.Millisecond

// Client is a LoopCache client bound to one master endpoint, with a
// locally cached ring refreshed by GetConfig/ReConfigure.
type Client struct {
	masterAddr string
	dialer     Dialer
	timeout    time.Duration

	mu   sync.RWMutex
	ring *cluster.Ring
}

// New returns a Client that will bootstrap its ring from masterAddr on
// first use. dialer defaults to net.Dial when nil.
func New(masterAddr string, dialer Dialer) *Client {
	if dialer == nil {
		dialer = net.Dial
	}
	return &Client{masterAddr: masterAddr, dialer: dialer, timeout: 3 * time.Second}
}

// ErrNotFound is returned by Get when the key does not exist anywhere in
// the cluster.
var ErrNotFound = fmt.Errorf("loopcache: key not found")

func (c *Client) currentRing() *cluster.Ring {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring
}

func (c *Client) installRing(nodes []*cluster.Node) error {
	ring := cluster.NewRing()
	for _, n := range nodes {
		if err := ring.AddNode(n); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.ring = ring
	c.mu.Unlock()
	return nil
}

// Bootstrap sends GetConfig to the master and caches the returned ring.
// Called automatically by the first request if the ring is not yet
// cached, but exposed so callers can fail fast at startup.
func (c *Client) Bootstrap(ctx context.Context) error {
	conn, err := c.dial(ctx, c.masterAddr)
	if err != nil {
		return fmt.Errorf("loopcache: bootstrap: %w", err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, uint8(wire.GetConfig), nil); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return err
	}
	if wire.ResponseKind(msg.Kind) != wire.Configuration {
		return fmt.Errorf("loopcache: bootstrap: unexpected response %s", wire.ResponseKind(msg.Kind))
	}
	nodes, err := wire.DecodeRingDescriptor(msg.Payload)
	if err != nil {
		return err
	}
	return c.installRing(nodes)
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := c.dialer("tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return conn, nil
}

////////////////////////////////////////////////////////////////////////////////
// KEY OPERATIONS
////////////////////////////////////////////////////////////////////////////////

// Get fetches key's value, following the redirect/retry state machine
// (spec §4.7).
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	kind, payload, err := c.request(ctx, key, wire.GetObject, wire.EncodeKeyPayload(key))
	if err != nil {
		return nil, err
	}
	switch kind {
	case wire.ObjectOk:
		return payload, nil
	case wire.ObjectMissing:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("loopcache: get %q: unexpected response %s", key, kind)
	}
}

// Put stores key=value.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	kind, _, err := c.request(ctx, key, wire.PutObject, wire.EncodePutObject(key, value))
	if err != nil {
		return err
	}
	if kind != wire.ObjectOk {
		return fmt.Errorf("loopcache: put %q: unexpected response %s", key, kind)
	}
	return nil
}

// Delete removes key, if present.
func (c *Client) Delete(ctx context.Context, key string) error {
	kind, _, err := c.request(ctx, key, wire.DeleteObject, wire.EncodeKeyPayload(key))
	if err != nil {
		return err
	}
	if kind != wire.ObjectOk {
		return fmt.Errorf("loopcache: delete %q: unexpected response %s", key, kind)
	}
	return nil
}

// request implements spec §4.7's retry policy for one key-addressed
// operation: hash, route, send; on transport failure report the peer
// unreachable and refresh the ring; on ReConfigure install the embedded
// ring; on DataNodeNotReady pause briefly; then retry, up to maxAttempts.
func (c *Client) request(ctx context.Context, key string, kind wire.RequestKind, payload []byte) (wire.ResponseKind, []byte, error) {
	if c.currentRing() == nil {
		if err := c.Bootstrap(ctx); err != nil {
			return 0, nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ring := c.currentRing()
		owner, ok := ring.OwnerOfKey(key)
		if !ok {
			return 0, nil, fmt.Errorf("loopcache: no nodes in ring")
		}

		respKind, respPayload, err := c.roundTrip(ctx, owner.Address(), kind, payload)
		if err != nil {
			lastErr = err
			c.reportUnreachable(ctx, owner)
			if err := c.Bootstrap(ctx); err != nil {
				lastErr = err
			}
			continue
		}

		switch respKind {
		case wire.ReConfigure:
			nodes, err := wire.DecodeRingDescriptor(respPayload)
			if err != nil {
				return 0, nil, err
			}
			if err := c.installRing(nodes); err != nil {
				return 0, nil, err
			}
			continue
		case wire.DataNodeNotReady:
			lifecycle.Sleep(ctx, notReadyPause)
			continue
		default:
			return respKind, respPayload, nil
		}
	}
	if lastErr != nil {
		return 0, nil, fmt.Errorf("loopcache: %s %q: exhausted %d attempts: %w", kind, key, maxAttempts, lastErr)
	}
	return 0, nil, fmt.Errorf("loopcache: %s %q: exhausted %d attempts", kind, key, maxAttempts)
}

// reportUnreachable tells the master a peer could not be reached
// (best-effort — its own failure doesn't change the client's retry path).
func (c *Client) reportUnreachable(ctx context.Context, n *cluster.Node) {
	conn, err := c.dial(ctx, c.masterAddr)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = wire.WriteMessage(conn, uint8(wire.NodeUnreachable), wire.EncodeHostPort(n.HostName, n.Port))
	_, _ = wire.ReadMessage(conn)
}

func (c *Client) roundTrip(ctx context.Context, addr string, kind wire.RequestKind, payload []byte) (wire.ResponseKind, []byte, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, uint8(kind), payload); err != nil {
		return 0, nil, err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return 0, nil, err
	}
	return wire.ResponseKind(msg.Kind), msg.Payload, nil
}
