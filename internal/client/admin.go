package client

import (
	"context"
	"fmt"

	"loopcache/internal/cluster"
	"loopcache/internal/wire"
)

// adminRoundTrip issues one request directly against the master endpoint,
// bypassing the key-routing retry machinery. AddNode, ChangeNode,
// RemoveNode and Clear go through it to the master; GetStats does not, as
// it dials the data node itself (the master answers GetStats with
// NotDataNode).
func (c *Client) adminRoundTrip(ctx context.Context, kind wire.RequestKind, payload []byte) (wire.ResponseKind, []byte, error) {
	return c.roundTrip(ctx, c.masterAddr, kind, payload)
}

// AddNode registers a brand-new data node with the master.
func (c *Client) AddNode(ctx context.Context, host string, port int32, maxBytes int64) error {
	kind, _, err := c.adminRoundTrip(ctx, wire.AddNode, wire.EncodeAddOrChangeNode(host, port, maxBytes, cluster.StatusUp))
	if err != nil {
		return err
	}
	return checkAdminResponse("AddNode", kind)
}

// RemoveNode asks the master to drain and remove a data node.
func (c *Client) RemoveNode(ctx context.Context, host string, port int32) error {
	kind, _, err := c.adminRoundTrip(ctx, wire.RemoveNode, wire.EncodeHostPort(host, port))
	if err != nil {
		return err
	}
	return checkAdminResponse("RemoveNode", kind)
}

// ChangeNode updates a node's declared capacity.
func (c *Client) ChangeNode(ctx context.Context, host string, port int32, maxBytes int64) error {
	kind, _, err := c.adminRoundTrip(ctx, wire.ChangeNode, wire.EncodeAddOrChangeNode(host, port, maxBytes, cluster.StatusUp))
	if err != nil {
		return err
	}
	return checkAdminResponse("ChangeNode", kind)
}

// GetStats fetches a single data node's own stats directly.
func (c *Client) GetStats(ctx context.Context, host string, port int32) (wire.Stats, error) {
	conn, err := c.dial(ctx, fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return wire.Stats{}, err
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, uint8(wire.GetStats), nil); err != nil {
		return wire.Stats{}, err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return wire.Stats{}, err
	}
	if wire.ResponseKind(msg.Kind) != wire.ObjectOk {
		return wire.Stats{}, fmt.Errorf("loopcache: GetStats: unexpected response %s", wire.ResponseKind(msg.Kind))
	}
	return wire.DecodeStats(msg.Payload)
}

// Clear wipes every data node's store (spec §4.5 Clear, master-only entry
// point that fans FireSale out in parallel).
func (c *Client) Clear(ctx context.Context) error {
	kind, _, err := c.adminRoundTrip(ctx, wire.Clear, nil)
	if err != nil {
		return err
	}
	return checkAdminResponse("Clear", kind)
}

// ListNodes returns the current ring's node list, bootstrapping first if
// necessary.
func (c *Client) ListNodes(ctx context.Context) ([]*cluster.Node, error) {
	if err := c.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return c.currentRing().Nodes(), nil
}

func checkAdminResponse(op string, kind wire.ResponseKind) error {
	if kind == wire.Accepted || kind == wire.ObjectOk {
		return nil
	}
	return fmt.Errorf("loopcache: %s: %s", op, kind)
}
