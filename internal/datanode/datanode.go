// Package datanode implements the data-node side of LoopCache's listener
// and storage dispatch (roles C6/C5): accepting the wire protocol,
// registering with the master until a ring is installed, serving
// GetObject/PutObject/DeleteObject/GetStats/FireSale/ChangeConfig, and
// driving the ownership-redirect and rebalance machinery of spec §4.5.
package datanode

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"loopcache/internal/cluster"
	"loopcache/internal/lifecycle"
	"loopcache/internal/store"
	"loopcache/internal/wire"
)

// Dialer opens a connection to addr, overridable in tests.
type Dialer func(network, addr string) (net.Conn, error)

// registerBackoff is the fixed (not exponential) delay between Register
// attempts, so a newly started node becomes available promptly once the
// operator adds it (spec §5).
const registerBackoff = 1 * time.Second

// redirectPause matches the retry pause a client observes on
// DataNodeNotReady. Nothing reads it: the ownership check in
// resolveOwnership re-checks right after its self-correcting re-register,
// without sleeping.
const redirectPause = 50 * time.Millisecond

// DataNode is one data node's full runtime state.
type DataNode struct {
	selfHost string
	selfPort int32

	masterAddr string
	dialer     Dialer
	logger     *log.Logger

	store *store.Store

	mu    sync.RWMutex
	ring  *cluster.Ring
	ready bool // false until the first ring is installed (spec §4.4)

	migrating atomic.Bool // true while rebalance is draining this node out

	// rebalanceGen is bumped by every ChangeConfig and by every rebalance
	// that resolveOwnership starts. A running rebalanceNow
	// captures the generation it started with and aborts as soon as it
	// no longer matches, so a ChangeConfig that re-includes this node
	// mid-scan stops the stale scan instead of racing it (spec §5).
	rebalanceGen atomic.Int64
}

// New builds a data node that will serve st and register against
// masterAddr as host:selfPort.
func New(host string, port int32, masterAddr string, st *store.Store, dialer Dialer, logger *log.Logger) *DataNode {
	if dialer == nil {
		dialer = net.Dial
	}
	return &DataNode{
		selfHost:   host,
		selfPort:   port,
		masterAddr: masterAddr,
		dialer:     dialer,
		logger:     logger,
		store:      st,
	}
}

// Name is this node's canonical identity in the ring.
func (d *DataNode) Name() string {
	return cluster.CanonicalName(d.selfHost, d.selfPort)
}

func (d *DataNode) currentRing() (*cluster.Ring, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ring, d.ready
}

// Nodes implements adminhttp.RingProvider: the node list of the currently
// installed ring, or nil before this node is ready.
func (d *DataNode) Nodes() []*cluster.Node {
	ring, ready := d.currentRing()
	if !ready {
		return nil
	}
	return ring.Nodes()
}

// Stats implements adminhttp.StatsProvider.
func (d *DataNode) Stats() store.Stats {
	return d.store.Stats()
}

func (d *DataNode) installRing(nodes []*cluster.Node) error {
	ring := cluster.NewRing()
	for _, n := range nodes {
		if err := ring.AddNode(n); err != nil {
			return err
		}
	}
	if err := ring.Recompute(); err != nil {
		return err
	}
	d.mu.Lock()
	d.ring = ring
	d.ready = true
	d.mu.Unlock()

	if self, ok := ring.Get(d.Name()); ok && self.MaxBytes > 0 {
		d.store.SetMaxBytes(self.MaxBytes)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// REGISTRATION LOOP
////////////////////////////////////////////////////////////////////////////////

// RunRegistrationLoop repeatedly sends Register to the master until it
// returns a ring descriptor, then keeps re-registering on the same fixed
// backoff so the master's status for this node stays fresh (spec §4.4:
// "repeatedly send Register ... until the master returns a ring
// descriptor. Until that ring is installed, every request other than Ping
// receives DataNodeNotReady").
func (d *DataNode) RunRegistrationLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.register(ctx); err != nil {
			d.logger.Printf("datanode: register: %v", err)
		}
		lifecycle.Sleep(ctx, registerBackoff)
	}
}

// register performs one Register round trip and installs the returned
// ring if present.
func (d *DataNode) register(ctx context.Context) error {
	conn, err := d.dialer("tcp", d.masterAddr)
	if err != nil {
		return fmt.Errorf("dial master: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if err := wire.WriteMessage(conn, uint8(wire.Register), wire.EncodeRegister(d.selfPort)); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return err
	}
	switch wire.ResponseKind(msg.Kind) {
	case wire.Configuration:
		nodes, err := wire.DecodeRingDescriptor(msg.Payload)
		if err != nil {
			return fmt.Errorf("decode ring descriptor: %w", err)
		}
		return d.installRing(nodes)
	case wire.UnknownNode:
		return fmt.Errorf("master does not recognise %s", d.Name())
	default:
		return fmt.Errorf("unexpected register response %s", wire.ResponseKind(msg.Kind))
	}
}

////////////////////////////////////////////////////////////////////////////////
// REBALANCE WIRING
////////////////////////////////////////////////////////////////////////////////

// nextRebalanceGen bumps and returns the current rebalance generation,
// superseding any scan already in flight (its captured generation will no
// longer match, so it aborts at its next key).
func (d *DataNode) nextRebalanceGen() int64 {
	return d.rebalanceGen.Add(1)
}

// rebalanceNow runs a rebalance scan against the current ring, migrating
// every key this node no longer owns to its rightful owner over the wire.
// gen is the generation this scan was started under; it aborts early if
// a later ChangeConfig supersedes it (spec §5).
func (d *DataNode) rebalanceNow(gen int64) {
	ring, ready := d.currentRing()
	if !ready {
		return
	}
	store.Rebalance(d.store, ring, d.Name(), d.sendPutObject, d.logger, func() bool {
		return d.rebalanceGen.Load() != gen
	})
	if d.rebalanceGen.Load() == gen {
		d.migrating.Store(false)
	}
}

// sendPutObject issues a PutObject to ownerAddr, used as store.Sender.
func (d *DataNode) sendPutObject(ownerAddr, key string, value []byte) error {
	conn, err := d.dialer("tcp", ownerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	if err := wire.WriteMessage(conn, uint8(wire.PutObject), wire.EncodePutObject(key, value)); err != nil {
		return err
	}
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		return err
	}
	if wire.ResponseKind(msg.Kind) != wire.ObjectOk {
		return fmt.Errorf("migrate %q to %s: unexpected response %s", key, ownerAddr, wire.ResponseKind(msg.Kind))
	}
	return nil
}
