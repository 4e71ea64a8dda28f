package datanode

import (
	"context"
	"net"
	"time"

	"loopcache/internal/cluster"
	"loopcache/internal/wire"
)

// wallClockMillis is PutObject's put-time ordering key for the store's LRU
// time index (spec §4.5: eviction is "LRU by most-recent put").
func wallClockMillis() int64 {
	return time.Now().UnixMilli()
}

// Serve accepts connections on ln and dispatches each to its own
// short-lived handler goroutine until ctx is canceled (spec §5).
func (d *DataNode) Serve(ctx context.Context, ln net.Listener) error {
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
		go d.handleConn(conn)
	}
}

func (d *DataNode) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		kind, payload := d.dispatch(wire.RequestKind(msg.Kind), msg.Payload)
		if err := wire.WriteMessage(conn, uint8(kind), payload); err != nil {
			return
		}
	}
}

// dispatch maps a request kind to its data-node handler (spec §4.4).
// Master-only kinds get NotMasterNode; unrecognised kinds get
// InvalidRequestType. Every kind but Ping is gated on readiness.
func (d *DataNode) dispatch(kind wire.RequestKind, payload []byte) (wire.ResponseKind, []byte) {
	if kind == wire.Ping {
		return wire.Accepted, nil
	}

	_, ready := d.currentRing()
	if !ready {
		return wire.DataNodeNotReady, nil
	}

	switch kind {
	case wire.GetObject:
		key := wire.DecodeKeyPayload(payload)
		return d.getObject(key)

	case wire.PutObject:
		req, err := wire.DecodePutObject(payload)
		if err != nil {
			return wire.ReadDataError, nil
		}
		return d.putObject(req.Key, req.Value)

	case wire.DeleteObject:
		key := wire.DecodeKeyPayload(payload)
		return d.deleteObject(key)

	case wire.GetStats:
		return wire.ObjectOk, d.encodeStats()

	case wire.FireSale:
		d.store.Clear()
		return wire.ObjectOk, nil

	case wire.ChangeConfig:
		return d.changeConfig(payload)

	case wire.GetConfig, wire.NodeUnreachable, wire.AddNode, wire.RemoveNode,
		wire.ChangeNode, wire.Register, wire.Clear:
		return wire.NotMasterNode, nil

	default:
		return wire.InvalidRequestType, nil
	}
}

// resolveOwnership implements the ownership redirect with self-correction
// (spec §4.5): if this node is not the hashed owner, it re-registers to
// pick up a fresher ring and checks again. If it turns out to own the key
// after all, it kicks off a background rebalance (its own data may be
// stale from a previous topology) and proceeds to serve the request.
// Otherwise it returns false, and the caller responds ReConfigure.
func (d *DataNode) resolveOwnership(ctx context.Context, key string) (proceed bool, reconfigure []byte) {
	ring, _ := d.currentRing()
	owner, ok := ring.OwnerOfKey(key)
	if ok && owner.Name() == d.Name() {
		return true, nil
	}

	if err := d.register(ctx); err != nil {
		d.logger.Printf("datanode: self-correcting register: %v", err)
	}

	ring, _ = d.currentRing()
	owner, ok = ring.OwnerOfKey(key)
	if ok && owner.Name() == d.Name() {
		go d.rebalanceNow(d.nextRebalanceGen())
		return true, nil
	}

	return false, wire.EncodeRingDescriptor(ring.Nodes(), true)
}

func (d *DataNode) getObject(key string) (wire.ResponseKind, []byte) {
	proceed, reconf := d.resolveOwnership(context.Background(), key)
	if !proceed {
		return wire.ReConfigure, reconf
	}
	value, ok := d.store.Get(key)
	if !ok {
		return wire.ObjectMissing, nil
	}
	return wire.ObjectOk, value
}

func (d *DataNode) putObject(key string, value []byte) (wire.ResponseKind, []byte) {
	proceed, reconf := d.resolveOwnership(context.Background(), key)
	if !proceed {
		return wire.ReConfigure, reconf
	}
	d.store.Put(key, value, wallClockMillis())
	return wire.ObjectOk, nil
}

func (d *DataNode) deleteObject(key string) (wire.ResponseKind, []byte) {
	proceed, reconf := d.resolveOwnership(context.Background(), key)
	if !proceed {
		return wire.ReConfigure, reconf
	}
	d.store.Delete(key)
	return wire.ObjectOk, nil
}

func (d *DataNode) encodeStats() []byte {
	stats := d.store.Stats()
	status := cluster.StatusUp
	if d.migrating.Load() {
		status = cluster.StatusMigrating
	}
	return wire.EncodeStats(wire.Stats{
		NumObjects: stats.NumObjects,
		TotalBytes: stats.TotalDataBytes,
		RAMBytes:   stats.LatestRAMBytes,
		Multiplier: stats.FormattedMultiplier(),
		MaxBytes:   stats.MaxBytes,
		Status:     status,
	})
}

// changeConfig installs a master-pushed ring (spec §4.6): if this node is
// still in it, just swap the reference (and resume from Migrating if it
// was mid-drain). If this node is NOT in the new ring, mark it Migrating
// and start draining its keys to their new owners. Every call bumps the
// rebalance generation first, so a scan already in flight against the
// prior ring is superseded immediately — including the case this
// ChangeConfig re-includes a node whose drain was still running (spec
// §5: "in-flight rebalance is explicitly abortable when a ChangeConfig
// arrives that re-includes this node").
func (d *DataNode) changeConfig(payload []byte) (wire.ResponseKind, []byte) {
	nodes, err := wire.DecodeRingDescriptor(payload)
	if err != nil {
		return wire.ReadDataError, nil
	}
	if err := d.installRing(nodes); err != nil {
		return wire.InternalServerError, nil
	}

	gen := d.nextRebalanceGen()

	ring, _ := d.currentRing()
	if _, stillIn := ring.Get(d.Name()); stillIn {
		d.migrating.Store(false)
		return wire.ObjectOk, nil
	}

	d.migrating.Store(true)
	go d.rebalanceNow(gen)
	return wire.ObjectOk, nil
}
