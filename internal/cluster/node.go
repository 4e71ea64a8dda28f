package cluster

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Status is the lifecycle state of a data node as seen by the master.
type Status uint8

const (
	// StatusDown is the zero value: a node the master knows about (from
	// the config file) that has not yet registered.
	StatusDown Status = iota
	// StatusUp is a node that has registered and is serving traffic.
	StatusUp
	// StatusQuestionable is a node a client reported unreachable and that
	// failed to answer the master's own ping. Purely operator-visible;
	// the master never removes a node on its own.
	StatusQuestionable
	// StatusMigrating is a node the master has removed from the ring but
	// that is still draining its keys to their new owners.
	StatusMigrating
)

func (s Status) String() string {
	switch s {
	case StatusDown:
		return "Down"
	case StatusUp:
		return "Up"
	case StatusQuestionable:
		return "Questionable"
	case StatusMigrating:
		return "Migrating"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Node is a single data-node peer: its identity, its capacity, and the
// virtual-node positions it currently owns on the ring.
type Node struct {
	HostName string
	Port     int32
	Endpoint net.IP // resolved IPv4 address; nil until resolved
	MaxBytes int64
	Status   Status
	// Locations are this node's virtual-node ring positions. Populated by
	// the ring's placement step (recomputeLocked, run by AddNode, RemoveNode,
	// ChangeCapacity and Recompute); nil on a node built from a minimal (no-locations)
	// wire descriptor until placement runs locally.
	Locations []int32
}

// CanonicalName is the identity LoopCache uses for a node everywhere: the
// config file, the wire protocol's node map, and the master's registry.
// Two nodes are the same node iff this string matches.
func CanonicalName(host string, port int32) string {
	return strings.ToUpper(host) + ":" + strconv.Itoa(int(port))
}

// Name returns this node's canonical name.
func (n *Node) Name() string {
	return CanonicalName(n.HostName, n.Port)
}

// Address is the dialable host:port for this node, using the raw
// (non-uppercased) host name that was configured or registered.
func (n *Node) Address() string {
	return net.JoinHostPort(n.HostName, strconv.Itoa(int(n.Port)))
}

// Clone returns a deep copy safe to hand to a caller outside the ring's lock.
func (n *Node) Clone() *Node {
	cp := *n
	if n.Locations != nil {
		cp.Locations = append([]int32(nil), n.Locations...)
	}
	return &cp
}
