package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"loopcache/internal/cluster"
)

// A buffer-oriented reader used throughout this file: every payload field
// is either a fixed-width integer or a length-prefixed byte run, so one
// small helper type covers all of it without repeating bounds checks.
type reader struct {
	b *bytes.Reader
}

func newReader(payload []byte) *reader {
	return &reader{b: bytes.NewReader(payload)}
}

func (r *reader) int32() (int32, error) {
	var v int32
	if err := binary.Read(r.b, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("wire: read int32: %w", err)
	}
	return v, nil
}

func (r *reader) int64() (int64, error) {
	var v int64
	if err := binary.Read(r.b, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("wire: read int64: %w", err)
	}
	return v, nil
}

func (r *reader) uint8() (uint8, error) {
	b, err := r.b.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("wire: read uint8: %w", err)
	}
	return b, nil
}

func (r *reader) bytesN(n int32) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("wire: negative byte-run length %d", n)
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r.b, buf); err != nil {
		return nil, fmt.Errorf("wire: read %d bytes: %w", n, err)
	}
	return buf, nil
}

func (r *reader) string() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	b, err := r.bytesN(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) lenPrefixedBytes() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	return r.bytesN(n)
}

// writer accumulates a payload with the same fixed-width/length-prefixed
// primitives as reader, in the opposite direction.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) putInt32(v int32) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) putInt64(v int64) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) putUint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *writer) putString(s string) {
	w.putInt32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) putLenPrefixedBytes(b []byte) {
	w.putInt32(int32(len(b)))
	w.buf.Write(b)
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

////////////////////////////////////////////////////////////////////////////////
// NODE DESCRIPTOR
////////////////////////////////////////////////////////////////////////////////

// EncodeNodeDescriptor serializes n in wire order (spec §4.3):
//
//	hostLen:int32  host:UTF-8[hostLen]  port:int32  maxBytes:int64
//	status:uint8  includeLocations:uint8
//	if includeLocations==1: numLocations:int32  location[0..numLocations):int32
func EncodeNodeDescriptor(n *cluster.Node, includeLocations bool) []byte {
	w := &writer{}
	w.putString(n.HostName)
	w.putInt32(n.Port)
	w.putInt64(n.MaxBytes)
	w.putUint8(uint8(n.Status))
	if includeLocations {
		w.putUint8(1)
		w.putInt32(int32(len(n.Locations)))
		for _, loc := range n.Locations {
			w.putInt32(loc)
		}
	} else {
		w.putUint8(0)
	}
	return w.bytes()
}

// DecodeNodeDescriptor reads one node descriptor from r.
func DecodeNodeDescriptor(r *reader) (*cluster.Node, error) {
	host, err := r.string()
	if err != nil {
		return nil, err
	}
	port, err := r.int32()
	if err != nil {
		return nil, err
	}
	maxBytes, err := r.int64()
	if err != nil {
		return nil, err
	}
	status, err := r.uint8()
	if err != nil {
		return nil, err
	}
	includeLocations, err := r.uint8()
	if err != nil {
		return nil, err
	}
	n := &cluster.Node{
		HostName: host,
		Port:     port,
		MaxBytes: maxBytes,
		Status:   cluster.Status(status),
	}
	if includeLocations == 1 {
		numLocations, err := r.int32()
		if err != nil {
			return nil, err
		}
		if numLocations < 0 {
			return nil, fmt.Errorf("wire: negative location count %d", numLocations)
		}
		locs := make([]int32, numLocations)
		for i := range locs {
			v, err := r.int32()
			if err != nil {
				return nil, err
			}
			locs[i] = v
		}
		n.Locations = locs
	}
	return n, nil
}

////////////////////////////////////////////////////////////////////////////////
// RING DESCRIPTOR
////////////////////////////////////////////////////////////////////////////////

// EncodeRingDescriptor serializes every node in nodes as
// numNodes:int32 followed by that many node descriptors.
func EncodeRingDescriptor(nodes []*cluster.Node, includeLocations bool) []byte {
	w := &writer{}
	w.putInt32(int32(len(nodes)))
	for _, n := range nodes {
		w.buf.Write(EncodeNodeDescriptor(n, includeLocations))
	}
	return w.bytes()
}

// DecodeRingDescriptor parses a ring descriptor payload into its node list.
func DecodeRingDescriptor(payload []byte) ([]*cluster.Node, error) {
	r := newReader(payload)
	numNodes, err := r.int32()
	if err != nil {
		return nil, err
	}
	if numNodes < 0 {
		return nil, fmt.Errorf("wire: negative node count %d", numNodes)
	}
	nodes := make([]*cluster.Node, numNodes)
	for i := range nodes {
		n, err := DecodeNodeDescriptor(r)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

////////////////////////////////////////////////////////////////////////////////
// REQUEST PAYLOADS
////////////////////////////////////////////////////////////////////////////////

// EncodeKeyPayload encodes the raw-key payload shared by GetObject and
// DeleteObject (spec §6: "payload is the raw key bytes (UTF-8)").
func EncodeKeyPayload(key string) []byte {
	return []byte(key)
}

// DecodeKeyPayload is the inverse of EncodeKeyPayload.
func DecodeKeyPayload(payload []byte) string {
	return string(payload)
}

// PutObjectPayload is the decoded form of a PutObject request body.
type PutObjectPayload struct {
	Key   string
	Value []byte
}

// EncodePutObject encodes keyLen:int32 key:UTF-8 valLen:int32 value:bytes.
func EncodePutObject(key string, value []byte) []byte {
	w := &writer{}
	w.putString(key)
	w.putLenPrefixedBytes(value)
	return w.bytes()
}

// DecodePutObject is the inverse of EncodePutObject.
func DecodePutObject(payload []byte) (PutObjectPayload, error) {
	r := newReader(payload)
	key, err := r.string()
	if err != nil {
		return PutObjectPayload{}, err
	}
	value, err := r.lenPrefixedBytes()
	if err != nil {
		return PutObjectPayload{}, err
	}
	return PutObjectPayload{Key: key, Value: value}, nil
}

// NodeAddressPayload is the decoded form of AddNode/ChangeNode/RemoveNode/
// NodeUnreachable request bodies (which share a host+port prefix).
type NodeAddressPayload struct {
	Host     string
	Port     int32
	MaxBytes int64 // only meaningful for AddNode/ChangeNode
	Status   cluster.Status
}

// EncodeAddOrChangeNode encodes:
//
//	hostLen:int32 host:UTF-8 port:int32 maxBytes:int64 status:uint8 reserved:uint8
func EncodeAddOrChangeNode(host string, port int32, maxBytes int64, status cluster.Status) []byte {
	w := &writer{}
	w.putString(host)
	w.putInt32(port)
	w.putInt64(maxBytes)
	w.putUint8(uint8(status))
	w.putUint8(0) // reserved
	return w.bytes()
}

// DecodeAddOrChangeNode is the inverse of EncodeAddOrChangeNode.
func DecodeAddOrChangeNode(payload []byte) (NodeAddressPayload, error) {
	r := newReader(payload)
	host, err := r.string()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	port, err := r.int32()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	maxBytes, err := r.int64()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	status, err := r.uint8()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	if _, err := r.uint8(); err != nil { // reserved
		return NodeAddressPayload{}, err
	}
	return NodeAddressPayload{Host: host, Port: port, MaxBytes: maxBytes, Status: cluster.Status(status)}, nil
}

// EncodeHostPort encodes the shorter hostLen:int32 host:UTF-8 port:int32
// shape shared by RemoveNode and NodeUnreachable.
func EncodeHostPort(host string, port int32) []byte {
	w := &writer{}
	w.putString(host)
	w.putInt32(port)
	return w.bytes()
}

// DecodeHostPort is the inverse of EncodeHostPort.
func DecodeHostPort(payload []byte) (NodeAddressPayload, error) {
	r := newReader(payload)
	host, err := r.string()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	port, err := r.int32()
	if err != nil {
		return NodeAddressPayload{}, err
	}
	return NodeAddressPayload{Host: host, Port: port}, nil
}

// EncodeRegister encodes the Register request body: listenerPort:int32.
func EncodeRegister(listenerPort int32) []byte {
	w := &writer{}
	w.putInt32(listenerPort)
	return w.bytes()
}

// DecodeRegister is the inverse of EncodeRegister.
func DecodeRegister(payload []byte) (int32, error) {
	return newReader(payload).int32()
}

////////////////////////////////////////////////////////////////////////////////
// GetStats RESPONSE
////////////////////////////////////////////////////////////////////////////////

// Stats is the decoded form of a GetStats response.
type Stats struct {
	NumObjects int32
	TotalBytes int64
	RAMBytes   int64
	Multiplier string
	MaxBytes   int64
	Status     cluster.Status
}

// EncodeStats encodes:
//
//	numObjects:int32 totalBytes:int64 ramBytes:int64
//	multiplierLen:int32 multiplier:UTF-8 maxBytes:int64 status:uint8
func EncodeStats(s Stats) []byte {
	w := &writer{}
	w.putInt32(s.NumObjects)
	w.putInt64(s.TotalBytes)
	w.putInt64(s.RAMBytes)
	w.putString(s.Multiplier)
	w.putInt64(s.MaxBytes)
	w.putUint8(uint8(s.Status))
	return w.bytes()
}

// DecodeStats is the inverse of EncodeStats.
func DecodeStats(payload []byte) (Stats, error) {
	r := newReader(payload)
	numObjects, err := r.int32()
	if err != nil {
		return Stats{}, err
	}
	totalBytes, err := r.int64()
	if err != nil {
		return Stats{}, err
	}
	ramBytes, err := r.int64()
	if err != nil {
		return Stats{}, err
	}
	multiplier, err := r.string()
	if err != nil {
		return Stats{}, err
	}
	maxBytes, err := r.int64()
	if err != nil {
		return Stats{}, err
	}
	status, err := r.uint8()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		NumObjects: numObjects,
		TotalBytes: totalBytes,
		RAMBytes:   ramBytes,
		Multiplier: multiplier,
		MaxBytes:   maxBytes,
		Status:     cluster.Status(status),
	}, nil
}
