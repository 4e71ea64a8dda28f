package wire

import (
	"bytes"
	"testing"

	"loopcache/internal/cluster"
)

func TestMessageFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello, world!")
	if err := WriteMessage(&buf, uint8(PutObject), payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Kind != uint8(PutObject) {
		t.Errorf("Kind = %d, want %d", msg.Kind, uint8(PutObject))
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Errorf("Payload = %q, want %q", msg.Payload, payload)
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 5)
	header[0] = uint8(PutObject)
	// Declare a length one byte over the limit.
	oversized := uint32(MaxPayloadBytes + 1)
	header[1] = byte(oversized >> 24)
	header[2] = byte(oversized >> 16)
	header[3] = byte(oversized >> 8)
	header[4] = byte(oversized)
	buf.Write(header)

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatalf("expected ReadMessage to reject an oversized frame")
	}
}

func TestRingDescriptorRoundTripWithLocations(t *testing.T) {
	r := cluster.NewRing()
	for i, cap := range []int64{10, 20, 30} {
		n := &cluster.Node{HostName: "h", Port: int32(i + 1), MaxBytes: cap}
		if err := r.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}

	nodes := r.Nodes()
	payload := EncodeRingDescriptor(nodes, true)
	decoded, err := DecodeRingDescriptor(payload)
	if err != nil {
		t.Fatalf("DecodeRingDescriptor: %v", err)
	}
	if len(decoded) != len(nodes) {
		t.Fatalf("decoded %d nodes, want %d", len(decoded), len(nodes))
	}
	for i, n := range nodes {
		d := decoded[i]
		if d.Name() != n.Name() || d.MaxBytes != n.MaxBytes || d.Status != n.Status {
			t.Fatalf("node %d mismatch: got %+v, want %+v", i, d, n)
		}
		if len(d.Locations) != len(n.Locations) {
			t.Fatalf("node %d location count mismatch: got %d, want %d", i, len(d.Locations), len(n.Locations))
		}
		for j := range n.Locations {
			if d.Locations[j] != n.Locations[j] {
				t.Fatalf("node %d location %d mismatch: got %d, want %d", i, j, d.Locations[j], n.Locations[j])
			}
		}
	}
}

func TestRingDescriptorWithoutLocationsDerivesSamePlacement(t *testing.T) {
	r := cluster.NewRing()
	for i, cap := range []int64{10, 20, 30} {
		n := &cluster.Node{HostName: "h", Port: int32(i + 1), MaxBytes: cap}
		if err := r.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	nodes := r.Nodes()
	payload := EncodeRingDescriptor(nodes, false)
	decoded, err := DecodeRingDescriptor(payload)
	if err != nil {
		t.Fatalf("DecodeRingDescriptor: %v", err)
	}

	// The recipient must run placement locally from the minimal descriptor.
	recv := cluster.NewRing()
	for _, n := range decoded {
		if err := recv.AddNode(&cluster.Node{HostName: n.HostName, Port: n.Port, MaxBytes: n.MaxBytes, Status: n.Status}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}

	for _, n := range nodes {
		got, ok := recv.Get(n.Name())
		if !ok {
			t.Fatalf("node %s missing after local placement", n.Name())
		}
		if len(got.Locations) != len(n.Locations) {
			t.Fatalf("node %s location count mismatch: got %d, want %d", n.Name(), len(got.Locations), len(n.Locations))
		}
		for i := range n.Locations {
			if got.Locations[i] != n.Locations[i] {
				t.Fatalf("node %s location %d mismatch: got %d, want %d", n.Name(), i, got.Locations[i], n.Locations[i])
			}
		}
	}
}

func TestPutObjectPayloadRoundTrip(t *testing.T) {
	payload := EncodePutObject("mykey", []byte("myvalue"))
	decoded, err := DecodePutObject(payload)
	if err != nil {
		t.Fatalf("DecodePutObject: %v", err)
	}
	if decoded.Key != "mykey" || string(decoded.Value) != "myvalue" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	s := Stats{
		NumObjects: 42,
		TotalBytes: 12345,
		RAMBytes:   67890,
		Multiplier: "1.30",
		MaxBytes:   1 << 20,
		Status:     cluster.StatusUp,
	}
	decoded, err := DecodeStats(EncodeStats(s))
	if err != nil {
		t.Fatalf("DecodeStats: %v", err)
	}
	if decoded != s {
		t.Fatalf("got %+v, want %+v", decoded, s)
	}
}
