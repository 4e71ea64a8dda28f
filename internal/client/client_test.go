package client

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"loopcache/internal/cluster"
	"loopcache/internal/wire"
)

// scriptedPeer answers a fixed sequence of (kind, payload) responses, one
// per request received, in order — enough to drive the client through a
// specific retry path deterministically.
type scriptedPeer struct {
	ln        net.Listener
	responses []wire.Message
}

func newScriptedPeer(t *testing.T, responses ...wire.Message) *scriptedPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &scriptedPeer{ln: ln, responses: responses}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, resp := range p.responses {
			if _, err := wire.ReadMessage(conn); err != nil {
				return
			}
			if err := wire.WriteMessage(conn, resp.Kind, resp.Payload); err != nil {
				return
			}
		}
	}()
	return p
}

func (p *scriptedPeer) addr() string {
	return p.ln.Addr().String()
}

func ringPayloadFor(addr string) []byte {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return wire.EncodeRingDescriptor([]*cluster.Node{{HostName: host, Port: int32(port), MaxBytes: 1 << 20}}, true)
}

func TestGetObjectMissing(t *testing.T) {
	master := newScriptedPeer(t) // ring content filled in below once data node addr known
	data := newScriptedPeer(t, wire.Message{Kind: uint8(wire.ObjectMissing)})

	master.responses = []wire.Message{{Kind: uint8(wire.Configuration), Payload: ringPayloadFor(data.addr())}}

	c := New(master.addr(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Get(ctx, "some-key")
	if err != ErrNotFound {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestReConfigureInstallsNewRingAndRetries(t *testing.T) {
	data2 := newScriptedPeer(t, wire.Message{Kind: uint8(wire.ObjectOk), Payload: []byte("v1")})

	data1 := newScriptedPeer(t, wire.Message{Kind: uint8(wire.ReConfigure), Payload: ringPayloadFor(data2.addr())})

	master := newScriptedPeer(t)
	master.responses = []wire.Message{{Kind: uint8(wire.Configuration), Payload: ringPayloadFor(data1.addr())}}

	c := New(master.addr(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	value, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("Get = %q, want v1", value)
	}
}
