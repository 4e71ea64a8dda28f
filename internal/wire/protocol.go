// Package wire implements LoopCache's length-prefixed binary protocol:
// the same framing and payload shapes are used by every hop — master to
// data node, data node to data node, and client to either — so this
// package is the one place that must stay bit-exact across the whole
// system (spec §4.3/§6).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RequestKind identifies what a request message is asking for. Numeric
// values are part of the wire contract; never renumber them.
type RequestKind uint8

const (
	GetConfig       RequestKind = 1
	NodeUnreachable RequestKind = 2
	AddNode         RequestKind = 3
	RemoveNode      RequestKind = 4
	ChangeNode      RequestKind = 5
	GetStats        RequestKind = 6
	GetObject       RequestKind = 7
	PutObject       RequestKind = 8
	DeleteObject    RequestKind = 9
	ChangeConfig    RequestKind = 10
	Register        RequestKind = 11
	Ping            RequestKind = 12
	FireSale        RequestKind = 13
	Clear           RequestKind = 14
)

func (k RequestKind) String() string {
	switch k {
	case GetConfig:
		return "GetConfig"
	case NodeUnreachable:
		return "NodeUnreachable"
	case AddNode:
		return "AddNode"
	case RemoveNode:
		return "RemoveNode"
	case ChangeNode:
		return "ChangeNode"
	case GetStats:
		return "GetStats"
	case GetObject:
		return "GetObject"
	case PutObject:
		return "PutObject"
	case DeleteObject:
		return "DeleteObject"
	case ChangeConfig:
		return "ChangeConfig"
	case Register:
		return "Register"
	case Ping:
		return "Ping"
	case FireSale:
		return "FireSale"
	case Clear:
		return "Clear"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// ResponseKind identifies what a response message is carrying.
type ResponseKind uint8

const (
	InvalidRequestType  ResponseKind = 1
	NotMasterNode       ResponseKind = 2
	NotDataNode         ResponseKind = 3
	ObjectOk            ResponseKind = 4
	ObjectMissing       ResponseKind = 5
	ReConfigure         ResponseKind = 6
	Configuration       ResponseKind = 7
	InternalServerError ResponseKind = 8
	ReadKeyError        ResponseKind = 9
	ReadDataError       ResponseKind = 10
	UnknownNode         ResponseKind = 11
	EndPointMismatch    ResponseKind = 12
	NodeExists          ResponseKind = 13
	Accepted            ResponseKind = 14
	DataNodeNotReady    ResponseKind = 15
)

func (k ResponseKind) String() string {
	switch k {
	case InvalidRequestType:
		return "InvalidRequestType"
	case NotMasterNode:
		return "NotMasterNode"
	case NotDataNode:
		return "NotDataNode"
	case ObjectOk:
		return "ObjectOk"
	case ObjectMissing:
		return "ObjectMissing"
	case ReConfigure:
		return "ReConfigure"
	case Configuration:
		return "Configuration"
	case InternalServerError:
		return "InternalServerError"
	case ReadKeyError:
		return "ReadKeyError"
	case ReadDataError:
		return "ReadDataError"
	case UnknownNode:
		return "UnknownNode"
	case EndPointMismatch:
		return "EndPointMismatch"
	case NodeExists:
		return "NodeExists"
	case Accepted:
		return "Accepted"
	case DataNodeNotReady:
		return "DataNodeNotReady"
	default:
		return fmt.Sprintf("ResponseKind(%d)", uint8(k))
	}
}

// MaxPayloadBytes is the largest payload any LoopCache peer will accept.
// Spec §4.3: "length must never exceed 1 MiB for the storage protocol; a
// peer MUST reject longer frames."
const MaxPayloadBytes = 1 << 20

// Message is one frame of the wire protocol: a one-byte kind, an int32
// length, and exactly that many payload bytes.
type Message struct {
	Kind    uint8
	Payload []byte
}

// WriteMessage frames and writes kind+payload to w.
func WriteMessage(w io.Writer, kind uint8, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("wire: payload of %d bytes exceeds %d byte limit", len(payload), MaxPayloadBytes)
	}
	header := make([]byte, 5)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one frame from r, rejecting frames whose declared
// length exceeds MaxPayloadBytes or is negative.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	kind := header[0]
	length := int32(binary.BigEndian.Uint32(header[1:]))
	if length < 0 {
		return Message{}, fmt.Errorf("wire: negative frame length %d", length)
	}
	if length > MaxPayloadBytes {
		return Message{}, fmt.Errorf("wire: frame length %d exceeds %d byte limit", length, MaxPayloadBytes)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return Message{Kind: kind, Payload: payload}, nil
}
