package msgnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// HeaderSize is the encoded size of a MessageHeader on the wire:
// a 4-byte type tag followed by a 4-byte body length.
const HeaderSize = 8

// byteOrder is the byte order of the header fields and of every value
// appended to a message body.
var byteOrder = binary.LittleEndian

// Errors returned by message body operations.
var (
	// ErrNotFixedSize is returned when a value without a fixed binary
	// layout (slices, strings, maps, pointers to those) is appended or extracted.
	ErrNotFixedSize = errors.New("value has no fixed binary layout")
	// ErrPayloadUnderflow is returned when extracting more bytes than the body holds.
	ErrPayloadUnderflow = errors.New("payload underflow")
)

// MessageType is the constraint for application-defined message type tags.
// Tags travel as 4-byte unsigned integers, so any enumeration declared as
// `type MyMsg uint32` satisfies it.
type MessageType interface {
	~uint32
}

// MessageHeader is sent ahead of every message body.
type MessageHeader[T MessageType] struct {
	// ID is the application-defined type tag.
	ID T
	// Size is the body length in bytes.
	Size uint32
}

func (h MessageHeader[T]) encode(b []byte) {
	byteOrder.PutUint32(b[0:4], uint32(h.ID))
	byteOrder.PutUint32(b[4:8], h.Size)
}

func decodeHeader[T MessageType](b []byte) MessageHeader[T] {
	return MessageHeader[T]{
		ID:   T(byteOrder.Uint32(b[0:4])),
		Size: byteOrder.Uint32(b[4:8]),
	}
}

// Message is a header plus an opaque body of fixed-layout values.
//
// The body is a byte stack, not a byte stream: Append pushes a value onto
// the end and Extract pops a value off the end. Values therefore come back
// out in the reverse of the order they were appended:
//
//	msg.Append(a) // body: a
//	msg.Append(b) // body: a b
//	msg.Extract(&b)
//	msg.Extract(&a)
type Message[T MessageType] struct {
	Header MessageHeader[T]
	Body   []byte
}

// NewMessage returns an empty message with the given type tag.
func NewMessage[T MessageType](id T) Message[T] {
	return Message[T]{Header: MessageHeader[T]{ID: id}}
}

// Size returns the encoded size of the message: header plus body.
func (m *Message[T]) Size() int {
	return HeaderSize + len(m.Body)
}

// Append copies the raw bytes of v onto the end of the body.
// v must have a fixed binary layout as defined by encoding/binary:
// booleans, sized numbers, arrays and structs made only of those.
func (m *Message[T]) Append(v any) error {
	n := fixedSize(v)
	if n < 0 {
		return errors.Wrapf(ErrNotFixedSize, "append %T", v)
	}

	buf := bytes.NewBuffer(m.Body)
	buf.Grow(n)
	if err := binary.Write(buf, byteOrder, v); err != nil {
		return errors.Wrapf(err, "append %T", v)
	}

	m.Body = buf.Bytes()
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// Extract removes the last binary.Size(v) bytes of the body and decodes
// them into v, which must be a pointer to a fixed-layout value.
func (m *Message[T]) Extract(v any) error {
	n := fixedSize(v)
	if n < 0 {
		return errors.Wrapf(ErrNotFixedSize, "extract %T", v)
	}
	if n > len(m.Body) {
		return errors.Wrapf(ErrPayloadUnderflow, "extract %T: need %d bytes, have %d", v, n, len(m.Body))
	}

	start := len(m.Body) - n
	if err := binary.Read(bytes.NewReader(m.Body[start:]), byteOrder, v); err != nil {
		return errors.Wrapf(err, "extract %T", v)
	}

	m.Body = m.Body[:start]
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// fixedSize is binary.Size restricted to values whose size does not
// depend on their contents. Slices are refused even though encoding/binary
// can write them.
func fixedSize(v any) int {
	t := reflect.TypeOf(v)
	if t == nil {
		return -1
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice {
		return -1
	}
	return binary.Size(v)
}

// clone returns a copy of m that shares no memory with it.
func (m *Message[T]) clone() Message[T] {
	c := Message[T]{Header: m.Header}
	if len(m.Body) > 0 {
		c.Body = append([]byte(nil), m.Body...)
	}
	c.Header.Size = uint32(len(c.Body))
	return c
}

func (m Message[T]) String() string {
	return fmt.Sprintf("ID:%d Size:%d", uint32(m.Header.ID), m.Header.Size)
}

// OwnedMessage is an inbound message tagged with the Connection that
// received it. Remote is nil on the client side, which has exactly one peer.
type OwnedMessage[T MessageType] struct {
	Remote *Conn[T]
	Msg    Message[T]
}
