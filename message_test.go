package msgnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg uint32

const (
	msgPing testMsg = iota + 1
	msgChat
	msgBroadcast
)

type vec2 struct {
	X, Y float32
}

func TestMessage_AppendExtractReverseOrder(t *testing.T) {
	m := NewMessage(msgChat)

	require.NoError(t, m.Append(uint8(7)))
	require.NoError(t, m.Append(int64(-42)))
	require.NoError(t, m.Append(vec2{X: 1.5, Y: -2}))
	require.NoError(t, m.Append([3]uint16{1, 2, 3}))
	require.NoError(t, m.Append(true))
	assert.Equal(t, uint32(1+8+8+6+1), m.Header.Size)
	assert.Equal(t, HeaderSize+24, m.Size())

	var (
		b   bool
		arr [3]uint16
		v   vec2
		i   int64
		u   uint8
	)
	require.NoError(t, m.Extract(&b))
	require.NoError(t, m.Extract(&arr))
	require.NoError(t, m.Extract(&v))
	require.NoError(t, m.Extract(&i))
	require.NoError(t, m.Extract(&u))

	assert.True(t, b)
	assert.Equal(t, [3]uint16{1, 2, 3}, arr)
	assert.Equal(t, vec2{X: 1.5, Y: -2}, v)
	assert.Equal(t, int64(-42), i)
	assert.Equal(t, uint8(7), u)

	assert.Zero(t, m.Header.Size)
	assert.Empty(t, m.Body)
	assert.Equal(t, HeaderSize, m.Size())
}

func TestMessage_ExtractIsLIFO(t *testing.T) {
	m := NewMessage(msgPing)
	for i := uint32(1); i <= 100; i++ {
		require.NoError(t, m.Append(i))
	}

	for want := uint32(100); want >= 1; want-- {
		var got uint32
		require.NoError(t, m.Extract(&got))
		require.Equal(t, want, got)
	}
	assert.Zero(t, m.Header.Size)
}

func TestMessage_ExtractUnderflow(t *testing.T) {
	m := NewMessage(msgPing)
	require.NoError(t, m.Append(uint16(9)))

	var big uint64
	err := m.Extract(&big)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadUnderflow))

	// body untouched
	assert.Equal(t, uint32(2), m.Header.Size)
	var small uint16
	require.NoError(t, m.Extract(&small))
	assert.Equal(t, uint16(9), small)
}

func TestMessage_RejectsVariableLayout(t *testing.T) {
	m := NewMessage(msgPing)

	tests := []struct {
		name string
		v    any
	}{
		{"string", "hello"},
		{"slice", []byte{1, 2}},
		{"int", 5},
		{"map", map[string]int{}},
		{"struct with slice", struct{ B []byte }{}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Append(tt.v)
			assert.True(t, errors.Is(err, ErrNotFixedSize), "got %v", err)
		})
	}

	var s []byte
	assert.True(t, errors.Is(m.Extract(&s), ErrNotFixedSize))
	assert.Empty(t, m.Body)
}

func TestMessage_HeaderWireLayout(t *testing.T) {
	h := MessageHeader[testMsg]{ID: msgBroadcast, Size: 0x01020304}
	var b [HeaderSize]byte
	h.encode(b[:])

	assert.Equal(t, []byte{3, 0, 0, 0, 4, 3, 2, 1}, b[:])
	assert.Equal(t, h, decodeHeader[testMsg](b[:]))
}

func TestMessage_CloneDoesNotAlias(t *testing.T) {
	m := NewMessage(msgChat)
	require.NoError(t, m.Append(uint32(1)))

	c := m.clone()
	m.Body[0] = 0xFF

	var got uint32
	require.NoError(t, c.Extract(&got))
	assert.Equal(t, uint32(1), got)
}

func TestMessage_String(t *testing.T) {
	m := NewMessage(msgChat)
	require.NoError(t, m.Append(uint64(1)))
	assert.Equal(t, "ID:2 Size:8", m.String())
}
