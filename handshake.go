package msgnet

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// HandshakeSize is the size of each handshake token on the wire.
const HandshakeSize = 8

// ErrHandshakeFailed is returned when a peer answers the server's seed
// with the wrong token.
var ErrHandshakeFailed = errors.New("handshake failed")

// Scramble is the transform both ends apply to the server's seed. The
// client proves it speaks this protocol by returning Scramble(seed).
// It is a fixed bit shuffle, not a cryptographic function.
func Scramble(in uint64) uint64 {
	out := in ^ 0xDEADBEEFC0DECAFE
	out = (out&0xF0F0F0F0F0F0F0)>>4 | (out&0x0F0F0F0F0F0F0F)<<4
	return out ^ 0xC0DEFACE12345678
}

// timeSeed is the default seed source.
func timeSeed() uint64 {
	return uint64(time.Now().UnixNano())
}

func writeToken(w io.Writer, v uint64) error {
	var b [HandshakeSize]byte
	byteOrder.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readToken(r io.Reader) (uint64, error) {
	var b [HandshakeSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(b[:]), nil
}
