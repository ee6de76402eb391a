package msgnet

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed uint64 = 1234

func fixedSeed() uint64 { return testSeed }

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		t.Cleanup(func() {
			serverConn.Close()
			clientConn.Close()
		})
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

func newTestReactor(t *testing.T) *reactor {
	t.Helper()

	r := newReactor(context.Background())
	t.Cleanup(func() { _ = r.stop() })
	return r
}

// newServerConn wraps the server half of a TCP pair and starts its
// handshake. The returned channel is closed once the connection validates.
func newServerConn(t *testing.T, opt ...Option) (*Conn[testMsg], *Queue[OwnedMessage[testMsg]], net.Conn, chan struct{}) {
	t.Helper()

	srv, peer := createTestTCPPair(t)
	in := NewQueue[OwnedMessage[testMsg]]()
	opts := newOptions(append([]Option{SeedOption(fixedSeed), LoggerOption(NopLogger{})}, opt...)...)

	c := newConn[testMsg](RoleServer, srv, in, newTestReactor(t), opts)
	validated := make(chan struct{})
	c.startServer(func(*Conn[testMsg]) { close(validated) })
	return c, in, peer, validated
}

// answerHandshake plays the client side of the handshake on peer.
func answerHandshake(t *testing.T, peer net.Conn) {
	t.Helper()

	seed, err := readToken(peer)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)
	require.NoError(t, writeToken(peer, Scramble(seed)))
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func writeFrame(t *testing.T, w io.Writer, id testMsg, body []byte) {
	t.Helper()

	var hdr [HeaderSize]byte
	MessageHeader[testMsg]{ID: id, Size: uint32(len(body))}.encode(hdr[:])
	_, err := w.Write(append(hdr[:], body...))
	require.NoError(t, err)
}

func readFrame(t *testing.T, r io.Reader) Message[testMsg] {
	t.Helper()

	var hdr [HeaderSize]byte
	_, err := io.ReadFull(r, hdr[:])
	require.NoError(t, err)

	msg := Message[testMsg]{Header: decodeHeader[testMsg](hdr[:])}
	msg.Body = make([]byte, msg.Header.Size)
	_, err = io.ReadFull(r, msg.Body)
	require.NoError(t, err)
	return msg
}

func popWithin(t *testing.T, q *Queue[OwnedMessage[testMsg]], d time.Duration) OwnedMessage[testMsg] {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	require.NoError(t, q.WaitContext(ctx), "no inbound message")
	om, ok := q.PopFront()
	require.True(t, ok)
	return om
}

func TestConn_ServerHandshake(t *testing.T) {
	c, in, peer, validated := newServerConn(t)
	assert.Equal(t, StateAwaitingHandshake, c.State())
	assert.True(t, c.IsConnected())

	answerHandshake(t, peer)
	waitClosed(t, validated, "validation")
	assert.Equal(t, StateValidated, c.State())

	writeFrame(t, peer, msgChat, []byte("hi"))
	om := popWithin(t, in, 5*time.Second)
	assert.Same(t, c, om.Remote)
	assert.Equal(t, msgChat, om.Msg.Header.ID)
	assert.Equal(t, []byte("hi"), om.Msg.Body)

	writeFrame(t, peer, msgPing, nil)
	om = popWithin(t, in, 5*time.Second)
	assert.Equal(t, msgPing, om.Msg.Header.ID)
	assert.Empty(t, om.Msg.Body)
}

func TestConn_ServerHandshakeWrongAnswer(t *testing.T) {
	c, in, peer, validated := newServerConn(t)

	seed, err := readToken(peer)
	require.NoError(t, err)
	require.NoError(t, writeToken(peer, Scramble(seed)+1))

	require.Eventually(t, c.IsClosed, 5*time.Second, 10*time.Millisecond)

	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = peer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-validated:
		t.Fatal("connection validated with a wrong answer")
	default:
	}
	assert.True(t, in.Empty())
}

func TestConn_SendBeforeValidationIsHeld(t *testing.T) {
	c, _, peer, validated := newServerConn(t)

	msg := NewMessage(msgChat)
	require.NoError(t, msg.Append(uint32(7)))
	require.NoError(t, c.Send(msg))

	seed, err := readToken(peer)
	require.NoError(t, err)

	// Nothing but the seed may be written before the answer arrives.
	_ = peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err = peer.Read(make([]byte, 1))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	_ = peer.SetReadDeadline(time.Time{})

	require.NoError(t, writeToken(peer, Scramble(seed)))
	waitClosed(t, validated, "validation")

	got := readFrame(t, peer)
	assert.Equal(t, msgChat, got.Header.ID)
	assert.Equal(t, []byte{7, 0, 0, 0}, got.Body)
}

func TestConn_WriteOrder(t *testing.T) {
	c, _, peer, validated := newServerConn(t)
	answerHandshake(t, peer)
	waitClosed(t, validated, "validation")

	const n = 200
	go func() {
		for i := uint32(0); i < n; i++ {
			msg := NewMessage(msgBroadcast)
			_ = msg.Append(i)
			_ = c.Send(msg)
		}
	}()

	_ = peer.SetReadDeadline(time.Now().Add(10 * time.Second))
	for i := uint32(0); i < n; i++ {
		got := readFrame(t, peer)
		require.Equal(t, i, binary.LittleEndian.Uint32(got.Body))
	}
}

func TestConn_MessageTooLarge(t *testing.T) {
	c, in, peer, validated := newServerConn(t, MessageMaxSize(16))
	answerHandshake(t, peer)
	waitClosed(t, validated, "validation")

	writeFrame(t, peer, msgChat, make([]byte, 16))
	om := popWithin(t, in, 5*time.Second)
	assert.Len(t, om.Msg.Body, 16)

	var hdr [HeaderSize]byte
	MessageHeader[testMsg]{ID: msgChat, Size: 17}.encode(hdr[:])
	_, err := peer.Write(hdr[:])
	require.NoError(t, err)

	require.Eventually(t, c.IsClosed, 5*time.Second, 10*time.Millisecond)
	assert.True(t, in.Empty())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c, _, _, _ := newServerConn(t)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Send(NewMessage(msgPing)), ErrConnectionClosed)
}

func TestConn_ReactorStopClosesConn(t *testing.T) {
	srv, _ := createTestTCPPair(t)
	r := newReactor(context.Background())
	c := newConn[testMsg](RoleServer, srv, NewQueue[OwnedMessage[testMsg]](), r, newOptions(LoggerOption(NopLogger{})))
	c.startServer(nil)

	require.NoError(t, r.stop())
	assert.True(t, c.IsClosed())
}

func TestConn_NewOnStoppedReactor(t *testing.T) {
	r := newReactor(context.Background())
	require.NoError(t, r.stop())

	opts := newOptions(LoggerOption(NopLogger{}))
	for i := 0; i < 200; i++ {
		a, b := net.Pipe()
		c := newConn[testMsg](RoleServer, a, NewQueue[OwnedMessage[testMsg]](), r, opts)
		require.Eventually(t, c.IsClosed, 5*time.Second, time.Millisecond)
		_ = b.Close()
	}
}

func TestConn_ClientRole(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	in := NewQueue[OwnedMessage[testMsg]]()
	c := newConn[testMsg](RoleClient, nil, in, newTestReactor(t), newOptions(LoggerOption(NopLogger{})))
	assert.Equal(t, StateConnecting, c.State())
	assert.False(t, c.IsConnected())
	assert.Nil(t, c.RemoteAddr())

	c.startClient([]string{listener.Addr().String()})

	peer, err := listener.Accept()
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, writeToken(peer, 99))
	answer, err := readToken(peer)
	require.NoError(t, err)
	assert.Equal(t, Scramble(99), answer)

	require.Eventually(t, func() bool { return c.State() == StateValidated }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.ID())
	assert.Equal(t, RoleClient, c.Role())

	writeFrame(t, peer, msgPing, []byte{1, 2, 3, 4})
	om := popWithin(t, in, 5*time.Second)
	assert.Nil(t, om.Remote)
	assert.Equal(t, []byte{1, 2, 3, 4}, om.Msg.Body)
}

func TestConn_ClientDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	c := newConn[testMsg](RoleClient, nil, NewQueue[OwnedMessage[testMsg]](), newTestReactor(t), newOptions(LoggerOption(NopLogger{})))
	c.startClient([]string{addr})

	require.Eventually(t, c.IsClosed, 5*time.Second, 10*time.Millisecond)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "awaiting-handshake", StateAwaitingHandshake.String())
	assert.Equal(t, "validated", StateValidated.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
	assert.Equal(t, "server", RoleServer.String())
	assert.Equal(t, "client", RoleClient.String())
}

func dialTest(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 5*time.Second)
}
