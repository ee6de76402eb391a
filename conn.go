// Package msgnet is a small asynchronous TCP messaging framework.
//
// Peers exchange length-prefixed frames ([type tag: 4][body length: 4][body])
// after a one-round handshake in which the server sends a seed and the
// client must answer with Scramble(seed). Inbound frames from every
// connection land on one Queue that the application drains on its own
// goroutine, through Server.Update or Client.Incoming.
package msgnet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by connection operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMessageTooLarge is returned when a peer announces a body larger
	// than the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
)

// Role tells which side of the handshake a connection plays.
type Role int

const (
	// RoleServer connections send the seed and verify the answer.
	RoleServer Role = iota
	// RoleClient connections answer the seed.
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// ConnState is the lifecycle state of a connection. States only move
// forward; Closed is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAwaitingHandshake
	StateValidated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateValidated:
		return "validated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Conn is one peer connection. It performs the handshake, reads frames
// into the shared inbound queue and writes queued outbound messages.
//
// Frames are only read or written once the connection is Validated.
// Messages sent earlier are held and flushed on validation.
type Conn[T MessageType] struct {
	role   Role
	id     atomic.Uint32
	logger Logger
	opts   options

	r   *reactor
	in  *Queue[OwnedMessage[T]]
	out *Queue[Message[T]]

	// onValidated is the owning server's notification hook.
	onValidated func(*Conn[T])

	state atomic.Int32

	mu      sync.Mutex // guards rawConn, writing, unwatch and state transitions
	rawConn net.Conn
	reader  *bufio.Reader
	writing bool

	closeOnce sync.Once
	unwatch   func() bool
}

func newConn[T MessageType](role Role, raw net.Conn, in *Queue[OwnedMessage[T]], r *reactor, opts options) *Conn[T] {
	c := &Conn[T]{
		role:   role,
		logger: opts.logger,
		opts:   opts,
		r:      r,
		in:     in,
		out:    NewQueue[Message[T]](),
	}

	if raw != nil {
		c.rawConn = raw
		c.reader = bufio.NewReader(raw)
		c.state.Store(int32(StateAwaitingHandshake))
	} else {
		c.state.Store(int32(StateConnecting))
	}

	// Close takes c.mu, so an already canceled reactor cannot run it
	// before unwatch is set.
	c.mu.Lock()
	c.unwatch = context.AfterFunc(r.ctx, func() { _ = c.Close() })
	c.mu.Unlock()
	return c
}

// ID returns the identifier the server assigned at accept time.
// Client-side connections report 0.
func (c *Conn[T]) ID() uint32 {
	return c.id.Load()
}

// Role returns the side of the handshake this connection plays.
func (c *Conn[T]) Role() Role {
	return c.role
}

// State returns the current lifecycle state.
func (c *Conn[T]) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether the socket is open. It is true during the
// handshake as well as after it.
func (c *Conn[T]) IsConnected() bool {
	s := c.State()
	return s == StateAwaitingHandshake || s == StateValidated
}

// IsClosed returns true if the connection has been closed.
func (c *Conn[T]) IsClosed() bool {
	return c.State() == StateClosed
}

// RemoteAddr returns the peer address, or nil before the socket exists.
func (c *Conn[T]) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rawConn == nil {
		return nil
	}
	return c.rawConn.RemoteAddr()
}

func (c *Conn[T]) String() string {
	addr := "-"
	if a := c.RemoteAddr(); a != nil {
		addr = a.String()
	}
	return fmt.Sprintf("[%d]%s<%s>", c.ID(), c.role, addr)
}

// Send queues msg for delivery. The message is copied, so the caller may
// reuse it. The outbound queue is unbounded.
func (c *Conn[T]) Send(msg Message[T]) error {
	m := msg.clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.out.PushBack(m)
	if c.State() == StateValidated && !c.writing {
		c.startWriting()
	}
	return nil
}

// Close shuts the socket down. Pending reads and writes fail and end the
// connection's loops. Safe to call multiple times.
func (c *Conn[T]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		raw, unwatch := c.rawConn, c.unwatch
		c.out.Clear()
		c.mu.Unlock()

		if unwatch != nil {
			unwatch()
		}
		if raw != nil {
			err = raw.Close()
		}
		c.logger.Info("connection closed", "id", c.ID(), "role", c.role, "addr", c.RemoteAddr())
	})
	return err
}

// startServer starts the server side of the handshake followed by the
// read loop. onValidated is called once the client's answer checks out.
func (c *Conn[T]) startServer(onValidated func(*Conn[T])) {
	c.onValidated = onValidated
	if !c.r.post(c.serveClient) {
		_ = c.Close()
	}
}

// startClient dials addrs in order, then answers the handshake and starts
// the read loop.
func (c *Conn[T]) startClient(addrs []string) {
	if !c.r.post(func() error { return c.serveServer(addrs) }) {
		_ = c.Close()
	}
}

func (c *Conn[T]) serveClient() error {
	if err := c.handshakeWithClient(); err != nil {
		if !c.IsClosed() {
			c.logger.Info("handshake failed", "id", c.ID(), "addr", c.RemoteAddr(), "error", err)
		}
		c.opts.metrics.handshakeFailed()
		_ = c.Close()
		return nil
	}

	if c.validate() {
		c.readLoop()
	}
	return nil
}

func (c *Conn[T]) serveServer(addrs []string) error {
	raw, err := c.dial(addrs)
	if err != nil {
		c.fail("connect", err)
		return nil
	}
	if !c.attach(raw) {
		return nil
	}
	c.logger.Info("connection established", "addr", raw.RemoteAddr())

	if err := c.handshakeWithServer(); err != nil {
		c.opts.metrics.handshakeFailed()
		c.fail("handshake", err)
		return nil
	}

	if c.validate() {
		c.readLoop()
	}
	return nil
}

func (c *Conn[T]) dial(addrs []string) (net.Conn, error) {
	var (
		d   net.Dialer
		err error
	)
	for _, addr := range addrs {
		var raw net.Conn
		raw, err = d.DialContext(c.r.ctx, "tcp", addr)
		if err == nil {
			return raw, nil
		}
		c.logger.Debug("dial failed", "addr", addr, "error", err)
	}
	if err == nil {
		err = errors.New("no addresses to dial")
	}
	return nil, err
}

// attach installs the dialed socket unless the connection was closed
// while dialing.
func (c *Conn[T]) attach(raw net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		_ = raw.Close()
		return false
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c.rawConn = raw
	c.reader = bufio.NewReader(raw)
	c.state.Store(int32(StateAwaitingHandshake))
	return true
}

// handshakeWithClient sends the seed and checks the client's answer.
func (c *Conn[T]) handshakeWithClient() error {
	c.armHandshakeDeadline()

	seed := c.opts.seed()
	expected := Scramble(seed)

	if err := writeToken(c.rawConn, seed); err != nil {
		return errors.Wrap(err, "write handshake seed")
	}

	got, err := readToken(c.reader)
	if err != nil {
		return errors.Wrap(err, "read handshake response")
	}
	if got != expected {
		return ErrHandshakeFailed
	}

	return c.clearDeadline()
}

// handshakeWithServer answers the server's seed. The client does not
// verify anything itself.
func (c *Conn[T]) handshakeWithServer() error {
	c.armHandshakeDeadline()

	seed, err := readToken(c.reader)
	if err != nil {
		return errors.Wrap(err, "read handshake seed")
	}

	if err := writeToken(c.rawConn, Scramble(seed)); err != nil {
		return errors.Wrap(err, "write handshake response")
	}

	return c.clearDeadline()
}

func (c *Conn[T]) armHandshakeDeadline() {
	if c.opts.handshakeTimeout > 0 {
		_ = c.rawConn.SetDeadline(time.Now().Add(c.opts.handshakeTimeout))
	}
}

func (c *Conn[T]) clearDeadline() error {
	if c.opts.handshakeTimeout > 0 {
		return c.rawConn.SetDeadline(time.Time{})
	}
	return nil
}

// validate moves the connection to Validated, flushes anything sent during
// the handshake and notifies the owner.
func (c *Conn[T]) validate() bool {
	c.mu.Lock()
	if c.IsClosed() {
		c.mu.Unlock()
		return false
	}
	c.state.Store(int32(StateValidated))
	if !c.out.Empty() && !c.writing {
		c.startWriting()
	}
	c.mu.Unlock()

	c.opts.metrics.handshakeValidated()
	c.logger.Info("connection validated", "id", c.ID(), "role", c.role, "addr", c.RemoteAddr())

	if c.onValidated != nil {
		c.onValidated(c)
	}
	return true
}

// readLoop reads frames until the socket fails. Each frame is pushed onto
// the shared inbound queue.
func (c *Conn[T]) readLoop() {
	var hdr [HeaderSize]byte
	for {
		if _, err := io.ReadFull(c.reader, hdr[:]); err != nil {
			c.fail("read header", err)
			return
		}

		h := decodeHeader[T](hdr[:])
		if int64(h.Size) > int64(c.opts.maxReadLength) {
			c.fail("read header", errors.Wrapf(ErrMessageTooLarge, "body of %d bytes", h.Size))
			return
		}

		msg := Message[T]{Header: h}
		if h.Size > 0 {
			msg.Body = make([]byte, h.Size)
			if _, err := io.ReadFull(c.reader, msg.Body); err != nil {
				c.fail("read body", err)
				return
			}
		}

		c.opts.metrics.frameReceived(msg.Size())
		c.in.PushBack(OwnedMessage[T]{Remote: c.sender(), Msg: msg})
	}
}

// sender is the Remote recorded on inbound messages.
func (c *Conn[T]) sender() *Conn[T] {
	if c.role == RoleServer {
		return c
	}
	return nil
}

// startWriting launches the write loop. Callers hold c.mu and have checked
// that no write loop is running.
func (c *Conn[T]) startWriting() {
	c.writing = true
	if !c.r.post(c.writeLoop) {
		c.writing = false
	}
}

// writeLoop writes queued messages until the queue is empty, then exits.
// At most one write loop runs per connection.
func (c *Conn[T]) writeLoop() error {
	for {
		msg, ok := c.out.Front()
		if !ok {
			c.stopWriting()
			return nil
		}

		if err := c.writeMessage(&msg); err != nil {
			c.stopWriting()
			c.fail("write", err)
			return nil
		}
		c.opts.metrics.frameSent(msg.Size())

		c.mu.Lock()
		if c.out.popFrontLen() == 0 || c.IsClosed() {
			c.writing = false
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
	}
}

func (c *Conn[T]) stopWriting() {
	c.mu.Lock()
	c.writing = false
	c.mu.Unlock()
}

func (c *Conn[T]) writeMessage(msg *Message[T]) error {
	var hdr [HeaderSize]byte
	msg.Header.encode(hdr[:])

	bufs := net.Buffers{hdr[:]}
	if len(msg.Body) > 0 {
		bufs = append(bufs, msg.Body)
	}
	_, err := bufs.WriteTo(c.rawConn)
	return err
}

// fail logs err and closes the connection. Errors caused by our own Close
// are logged at debug level only.
func (c *Conn[T]) fail(op string, err error) {
	switch {
	case c.IsClosed():
		c.logger.Debug(op+" aborted", "id", c.ID(), "role", c.role, "error", err)
	case errors.Is(err, io.EOF):
		c.logger.Debug(op+" failed: peer hung up", "id", c.ID(), "role", c.role, "addr", c.RemoteAddr())
	default:
		c.logger.Info(op+" failed", "id", c.ID(), "role", c.role, "addr", c.RemoteAddr(), "error", err)
	}
	_ = c.Close()
}
