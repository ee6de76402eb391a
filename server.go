package msgnet

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

// FirstClientID is the ID assigned to the first approved connection.
// Every later approval gets the next integer.
const FirstClientID uint32 = 10000

// Unbounded tells Update to dispatch every queued message.
const Unbounded = -1

// Errors returned by server operations.
var (
	// ErrServerClosed is returned by Start after Stop.
	ErrServerClosed = errors.New("server closed")
	// ErrServerStarted is returned by a second call to Start.
	ErrServerStarted = errors.New("server already started")
)

// ClientInfo describes one roster member.
type ClientInfo struct {
	ID         uint32 `json:"id"`
	RemoteAddr string `json:"remote_addr"`
	State      string `json:"state"`
}

// Server accepts TCP clients, admits them through the handshake and keeps
// them in an ordered roster. Inbound messages from all clients are queued
// and handed to the Handler by Update.
type Server[T MessageType] struct {
	listener net.Listener
	handler  Handler[T]
	logger   Logger
	opts     options

	in        *Queue[OwnedMessage[T]]
	validated *Queue[*Conn[T]]
	// wake holds one token whenever either queue was pushed since the
	// last time Update looked.
	wake chan struct{}

	mu      sync.Mutex
	roster  []*Conn[T]
	nextID  uint32
	reactor *reactor
	stopped bool
}

// New creates a server listening on addr (for example ":60000").
// Returns an error if the address cannot be bound.
func New[T MessageType](addr string, handler Handler[T], opt ...Option) (*Server[T], error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	opts := newOptions(opt...)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	if opts.maxConnections > 0 {
		listener = netutil.LimitListener(listener, opts.maxConnections)
	}

	s := &Server[T]{
		listener: listener,
		handler:  handler,
		logger:   opts.logger,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		nextID:   FirstClientID,
	}
	s.in = newNotifyingQueue[OwnedMessage[T]](s.notify)
	s.validated = newNotifyingQueue[*Conn[T]](s.notify)
	return s, nil
}

// Start launches the accept loop. Connections are served until Stop is
// called or ctx is canceled.
func (s *Server[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerClosed
	}
	if s.reactor != nil {
		return ErrServerStarted
	}

	s.reactor = newReactor(ctx)
	context.AfterFunc(s.reactor.ctx, func() { _ = s.listener.Close() })
	s.reactor.post(s.acceptLoop)

	s.logger.Info("server started", "addr", s.listener.Addr())
	return nil
}

// Stop closes the listener and every roster connection, then waits for
// all connection goroutines to return. Safe to call multiple times.
func (s *Server[T]) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	r := s.reactor
	roster := s.roster
	s.roster = nil
	s.mu.Unlock()

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, c := range roster {
		_ = c.Close()
	}
	s.opts.metrics.rosterSize(0)

	if r != nil {
		if rerr := r.stop(); rerr != nil {
			err = rerr
		}
	}

	s.logger.Info("server stopped", "addr", s.listener.Addr())
	return err
}

// acceptLoop accepts sockets until the listener is closed.
func (s *Server[T]) acceptLoop() error {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.reactor.done():
				return nil
			default:
			}

			// Timeouts are retried.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			return errors.Wrap(err, "accept")
		}

		s.admit(raw)
	}
}

// admit runs the accept filter and, on approval, assigns an ID, adds the
// connection to the roster and starts its handshake.
func (s *Server[T]) admit(raw net.Conn) {
	s.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := newConn[T](RoleServer, raw, s.in, s.reactor, s.opts)
	if !s.handler.OnClientConnect(c) {
		s.logger.Info("connection denied", "remote_addr", raw.RemoteAddr())
		s.opts.metrics.connectionDenied()
		_ = c.Close()
		return
	}

	s.mu.Lock()
	c.id.Store(s.nextID)
	s.nextID++
	s.roster = append(s.roster, c)
	n := len(s.roster)
	s.mu.Unlock()

	s.opts.metrics.connectionAccepted()
	s.opts.metrics.rosterSize(n)
	s.logger.Info("connection approved", "id", c.ID(), "remote_addr", raw.RemoteAddr())

	c.startServer(s.notifyValidated)
}

func (s *Server[T]) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// notifyValidated runs on the connection's goroutine; the Handler hears
// about it from Update.
func (s *Server[T]) notifyValidated(c *Conn[T]) {
	s.validated.PushBack(c)
}

// Update dispatches inbound messages to the Handler on the calling
// goroutine. Newly validated clients are reported first. If wait is set
// and no message is queued, Update blocks until one arrives or ctx is
// done, reporting clients that validate in the meantime as they do. It
// then pops up to maxMessages messages (all of them if maxMessages <= 0),
// calling OnMessage for each in order, and returns how many it dispatched.
//
// Update is the only place inbound messages are consumed; call it from a
// single goroutine.
func (s *Server[T]) Update(ctx context.Context, maxMessages int, wait bool) (int, error) {
	s.dispatchValidated()

	for wait && s.in.Empty() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.wake:
		}
		s.dispatchValidated()
	}

	n := 0
	for maxMessages <= 0 || n < maxMessages {
		om, ok := s.in.PopFront()
		if !ok {
			break
		}
		// A client's validation is queued before any of its messages.
		s.dispatchValidated()
		s.handler.OnMessage(om.Remote, &om.Msg)
		n++
	}
	return n, nil
}

func (s *Server[T]) dispatchValidated() {
	for {
		c, ok := s.validated.PopFront()
		if !ok {
			return
		}
		s.handler.OnClientValidated(c)
	}
}

// MessageClient sends msg to c. If c turns out to be disconnected it is
// evicted from the roster, OnClientDisconnect is called and
// ErrConnectionClosed is returned.
func (s *Server[T]) MessageClient(c *Conn[T], msg Message[T]) error {
	if c != nil && c.IsConnected() {
		if err := c.Send(msg); err == nil {
			return nil
		}
	}

	s.evict(c)
	return ErrConnectionClosed
}

// MessageAllClients sends msg to every roster member except ignore, which
// may be nil. Members found disconnected are evicted; the rest still
// receive the message.
func (s *Server[T]) MessageAllClients(msg Message[T], ignore *Conn[T]) {
	var dead []*Conn[T]
	for _, c := range s.Roster() {
		if c.IsConnected() {
			if c == ignore {
				continue
			}
			if err := c.Send(msg); err == nil {
				continue
			}
		}
		dead = append(dead, c)
	}

	s.evict(dead...)
}

// evict removes conns from the roster and notifies the Handler once for
// each connection that was actually removed.
func (s *Server[T]) evict(conns ...*Conn[T]) {
	if len(conns) == 0 {
		return
	}

	s.mu.Lock()
	var removed []*Conn[T]
	s.roster = slices.DeleteFunc(s.roster, func(c *Conn[T]) bool {
		if slices.Contains(conns, c) {
			removed = append(removed, c)
			return true
		}
		return false
	})
	n := len(s.roster)
	s.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	s.opts.metrics.connectionEvicted(len(removed))
	s.opts.metrics.rosterSize(n)

	for _, c := range removed {
		_ = c.Close()
		s.logger.Info("client evicted", "id", c.ID())
		s.handler.OnClientDisconnect(c)
	}
}

// Roster returns a snapshot of the roster in approval order.
func (s *Server[T]) Roster() []*Conn[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.roster)
}

// Len returns the number of roster members.
func (s *Server[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.roster)
}

// Clients describes every roster member.
func (s *Server[T]) Clients() []ClientInfo {
	roster := s.Roster()
	out := make([]ClientInfo, 0, len(roster))
	for _, c := range roster {
		info := ClientInfo{ID: c.ID(), State: c.State().String()}
		if addr := c.RemoteAddr(); addr != nil {
			info.RemoteAddr = addr.String()
		}
		out = append(out, info)
	}
	return out
}

// Incoming returns the inbound queue shared by all connections.
func (s *Server[T]) Incoming() *Queue[OwnedMessage[T]] {
	return s.in
}

// Addr returns the listener's network address.
func (s *Server[T]) Addr() net.Addr {
	return s.listener.Addr()
}
