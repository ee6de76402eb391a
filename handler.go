package msgnet

// Handler is the set of callbacks a Server invokes. It is supplied once,
// at construction.
//
// OnClientValidated and OnMessage run only inside Server.Update, on the
// caller's goroutine, one at a time. The other two do not:
// OnClientConnect runs on the accept goroutine before the handshake, and
// OnClientDisconnect runs on the goroutine whose send found the client
// gone. Both may run concurrently with Update, so any state they share
// with the other callbacks needs its own locking.
type Handler[T MessageType] interface {
	// OnClientConnect approves (true) or denies (false) a freshly accepted
	// connection. Denied connections are closed without a handshake.
	OnClientConnect(c *Conn[T]) bool
	// OnClientDisconnect is called when a roster member is found closed
	// and evicted.
	OnClientDisconnect(c *Conn[T])
	// OnClientValidated is called once a client has passed the handshake.
	OnClientValidated(c *Conn[T])
	// OnMessage is called for every inbound message.
	OnMessage(c *Conn[T], msg *Message[T])
}

// HandlerFuncs adapts plain functions to a Handler. Nil fields are no-ops,
// except Connect: a nil Connect denies every connection.
type HandlerFuncs[T MessageType] struct {
	Connect    func(c *Conn[T]) bool
	Disconnect func(c *Conn[T])
	Validated  func(c *Conn[T])
	Message    func(c *Conn[T], msg *Message[T])
}

func (h HandlerFuncs[T]) OnClientConnect(c *Conn[T]) bool {
	if h.Connect == nil {
		return false
	}
	return h.Connect(c)
}

func (h HandlerFuncs[T]) OnClientDisconnect(c *Conn[T]) {
	if h.Disconnect != nil {
		h.Disconnect(c)
	}
}

func (h HandlerFuncs[T]) OnClientValidated(c *Conn[T]) {
	if h.Validated != nil {
		h.Validated(c)
	}
}

func (h HandlerFuncs[T]) OnMessage(c *Conn[T], msg *Message[T]) {
	if h.Message != nil {
		h.Message(c, msg)
	}
}
