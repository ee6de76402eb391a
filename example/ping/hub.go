package ping

import (
	"sync/atomic"

	"github.com/Zereker/msgnet"
)

// Hub is the ping server's Handler. It welcomes validated clients, echoes
// pings and relays MessageAll requests to everyone else.
type Hub struct {
	server *msgnet.Server[MsgType]
	logger msgnet.Logger

	// maxClients caps the roster; zero means no cap.
	maxClients int
	pings      atomic.Int64
}

var _ msgnet.Handler[MsgType] = (*Hub)(nil)

// NewHub returns a Hub. maxClients of zero admits everyone.
func NewHub(logger msgnet.Logger, maxClients int) *Hub {
	if logger == nil {
		logger = msgnet.NopLogger{}
	}
	return &Hub{logger: logger, maxClients: maxClients}
}

// Attach binds the hub to the server it handles. It must be called before
// the server is started.
func (h *Hub) Attach(s *msgnet.Server[MsgType]) {
	h.server = s
}

// Pings returns how many pings have been echoed.
func (h *Hub) Pings() int64 {
	return h.pings.Load()
}

func (h *Hub) OnClientConnect(c *msgnet.Conn[MsgType]) bool {
	if h.maxClients > 0 && h.server.Len() >= h.maxClients {
		h.logger.Info("roster full", "addr", c.RemoteAddr(), "max", h.maxClients)
		return false
	}
	return true
}

func (h *Hub) OnClientDisconnect(c *msgnet.Conn[MsgType]) {
	h.logger.Info("client removed", "id", c.ID())
}

func (h *Hub) OnClientValidated(c *msgnet.Conn[MsgType]) {
	h.logger.Info("client validated", "id", c.ID())
	_ = h.server.MessageClient(c, msgnet.NewMessage(ServerAccept))
}

func (h *Hub) OnMessage(c *msgnet.Conn[MsgType], msg *msgnet.Message[MsgType]) {
	switch msg.Header.ID {
	case ServerPing:
		h.logger.Debug("ping", "id", c.ID())
		h.pings.Add(1)
		_ = h.server.MessageClient(c, *msg)

	case MessageAll:
		h.logger.Debug("message all", "id", c.ID())
		h.server.MessageAllClients(NewServerMessage(c.ID()), c)

	default:
		h.logger.Warn("unexpected message", "id", c.ID(), "type", msg.Header.ID)
	}
}
