// Package ping holds the message types and server logic shared by the
// pingserver and pingclient programs.
package ping

import (
	"fmt"
	"time"

	"github.com/Zereker/msgnet"
)

// MsgType tags every ping message.
type MsgType uint32

const (
	ServerAccept MsgType = iota
	ServerDeny
	ServerPing
	MessageAll
	ServerMessage
)

func (t MsgType) String() string {
	switch t {
	case ServerAccept:
		return "ServerAccept"
	case ServerDeny:
		return "ServerDeny"
	case ServerPing:
		return "ServerPing"
	case MessageAll:
		return "MessageAll"
	case ServerMessage:
		return "ServerMessage"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// NewPing returns a ServerPing carrying now.
func NewPing(now time.Time) msgnet.Message[MsgType] {
	msg := msgnet.NewMessage(ServerPing)
	// int64 always has a fixed layout.
	_ = msg.Append(now.UnixNano())
	return msg
}

// RoundTrip extracts the timestamp of an echoed ping and returns how long
// ago it was taken.
func RoundTrip(msg *msgnet.Message[MsgType], now time.Time) (time.Duration, error) {
	var sent int64
	if err := msg.Extract(&sent); err != nil {
		return 0, err
	}
	return now.Sub(time.Unix(0, sent)), nil
}

// NewServerMessage returns the broadcast a server relays on behalf of
// sender.
func NewServerMessage(sender uint32) msgnet.Message[MsgType] {
	msg := msgnet.NewMessage(ServerMessage)
	_ = msg.Append(sender)
	return msg
}

// Sender extracts the originating client ID from a ServerMessage.
func Sender(msg *msgnet.Message[MsgType]) (uint32, error) {
	var id uint32
	err := msg.Extract(&id)
	return id, err
}
