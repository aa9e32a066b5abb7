// Package protocol implements the binary wire format spoken over TCP and
// WebSocket: a 4-byte big-endian packet type followed by a payload whose
// length is fixed by the (direction, type) pair.
package protocol

import (
	"fmt"

	"github.com/pjsph/slam/internal/models"
)

// HeaderSize is the length of the type tag that starts every packet.
const HeaderSize = 4

// Direction says which side sends a packet. Tags are only unique within a
// direction.
type Direction int

const (
	ClientBound Direction = iota // server -> client
	ServerBound                  // client -> server
)

func (d Direction) String() string {
	switch d {
	case ClientBound:
		return "client-bound"
	case ServerBound:
		return "server-bound"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

type PacketType uint32

// Client-bound tags.
const (
	TypeMatch     PacketType = 0
	TypeResultAck PacketType = 1
)

// Server-bound tags.
const (
	TypeResult    PacketType = 0
	TypeSubscribe PacketType = 1
)

// Packet is a decoded message of either direction.
type Packet interface {
	Direction() Direction
	Type() PacketType
}

// MatchPacket announces a newly formed match.
type MatchPacket struct {
	Match *models.Match
}

func (MatchPacket) Direction() Direction { return ClientBound }
func (MatchPacket) Type() PacketType     { return TypeMatch }

// ResultAckPacket answers a ResultPacket.
type ResultAckPacket struct {
	MatchID uint64
	Status  models.ResultStatus
}

func (ResultAckPacket) Direction() Direction { return ClientBound }
func (ResultAckPacket) Type() PacketType     { return TypeResultAck }

// ResultPacket reports the outcome of a match.
type ResultPacket struct {
	Report models.ResultReport
}

func (ResultPacket) Direction() Direction { return ServerBound }
func (ResultPacket) Type() PacketType     { return TypeResult }

// SubscribePacket ties a connection to a player so it only receives that
// player's matches. It may be sent more than once.
type SubscribePacket struct {
	Player models.PlayerID
}

func (SubscribePacket) Direction() Direction { return ServerBound }
func (SubscribePacket) Type() PacketType     { return TypeSubscribe }
