package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pjsph/slam/internal/models"
)

const (
	resultPayloadSize    = 8 + 4
	resultAckPayloadSize = 8 + 4
	subscribePayloadSize = 8
)

type key struct {
	dir Direction
	tag PacketType
}

// Codec encodes and decodes packets for one group size. The match payload
// length depends on the number of players per team.
type Codec struct {
	groupSize int
	sizes     map[key]int
}

func NewCodec(groupSize int) *Codec {
	return &Codec{
		groupSize: groupSize,
		sizes: map[key]int{
			{ClientBound, TypeMatch}:     2 * models.GroupPayloadSize(groupSize),
			{ClientBound, TypeResultAck}: resultAckPayloadSize,
			{ServerBound, TypeResult}:    resultPayloadSize,
			{ServerBound, TypeSubscribe}: subscribePayloadSize,
		},
	}
}

func (c *Codec) GroupSize() int {
	return c.groupSize
}

// PayloadSize returns the fixed payload length of a packet type.
func (c *Codec) PayloadSize(dir Direction, tag PacketType) (int, error) {
	n, ok := c.sizes[key{dir, tag}]
	if !ok {
		return 0, fmt.Errorf("%w: %s tag %d", ErrUnknownPacket, dir, tag)
	}
	return n, nil
}

// AppendMatch appends the framed match announcement to dst.
func AppendMatch(dst []byte, m *models.Match) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(TypeMatch))
	return m.AppendPayload(dst)
}

func EncodeMatch(m *models.Match) []byte {
	return AppendMatch(make([]byte, 0, HeaderSize+m.PayloadSize()), m)
}

func EncodeResult(r models.ResultReport) []byte {
	b := make([]byte, 0, HeaderSize+resultPayloadSize)
	b = binary.BigEndian.AppendUint32(b, uint32(TypeResult))
	b = binary.BigEndian.AppendUint64(b, r.MatchID)
	return binary.BigEndian.AppendUint32(b, r.Winner)
}

func EncodeSubscribe(id models.PlayerID) []byte {
	b := make([]byte, 0, HeaderSize+subscribePayloadSize)
	b = binary.BigEndian.AppendUint32(b, uint32(TypeSubscribe))
	return binary.BigEndian.AppendUint64(b, uint64(id))
}

func EncodeResultAck(matchID uint64, status models.ResultStatus) []byte {
	b := make([]byte, 0, HeaderSize+resultAckPayloadSize)
	b = binary.BigEndian.AppendUint32(b, uint32(TypeResultAck))
	b = binary.BigEndian.AppendUint64(b, matchID)
	return binary.BigEndian.AppendUint32(b, uint32(status))
}

// Decode parses one complete packet (header and payload) from the start of
// buf and returns it with the number of bytes consumed. A buf shorter than
// the packet yields ErrTruncated; callers reading a stream should use a
// Framer instead.
func (c *Codec) Decode(dir Direction, buf []byte) (Packet, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrTruncated
	}
	tag := PacketType(binary.BigEndian.Uint32(buf))
	size, err := c.PayloadSize(dir, tag)
	if err != nil {
		return nil, 0, err
	}
	total := HeaderSize + size
	if len(buf) < total {
		return nil, 0, ErrTruncated
	}
	p, err := c.decodePayload(dir, tag, buf[HeaderSize:total])
	if err != nil {
		return nil, 0, err
	}
	return p, total, nil
}

func (c *Codec) decodePayload(dir Direction, tag PacketType, payload []byte) (Packet, error) {
	switch (key{dir, tag}) {
	case key{ClientBound, TypeMatch}:
		m, err := c.DecodeMatch(payload)
		if err != nil {
			return nil, err
		}
		return MatchPacket{Match: m}, nil
	case key{ClientBound, TypeResultAck}:
		return ResultAckPacket{
			MatchID: binary.BigEndian.Uint64(payload),
			Status:  models.ResultStatus(binary.BigEndian.Uint32(payload[8:])),
		}, nil
	case key{ServerBound, TypeResult}:
		return ResultPacket{Report: models.ResultReport{
			MatchID: binary.BigEndian.Uint64(payload),
			Winner:  binary.BigEndian.Uint32(payload[8:]),
		}}, nil
	case key{ServerBound, TypeSubscribe}:
		return SubscribePacket{Player: models.PlayerID(binary.BigEndian.Uint64(payload))}, nil
	}
	return nil, fmt.Errorf("%w: %s tag %d", ErrUnknownPacket, dir, tag)
}

// DecodeMatch parses a match payload (without its header). Each group must
// carry exactly the codec's group size.
func (c *Codec) DecodeMatch(payload []byte) (*models.Match, error) {
	groupLen := models.GroupPayloadSize(c.groupSize)
	if len(payload) != 2*groupLen {
		return nil, fmt.Errorf("%w: match payload is %d bytes, want %d", ErrMalformedPayload, len(payload), 2*groupLen)
	}
	m := &models.Match{Groups: make([]models.Group, 2)}
	for g := range m.Groups {
		b := payload[g*groupLen : (g+1)*groupLen]
		count := int(binary.BigEndian.Uint32(b))
		if count != c.groupSize {
			return nil, fmt.Errorf("%w: group %d has count %d, want %d", ErrMalformedPayload, g, count, c.groupSize)
		}
		b = b[4:]
		players := make([]models.PlayerID, count)
		for i := range players {
			players[i] = models.PlayerID(binary.BigEndian.Uint64(b))
			b = b[8:]
		}
		m.Groups[g] = models.Group{
			Players:     players,
			TotalRating: models.Rating(binary.BigEndian.Uint64(b)),
		}
	}
	return m, nil
}
