package protocol

import "errors"

// Decoding errors. Each one means the stream cannot be resynchronised and the
// connection must be closed.
var (
	ErrUnknownPacket    = errors.New("unknown packet type")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrTruncated        = errors.New("stream ended mid-packet")
)
