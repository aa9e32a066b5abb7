package protocol

import "errors"

// Framer reassembles packets from a byte stream that may split them across
// reads. It is not safe for concurrent use.
type Framer struct {
	codec *Codec
	dir   Direction
	buf   []byte
	off   int
}

// NewFramer returns a Framer decoding packets travelling in dir.
func NewFramer(codec *Codec, dir Direction) *Framer {
	return &Framer{
		codec: codec,
		dir:   dir,
		buf:   make([]byte, 0, 1024),
	}
}

// Feed appends bytes read from the stream.
func (f *Framer) Feed(p []byte) {
	if f.off > 0 && f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	} else if f.off > cap(f.buf)/2 {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	f.buf = append(f.buf, p...)
}

// Next returns the next complete packet, or nil when more bytes are needed.
// An error means the stream is unusable.
func (f *Framer) Next() (Packet, error) {
	p, n, err := f.codec.Decode(f.dir, f.buf[f.off:])
	if errors.Is(err, ErrTruncated) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.off += n
	return p, nil
}

// Buffered is the number of bytes held for an incomplete packet.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.off
}

// Close reports whether the stream ended cleanly on a packet boundary.
func (f *Framer) Close() error {
	if f.Buffered() > 0 {
		return ErrTruncated
	}
	return nil
}
