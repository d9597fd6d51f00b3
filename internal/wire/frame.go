package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	headerSize = 4

	// DefaultMaxFrameSize bounds a single frame's payload.
	DefaultMaxFrameSize = 1 << 20
)

// WriteFrame writes payload preceded by its length.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("frame of %d bytes exceeds header range", len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. A clean end of stream before the header is
// reported as io.EOF; everything else that is not an I/O error wraps
// ErrDecode.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header", ErrDecode)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrDecode, size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame body", ErrDecode)
		}
		return nil, err
	}
	return payload, nil
}

// WriteMessage encodes m and writes it as one frame.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := Marshal(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads and decodes one frame.
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}
