package rpc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame body.
const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned when a frame body exceeds the configured
// maximum, in either direction.
var ErrFrameTooLarge = errors.New("rpc: frame exceeds maximum size")

/*
EncodeFrame serializes a payload to JSON and prepends the 4-byte big-endian
length header. Batches become arrays, scalars become objects.
*/
func EncodeFrame(p Payload, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if len(body) > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	return frame, nil
}

// WriteFrame encodes one payload and writes the full frame.
func WriteFrame(w io.Writer, p Payload, maxFrameBytes int) error {
	frame, err := EncodeFrame(p, maxFrameBytes)
	if err != nil {
		return err
	}

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

/*
ReadFrame reads one length-prefixed frame body. io.EOF at the header boundary
is the clean end of a session and is returned unwrapped; a short header or a
short body is a protocol error.
*/
func ReadFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	var header [4]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])

	if int64(length) > int64(maxFrameBytes) {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)

	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return body, nil
}
