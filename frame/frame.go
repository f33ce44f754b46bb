package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const headerSize = 4

var (
	ErrMalformedEnvelope = errors.New("malformed frame envelope")
	ErrSizeMismatch      = errors.New("frame size mismatch")
)

// Frame is one raw RGB565 capture as sent by the device.
// Data holds Width*Height big-endian 16-bit samples.
type Frame struct {
	Width  uint16
	Height uint16
	Data   []byte
}

// PixelBytes is the payload length a frame of the given size must carry.
func PixelBytes(width, height uint16) int {
	return int(width) * int(height) * 2
}

// Encode builds the wire envelope: width, height (both big-endian) and the pixels.
func Encode(width, height uint16, pixels []byte) []byte {
	b := make([]byte, headerSize+len(pixels))
	binary.BigEndian.PutUint16(b[0:2], width)
	binary.BigEndian.PutUint16(b[2:4], height)
	copy(b[headerSize:], pixels)
	return b
}

// Encode returns the wire envelope of f.
func (f Frame) Encode() []byte {
	return Encode(f.Width, f.Height, f.Data)
}

// Decode parses an envelope. The returned frame shares memory with b.
func Decode(b []byte) (Frame, error) {
	if len(b) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedEnvelope, len(b))
	}
	width := binary.BigEndian.Uint16(b[0:2])
	height := binary.BigEndian.Uint16(b[2:4])
	pixels := b[headerSize:]
	if want := PixelBytes(width, height); len(pixels) != want {
		return Frame{}, fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrSizeMismatch, width, height, want, len(pixels))
	}
	return Frame{Width: width, Height: height, Data: pixels}, nil
}

// Record describes one stored frame.
type Record struct {
	Name         string    `json:"image_name"`
	DeviceID     string    `json:"device,omitempty"`
	SequenceHint string    `json:"sequence,omitempty"`
	Width        uint16    `json:"width"`
	Height       uint16    `json:"height"`
	Size         int       `json:"size"`
	RequestID    string    `json:"request_id"`
	StoredAt     time.Time `json:"stored_at"`
}
