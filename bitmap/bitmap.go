// Package bitmap writes 24-bit uncompressed Windows bitmaps.
package bitmap

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	HeaderSize = 54
	infoSize   = 40
	// PixelsPerMeter is 72 dpi.
	PixelsPerMeter = 2835
)

type fileHeader struct {
	Type      [2]byte
	Size      uint32
	Reserved1 uint16
	Reserved2 uint16
	OffBits   uint32
}

type infoHeader struct {
	Size            uint32
	Width           int32
	Height          int32
	Planes          uint16
	BitCount        uint16
	Compression     uint32
	SizeImage       uint32
	XPixelsPerM     int32
	YPixelsPerM     int32
	ColorsUsed      uint32
	ColorsImportant uint32
}

// Options controls the pixel layout.
type Options struct {
	// MirrorRows flips every row horizontally. The camera delivers a
	// mirrored image, so this is on by default.
	MirrorRows bool
}

var DefaultOptions = Options{MirrorRows: true}

// RowSize is the stored length of one row, padded to 4 bytes.
func RowSize(width int) int {
	return (width*3 + 3) / 4 * 4
}

// FileSize is the total length of an encoded bitmap.
func FileSize(width, height int) int {
	return HeaderSize + height*RowSize(width)
}

// Encode returns a bitmap of the BGR components using DefaultOptions.
func Encode(width, height int, components []byte) []byte {
	return EncodeWith(width, height, components, DefaultOptions)
}

// EncodeWith returns a bitmap of the BGR components. components is
// read top row first; missing bytes are written as zero.
func EncodeWith(width, height int, components []byte, opts Options) []byte {
	var buf bytes.Buffer
	buf.Grow(FileSize(width, height))
	// bytes.Buffer never fails a write.
	_ = WriteWith(&buf, width, height, components, opts)
	return buf.Bytes()
}

// WriteWith streams the bitmap to w.
func WriteWith(w io.Writer, width, height int, components []byte, opts Options) error {
	rowSize := RowSize(width)
	fh := fileHeader{
		Type:    [2]byte{'B', 'M'},
		Size:    uint32(FileSize(width, height)),
		OffBits: HeaderSize,
	}
	ih := infoHeader{
		Size:        infoSize,
		Width:       int32(width),
		Height:      int32(height),
		Planes:      1,
		BitCount:    24,
		SizeImage:   uint32(height * rowSize),
		XPixelsPerM: PixelsPerMeter,
		YPixelsPerM: PixelsPerMeter,
	}
	if err := binary.Write(w, binary.LittleEndian, fh); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, ih); err != nil {
		return err
	}

	row := make([]byte, rowSize)
	for k := 0; k < height; k++ {
		src := height - 1 - k
		for x := 0; x < width; x++ {
			sx := x
			if opts.MirrorRows {
				sx = width - 1 - x
			}
			i := (src*width + sx) * 3
			for c := 0; c < 3; c++ {
				if i+c < len(components) {
					row[x*3+c] = components[i+c]
				} else {
					row[x*3+c] = 0
				}
			}
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
