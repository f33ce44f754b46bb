package bitmap

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"
	"roverscope.com/camserver/frame"
)

func TestEncodeLength(t *testing.T) {
	for _, s := range []struct{ w, h int }{{0, 0}, {1, 1}, {2, 2}, {3, 5}, {4, 4}, {5, 3}, {160, 120}, {7, 0}} {
		got := len(Encode(s.w, s.h, make([]byte, s.w*s.h*3)))
		rowSize := ((s.w*3 + 3) / 4) * 4
		if want := 54 + s.h*rowSize; got != want {
			t.Errorf("%dx%d: expected %d bytes, got %d", s.w, s.h, want, got)
		}
	}
}

func TestEncodeTwoByTwo(t *testing.T) {
	components := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}
	expected := []byte{
		'B', 'M', 70, 0, 0, 0, 0, 0, 0, 0, 54, 0, 0, 0,
		40, 0, 0, 0, 2, 0, 0, 0, 2, 0, 0, 0, 1, 0, 24, 0,
		0, 0, 0, 0, 16, 0, 0, 0, 0x13, 0x0B, 0, 0, 0x13, 0x0B, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		10, 11, 12, 7, 8, 9, 0, 0,
		4, 5, 6, 1, 2, 3, 0, 0,
	}
	got := Encode(2, 2, components)
	if !bytes.Equal(got, expected) {
		t.Errorf("Expected\n% x\ngot\n% x", expected, got)
	}
}

func TestEncodeWithoutMirror(t *testing.T) {
	components := []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}
	got := EncodeWith(2, 2, components, Options{})
	expected := []byte{7, 8, 9, 10, 11, 12, 0, 0, 1, 2, 3, 4, 5, 6, 0, 0}
	if !bytes.Equal(got[HeaderSize:], expected) {
		t.Errorf("Expected % x, got % x", expected, got[HeaderSize:])
	}
}

func TestEncodeHeaderFields(t *testing.T) {
	b := Encode(3, 5, make([]byte, 45))
	if b[0] != 0x42 || b[1] != 0x4D {
		t.Fatalf("Expected BM signature, got % x", b[:2])
	}
	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"file size", le.Uint32(b[2:]), uint32(54 + 5*12)},
		{"pixel offset", le.Uint32(b[10:]), 54},
		{"info size", le.Uint32(b[14:]), 40},
		{"width", le.Uint32(b[18:]), 3},
		{"height", le.Uint32(b[22:]), 5},
		{"planes", uint32(le.Uint16(b[26:])), 1},
		{"bpp", uint32(le.Uint16(b[28:])), 24},
		{"compression", le.Uint32(b[30:]), 0},
		{"image size", le.Uint32(b[34:]), 60},
		{"x resolution", le.Uint32(b[38:]), 2835},
		{"y resolution", le.Uint32(b[42:]), 2835},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
}

func TestEncodeShortComponentsDoesNotPanic(t *testing.T) {
	b := Encode(4, 4, []byte{1, 2, 3})
	if len(b) != FileSize(4, 4) {
		t.Fatalf("Expected %d bytes, got %d", FileSize(4, 4), len(b))
	}
	for _, v := range b[HeaderSize : len(b)-12] {
		if v != 0 {
			t.Fatalf("Expected zero fill for missing components")
		}
	}
}

func TestDecodedOrientation(t *testing.T) {
	const w, h = 3, 2
	pixels := make([]byte, 0, w*h*2)
	for i := range w * h {
		p := frame.PackRGB565(uint8(i*40), uint8(255-i*40), uint8(i*10))
		pixels = append(pixels, byte(p>>8), byte(p))
	}
	raster := frame.ConvertRGB565(frame.Frame{Width: w, Height: h, Data: pixels})
	src := raster.Image(false)

	for _, mirror := range []bool{true, false} {
		img, err := bmp.Decode(bytes.NewReader(EncodeWith(w, h, raster.Data, Options{MirrorRows: mirror})))
		if err != nil {
			t.Fatalf("Decoding encoded bitmap: %v", err)
		}
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			t.Fatalf("Expected %dx%d, got %v", w, h, b)
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sx := x
				if mirror {
					sx = w - 1 - x
				}
				want := color.RGBAModel.Convert(src.At(sx, y))
				got := color.RGBAModel.Convert(img.At(x, y))
				if want != got {
					t.Errorf("mirror=%v (%d,%d): expected %v, got %v", mirror, x, y, want, got)
				}
				if shown := raster.Image(mirror).At(x, y); color.RGBAModel.Convert(shown) != got {
					t.Errorf("mirror=%v (%d,%d): in-memory image %v differs from file %v", mirror, x, y, shown, got)
				}
			}
		}
	}
}
