package frame

import (
	"bytes"
	"image/color"
	"testing"
)

func TestRGB565ToRGB888(t *testing.T) {
	cases := []struct {
		pixel   uint16
		r, g, b uint8
	}{
		{0x0000, 0, 0, 0},
		{0xFFFF, 255, 255, 255},
		{0xF800, 255, 0, 0},
		{0x07E0, 0, 255, 0},
		{0x001F, 0, 0, 255},
		{0x8410, 132, 130, 132},
		{0x0821, 8, 4, 8},
	}
	for _, c := range cases {
		r, g, b := RGB565ToRGB888(c.pixel)
		if r != c.r || g != c.g || b != c.b {
			t.Errorf("%#04x: expected (%d,%d,%d), got (%d,%d,%d)", c.pixel, c.r, c.g, c.b, r, g, b)
		}
	}
}

func TestRGB565ChannelsAreMonotonic(t *testing.T) {
	var prev [3]int
	for i := range 32 {
		r, _, b := RGB565ToRGB888(uint16(i) << 11)
		_, _, b2 := RGB565ToRGB888(uint16(i))
		if i > 0 && (int(r) <= prev[0] || int(b2) <= prev[2]) {
			t.Fatalf("5-bit channel not strictly increasing at %d", i)
		}
		if b != 0 {
			t.Fatalf("red input leaked into blue: %d", b)
		}
		prev[0], prev[2] = int(r), int(b2)
	}
	for i := range 64 {
		_, g, _ := RGB565ToRGB888(uint16(i) << 5)
		if i > 0 && int(g) <= prev[1] {
			t.Fatalf("green not strictly increasing at %d", i)
		}
		prev[1] = int(g)
	}
}

func TestConvertRGB565IsBGR(t *testing.T) {
	f := Frame{Width: 2, Height: 1, Data: []byte{0xF8, 0x00, 0x00, 0x1F}}
	r := ConvertRGB565(f)
	expected := []byte{0, 0, 255, 255, 0, 0}
	if !bytes.Equal(r.Data, expected) {
		t.Errorf("Expected % x, got % x", expected, r.Data)
	}
	if r.Width != 2 || r.Height != 1 {
		t.Errorf("Expected 2x1 raster, got %dx%d", r.Width, r.Height)
	}
}

func TestRasterImage(t *testing.T) {
	r := Raster{Width: 2, Height: 2, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
	t.Run("source orientation", func(t *testing.T) {
		img := r.Image(false)
		if got := img.RGBAAt(0, 1); got != (color.RGBA{R: 9, G: 8, B: 7, A: 255}) {
			t.Errorf("Unexpected pixel %v", got)
		}
		if got := img.RGBAAt(1, 0); got != (color.RGBA{R: 6, G: 5, B: 4, A: 255}) {
			t.Errorf("Unexpected pixel %v", got)
		}
	})
	t.Run("mirrored", func(t *testing.T) {
		img := r.Image(true)
		if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 6, G: 5, B: 4, A: 255}) {
			t.Errorf("Unexpected pixel %v", got)
		}
		if got := img.RGBAAt(1, 1); got != (color.RGBA{R: 9, G: 8, B: 7, A: 255}) {
			t.Errorf("Unexpected pixel %v", got)
		}
	})
	t.Run("empty", func(t *testing.T) {
		if !(Raster{}).Image(true).Bounds().Empty() {
			t.Error("Expected an empty image")
		}
	})
}

func TestPackRGB565(t *testing.T) {
	for _, p := range []uint16{0x0000, 0xFFFF, 0xF800, 0x07E0, 0x001F, 0x1234} {
		r, g, b := RGB565ToRGB888(p)
		if got := PackRGB565(r, g, b); got != p {
			t.Errorf("Expected %#04x, got %#04x", p, got)
		}
	}
}
