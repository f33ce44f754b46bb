package frame

import (
	"encoding/binary"
	"image"
)

// Raster is a 24-bit image, one B,G,R triple per pixel, top row first.
type Raster struct {
	Width  uint16
	Height uint16
	Data   []byte
}

// RGB565ToRGB888 expands a packed sample by bit replication so that
// full-scale inputs map to 255 and zero maps to 0.
func RGB565ToRGB888(pixel uint16) (r, g, b uint8) {
	r5 := uint8(pixel >> 11 & 0x1F)
	g6 := uint8(pixel >> 5 & 0x3F)
	b5 := uint8(pixel & 0x1F)
	r = r5<<3 | r5>>2
	g = g6<<2 | g6>>4
	b = b5<<3 | b5>>2
	return r, g, b
}

// ConvertRGB565 turns a decoded frame into a BGR raster.
func ConvertRGB565(f Frame) Raster {
	n := int(f.Width) * int(f.Height)
	out := make([]byte, n*3)
	for i := 0; i < n && 2*i+1 < len(f.Data); i++ {
		r, g, b := RGB565ToRGB888(binary.BigEndian.Uint16(f.Data[2*i:]))
		out[3*i] = b
		out[3*i+1] = g
		out[3*i+2] = r
	}
	return Raster{Width: f.Width, Height: f.Height, Data: out}
}

// Image builds the picture a viewer sees. With mirrored set each row is
// flipped left to right, matching a bitmap written with mirrored rows.
func (r Raster) Image(mirrored bool) *image.RGBA {
	w, h := int(r.Width), int(r.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			src := r.Data[(y*w+x)*3:]
			dx := x
			if mirrored {
				dx = w - 1 - x
			}
			px := row[dx*4 : dx*4+4]
			px[0], px[1], px[2], px[3] = src[2], src[1], src[0], 0xFF
		}
	}
	return img
}

// PackRGB565 is the inverse of RGB565ToRGB888 up to quantisation.
// Synthetic frame generators use it.
func PackRGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}
