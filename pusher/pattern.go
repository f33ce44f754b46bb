package pusher

import (
	"encoding/binary"

	"roverscope.com/camserver/frame"
)

var colorBars = [][3]uint8{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

// ColorBars returns a synthetic RGB565 frame of vertical colour bars,
// shifted by offset columns so consecutive frames differ.
func ColorBars(width, height uint16, offset int) frame.Frame {
	data := make([]byte, frame.PixelBytes(width, height))
	w := int(width)
	for y := 0; y < int(height); y++ {
		for x := 0; x < w; x++ {
			col := ((x+offset)%w + w) % w
			bar := colorBars[col*len(colorBars)/w]
			p := frame.PackRGB565(bar[0], bar[1], bar[2])
			binary.BigEndian.PutUint16(data[(y*w+x)*2:], p)
		}
	}
	return frame.Frame{Width: width, Height: height, Data: data}
}
