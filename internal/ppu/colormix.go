package ppu

import (
	"image"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ToImage converts one of FrameBuffer's 15-bit BGR555 (plus solid-bit 15,
// unused here) scanout buffers into a host-displayable image, for PNG
// snapshot export and any other presentation surface. Channel expansion
// scales each 5-bit channel to [0,1] and converts it with go-colorful's
// clamped RGB255 instead of a hand-rolled 5-bit-to-8-bit shift; no
// linear-light conversion is applied.
func ToImage(framebuffer []uint16) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, ScreenWidth, ScreenHeight))
	for i, px := range framebuffer {
		x := i % ScreenWidth
		y := i / ScreenWidth
		img.Set(x, y, bgr555ToColor(px))
	}
	return img
}

func bgr555ToColor(px uint16) color.Color {
	r5 := float64(px&0x1F) / 31
	g5 := float64((px>>5)&0x1F) / 31
	b5 := float64((px>>10)&0x1F) / 31
	c := colorful.Color{R: r5, G: g5, B: b5}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xFF}
}
