// display.go - VGA-to-image conversion for an external host painter.
//
// This core never opens a window; it only hands the refresher a
// ready-made *image.RGBA so an external painter has nothing left to
// decode.

package main

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	mode13hWidth  = 320
	mode13hHeight = 200
)

// expand6to8 scales a 6-bit DAC channel (0..63) to 8-bit (0..255).
func expand6to8(v byte) uint8 {
	return uint8((uint16(v)*255 + 31) / 63)
}

// paletteToColorPalette converts the 256-entry DAC table to a
// color.Palette for image.Paletted.
func paletteToColorPalette(dac [256][3]byte) color.Palette {
	pal := make(color.Palette, 256)
	for i, c := range dac {
		pal[i] = color.RGBA{R: expand6to8(c[0]), G: expand6to8(c[1]), B: expand6to8(c[2]), A: 0xFF}
	}
	return pal
}

// SnapshotRGBA renders the chain-4 256-color linear plane (mode 13h)
// into a packed RGBA image via draw.Draw, so the host painter receives
// pixels instead of VGA registers.
func (v *VGA) SnapshotRGBA() *image.RGBA {
	pal := paletteToColorPalette(v.dacPalette)
	src := image.NewPaletted(image.Rect(0, 0, mode13hWidth, mode13hHeight), pal)

	start := uint32(v.StartAddress())
	for y := 0; y < mode13hHeight; y++ {
		rowBase := start + uint32(y*mode13hWidth)
		for x := 0; x < mode13hWidth; x++ {
			addr := rowBase + uint32(x)
			plane := addr & 3
			src.Pix[y*src.Stride+x] = v.planes[plane][(addr>>2)&(vgaPlaneSize-1)]
		}
	}

	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Src)
	return dst
}
