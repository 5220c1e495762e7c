// Package segmenttest draws synthetic portal-style CAPTCHA bitmaps for tests.
package segmenttest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

var (
	// Ink falls inside segment.InkBand.
	Ink = color.RGBA{R: 20, G: 40, B: 200, A: 255}
	// Paper falls outside it.
	Paper = color.RGBA{R: 250, G: 250, B: 250, A: 255}
)

// Image draws rects in ink on a 120x40 light background.
func Image(rects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(Paper), image.Point{}, draw.Src)
	for _, r := range rects {
		draw.Draw(img, r, image.NewUniform(Ink), image.Point{}, draw.Src)
	}
	return img
}

// FiveBlocks returns five well separated glyph-sized rectangles. variant shifts their heights so
// different variants produce different glyph crops.
func FiveBlocks(variant int) []image.Rectangle {
	rects := make([]image.Rectangle, 5)
	for i := range rects {
		h := 14 + (i+variant)%5
		w := 6 + (i*3+variant)%5
		x := 5 + i*22
		rects[i] = image.Rect(x, 10, x+w, 10+h)
	}
	return rects
}

// PNG encodes img, panicking on failure.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// CaptchaPNG is PNG(Image(FiveBlocks(variant)...)).
func CaptchaPNG(variant int) []byte {
	return PNG(Image(FiveBlocks(variant)...))
}

// BlankPNG is an image with no glyphs at all.
func BlankPNG() []byte {
	return PNG(Image())
}
