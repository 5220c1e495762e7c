package segment

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

var (
	ink   = color.RGBA{R: 20, G: 40, B: 200, A: 255}
	paper = color.RGBA{R: 250, G: 250, B: 250, A: 255}
	noise = color.RGBA{R: 220, G: 30, B: 30, A: 255}
)

// newCaptcha draws rects in ink on a light background the size of a portal challenge.
func newCaptcha(rects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)
	for _, r := range rects {
		draw.Draw(img, r, image.NewUniform(ink), image.Point{}, draw.Src)
	}
	return img
}

func glyphRect(x, w, h int) image.Rectangle {
	return image.Rect(x, 10, x+w, 10+h)
}

func fiveGlyphs() []image.Rectangle {
	return []image.Rectangle{
		glyphRect(5, 8, 16),
		glyphRect(25, 10, 18),
		glyphRect(45, 6, 14),
		glyphRect(65, 9, 20),
		glyphRect(90, 7, 15),
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
