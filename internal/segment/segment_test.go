package segment

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func TestToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		h, s, v uint8
	}{
		{"black", 0, 0, 0, 0, 0, 0},
		{"white", 255, 255, 255, 0, 0, 255},
		{"red", 255, 0, 0, 0, 255, 255},
		{"green", 0, 255, 0, 60, 255, 255},
		{"blue", 0, 0, 255, 120, 255, 255},
		{"cyan", 0, 255, 255, 90, 255, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := ToHSV(tt.r, tt.g, tt.b)
			assert.Equal(t, tt.h, h, "hue")
			assert.Equal(t, tt.s, s, "saturation")
			assert.Equal(t, tt.v, v, "value")
		})
	}
}

func TestThreshold_KeepsOnlyInk(t *testing.T) {
	img := newCaptcha(image.Rect(2, 2, 6, 6))
	draw.Draw(img, image.Rect(10, 10, 14, 14), image.NewUniform(noise), image.Point{}, draw.Src)

	mask := Threshold(img, InkBand)
	assert.Equal(t, uint8(255), mask.GrayAt(3, 3).Y)
	assert.Equal(t, uint8(0), mask.GrayAt(11, 11).Y, "red is outside the ink band")
	assert.Equal(t, uint8(0), mask.GrayAt(50, 30).Y)
}

func TestOpen_RemovesSpeckles(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 20, 20))
	mask.Pix[5*mask.Stride+5] = 255
	for y := 10; y < 16; y++ {
		for x := 10; x < 16; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	opened := Open(mask, 2)
	assert.Equal(t, uint8(0), opened.GrayAt(5, 5).Y, "single pixel is removed")
	assert.Equal(t, uint8(255), opened.GrayAt(12, 12).Y, "block survives")
}

func TestClose_BridgesGaps(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 5; y < 15; y++ {
		if y == 9 {
			continue
		}
		for x := 5; x < 9; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	closed := Close(mask, 3)
	assert.Equal(t, uint8(255), closed.GrayAt(6, 9).Y)
	assert.Len(t, ExternalContours(closed), 1)
}

func TestExternalContours_RectangleArea(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 30, 30))
	for y := 5; y < 19; y++ {
		for x := 4; x < 10; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	regions := ExternalContours(mask)
	require.Len(t, regions, 1)
	assert.Equal(t, image.Rect(4, 5, 10, 19), regions[0].Bounds)
	assert.InDelta(t, 5*13, regions[0].Area, 1e-9)
	assert.Equal(t, 6*14, regions[0].Pixels)
}

func TestExternalContours_SkipsComponentsInHoles(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 40, 40))
	set := func(x, y int) { mask.Pix[y*mask.Stride+x] = 255 }
	for i := 5; i < 35; i++ {
		for k := 0; k < 2; k++ {
			set(i, 5+k)
			set(i, 33+k)
			set(5+k, i)
			set(33+k, i)
		}
	}
	for y := 15; y < 25; y++ {
		for x := 15; x < 25; x++ {
			set(x, y)
		}
	}

	regions := ExternalContours(mask)
	require.Len(t, regions, 1, "inner blob lives in the ring's hole")
	assert.Equal(t, image.Rect(5, 5, 35, 35), regions[0].Bounds)
}

func TestSegment_FiveGlyphsOrderedByX(t *testing.T) {
	rects := fiveGlyphs()
	glyphs := Segment(newCaptcha(rects...))
	require.Len(t, glyphs, GlyphCount)

	for i, g := range glyphs {
		assert.Equal(t, rects[i].Min.X, g.Bounds.Min.X, "slot %d", i)
		assert.Equal(t, image.Rect(0, 0, GlyphSize, GlyphSize), g.Image.Bounds())
	}
}

func TestSegment_IgnoresNoise(t *testing.T) {
	img := newCaptcha(fiveGlyphs()...)
	// speckles and a short dash fall below the size filters
	draw.Draw(img, image.Rect(110, 2, 111, 3), image.NewUniform(ink), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(100, 34, 116, 37), image.NewUniform(ink), image.Point{}, draw.Src)
	// other colours are never ink
	draw.Draw(img, image.Rect(55, 5, 62, 35), image.NewUniform(noise), image.Point{}, draw.Src)

	assert.Len(t, Segment(img), GlyphCount)
}

func TestSegment_WrongCountFails(t *testing.T) {
	rects := fiveGlyphs()

	assert.Nil(t, Segment(newCaptcha(rects[:4]...)), "four glyphs")
	assert.Nil(t, Segment(newCaptcha(append(rects, glyphRect(105, 8, 16))...)), "six glyphs")
	assert.Nil(t, Segment(newCaptcha()), "blank")
	assert.Nil(t, Segment(nil))
}

func TestSelectRegions_IndependentOfDiscoveryOrder(t *testing.T) {
	regions := ExternalContours(Close(Open(Threshold(newCaptcha(fiveGlyphs()...), InkBand), 2), 3))
	require.Len(t, regions, GlyphCount)

	want := selectRegions(regions, GlyphCount)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]Region, len(regions))
		copy(shuffled, regions)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := selectRegions(shuffled, GlyphCount)
		require.Len(t, got, GlyphCount)
		for j := range want {
			assert.Equal(t, want[j].Bounds, got[j].Bounds)
		}
	}
}

func TestDecode(t *testing.T) {
	img, err := Decode(encodePNG(t, newCaptcha(fiveGlyphs()...)))
	require.NoError(t, err)
	assert.Len(t, Segment(img), GlyphCount)

	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestTensor(t *testing.T) {
	glyphs := Segment(newCaptcha(fiveGlyphs()...))
	require.Len(t, glyphs, GlyphCount)

	x := Tensor(glyphs[0])
	require.Len(t, x, GlyphSize*GlyphSize)
	for _, v := range x {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.InDelta(t, 1.0, x[GlyphSize*GlyphSize/2+GlyphSize/2], 0.01, "centre of a solid glyph is ink")
}
