// Package segment isolates the character glyphs of a portal CAPTCHA bitmap.
//
// The portal renders every character in the same ink colour on a noisy background. Segmentation keeps only
// pixels inside that hue band, cleans the mask with an opening and a closing, extracts external contours and
// turns the five character bodies into fixed-size glyph images ordered left to right.
package segment

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"sort"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

const (
	// GlyphCount is the number of characters in every challenge.
	GlyphCount = 5
	// GlyphSize is the edge length of a segmented glyph.
	GlyphSize = 20
)

// HSVRange is an inclusive band on the 8-bit HSV scale (hue 0-179, saturation and value 0-255).
type HSVRange struct {
	LowH, LowS, LowV    uint8
	HighH, HighS, HighV uint8
}

// Contains reports whether the pixel lies inside the band.
func (r HSVRange) Contains(h, s, v uint8) bool {
	return h >= r.LowH && h <= r.HighH &&
		s >= r.LowS && s <= r.HighS &&
		v >= r.LowV && v <= r.HighV
}

// InkBand is the blue ink the portal draws its characters with.
var InkBand = HSVRange{LowH: 90, LowS: 80, LowV: 2, HighH: 150, HighS: 255, HighV: 255}

// Options tunes segmentation. DefaultOptions matches the portal.
type Options struct {
	Band      HSVRange
	Count     int
	MinArea   float64 // contours with area <= MinArea are noise
	MinHeight int     // contours with bbox height <= MinHeight are noise
	Size      int
}

// DefaultOptions returns the settings used for both training and inference.
func DefaultOptions() Options {
	return Options{
		Band:      InkBand,
		Count:     GlyphCount,
		MinArea:   15,
		MinHeight: 10,
		Size:      GlyphSize,
	}
}

// Glyph is one segmented character.
type Glyph struct {
	Image  *image.Gray
	Bounds image.Rectangle // bounding box in the source image
	Area   float64         // contour area in the source image
}

// Decode decodes raw CAPTCHA bytes (PNG, JPEG, GIF, BMP or WebP).
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode captcha image: %w", err)
	}
	return img, nil
}

// Segment isolates the glyphs of img with DefaultOptions.
func Segment(img image.Image) []Glyph {
	return SegmentWith(img, DefaultOptions())
}

// SegmentWith returns exactly opts.Count glyphs ordered left to right, or nil.
// A challenge with any other number of qualifying contours is never guessed.
func SegmentWith(img image.Image, opts Options) []Glyph {
	if img == nil {
		return nil
	}

	mask := Threshold(img, opts.Band)
	cleaned := Close(Open(mask, 2), 3)

	var regions []Region
	for _, r := range ExternalContours(cleaned) {
		if r.Area > opts.MinArea && r.Bounds.Dy() > opts.MinHeight {
			regions = append(regions, r)
		}
	}

	regions = selectRegions(regions, opts.Count)
	if regions == nil {
		return nil
	}

	glyphs := make([]Glyph, 0, len(regions))
	for _, r := range regions {
		glyphs = append(glyphs, Glyph{
			Image:  crop(cleaned, r.Bounds, opts.Size),
			Bounds: r.Bounds,
			Area:   r.Area,
		})
	}
	return glyphs
}

// selectRegions keeps the count largest regions and orders them by ascending x.
// Discovery order of the input does not influence the result.
func selectRegions(regions []Region, count int) []Region {
	if len(regions) != count {
		return nil
	}

	kept := make([]Region, len(regions))
	copy(kept, regions)

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Area != kept[j].Area {
			return kept[i].Area > kept[j].Area
		}
		return lessPosition(kept[i], kept[j])
	})
	kept = kept[:count]

	sort.SliceStable(kept, func(i, j int) bool {
		return lessPosition(kept[i], kept[j])
	})
	return kept
}

func lessPosition(a, b Region) bool {
	if a.Bounds.Min.X != b.Bounds.Min.X {
		return a.Bounds.Min.X < b.Bounds.Min.X
	}
	if a.Bounds.Min.Y != b.Bounds.Min.Y {
		return a.Bounds.Min.Y < b.Bounds.Min.Y
	}
	return a.Area > b.Area
}

// crop cuts r out of the cleaned mask and scales it to size x size.
func crop(mask *image.Gray, r image.Rectangle, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), mask, r, draw.Src, nil)
	return dst
}

// Tensor flattens a glyph into row-major intensities in [0, 1].
func Tensor(g Glyph) []float64 {
	b := g.Image.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, float64(g.Image.GrayAt(x, y).Y)/255.0)
		}
	}
	return out
}
