package segment

import (
	"image"
	"image/color"
)

// ToHSV converts an 8-bit RGB triple to HSV with hue halved into 0-179.
func ToHSV(r, g, b uint8) (h, s, v uint8) {
	maxC := max(r, g, b)
	minC := min(r, g, b)
	v = maxC
	if maxC == 0 {
		return 0, 0, 0
	}

	delta := float64(maxC) - float64(minC)
	s = uint8(255*delta/float64(maxC) + 0.5)
	if delta == 0 {
		return 0, s, v
	}

	var hue float64
	switch maxC {
	case r:
		hue = 60 * (float64(g) - float64(b)) / delta
	case g:
		hue = 120 + 60*(float64(b)-float64(r))/delta
	default:
		hue = 240 + 60*(float64(r)-float64(g))/delta
	}
	if hue < 0 {
		hue += 360
	}

	half := int(hue/2 + 0.5)
	if half >= 180 {
		half -= 180
	}
	return uint8(half), s, v
}

// Threshold returns a binary mask (0 or 255) of the pixels of img that fall inside band.
func Threshold(img image.Image, band HSVRange) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			h, s, v := ToHSV(c.R, c.G, c.B)
			if band.Contains(h, s, v) {
				mask.Pix[(y-b.Min.Y)*mask.Stride+(x-b.Min.X)] = 255
			}
		}
	}
	return mask
}

// Erode applies a k x k minimum filter anchored at the kernel centre.
// Pixels outside the image do not take part, so borders are not eroded.
func Erode(m *image.Gray, k int) *image.Gray {
	return morph(m, k, true)
}

// Dilate applies a k x k maximum filter over the reflected kernel, so Open and Close do not shift shapes
// even for even kernel sizes.
func Dilate(m *image.Gray, k int) *image.Gray {
	return morph(m, k, false)
}

// Open removes speckles smaller than the kernel (erode then dilate).
func Open(m *image.Gray, k int) *image.Gray {
	return Dilate(Erode(m, k), k)
}

// Close reconnects strokes broken by less than the kernel (dilate then erode).
func Close(m *image.Gray, k int) *image.Gray {
	return Erode(Dilate(m, k), k)
}

func morph(m *image.Gray, k int, erode bool) *image.Gray {
	b := m.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	anchor := k / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc uint8
			if erode {
				acc = 255
			}
			for j := 0; j < k; j++ {
				dy := j - anchor
				if !erode {
					dy = -dy
				}
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for i := 0; i < k; i++ {
					dx := i - anchor
					if !erode {
						dx = -dx
					}
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					p := m.Pix[yy*m.Stride+xx]
					if erode && p < acc {
						acc = p
					} else if !erode && p > acc {
						acc = p
					}
				}
			}
			out.Pix[y*out.Stride+x] = acc
		}
	}
	return out
}
