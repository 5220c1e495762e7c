package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// convForward computes a stride-1, same-padded convolution of in (inC x h x w) into out (outC x h x w).
// Weights are laid out [outC][inC][k][k].
func convForward(in []float64, inC, h, w int, wt, b []float64, outC, k int, out []float64) {
	pad := k / 2
	plane := h * w
	for o := 0; o < outC; o++ {
		ob := out[o*plane : (o+1)*plane]
		for i := range ob {
			ob[i] = b[o]
		}
		for c := 0; c < inC; c++ {
			ic := in[c*plane : (c+1)*plane]
			for ky := 0; ky < k; ky++ {
				dy := ky - pad
				y0, y1 := max(0, -dy), min(h, h-dy)
				for kx := 0; kx < k; kx++ {
					wv := wt[((o*inC+c)*k+ky)*k+kx]
					if wv == 0 {
						continue
					}
					dx := kx - pad
					x0, x1 := max(0, -dx), min(w, w-dx)
					for y := y0; y < y1; y++ {
						floats.AddScaled(ob[y*w+x0:y*w+x1], wv, ic[(y+dy)*w+x0+dx:(y+dy)*w+x1+dx])
					}
				}
			}
		}
	}
}

// convBackward accumulates weight and bias gradients and, when din is not nil, the input gradient.
func convBackward(in []float64, inC, h, w int, wt []float64, outC, k int, dout, dwt, db, din []float64) {
	pad := k / 2
	plane := h * w
	for o := 0; o < outC; o++ {
		dob := dout[o*plane : (o+1)*plane]
		db[o] += floats.Sum(dob)
		for c := 0; c < inC; c++ {
			ic := in[c*plane : (c+1)*plane]
			var dic []float64
			if din != nil {
				dic = din[c*plane : (c+1)*plane]
			}
			for ky := 0; ky < k; ky++ {
				dy := ky - pad
				y0, y1 := max(0, -dy), min(h, h-dy)
				for kx := 0; kx < k; kx++ {
					dx := kx - pad
					x0, x1 := max(0, -dx), min(w, w-dx)
					idx := ((o*inC+c)*k+ky)*k + kx
					var g float64
					for y := y0; y < y1; y++ {
						drow := dob[y*w+x0 : y*w+x1]
						g += floats.Dot(drow, ic[(y+dy)*w+x0+dx:(y+dy)*w+x1+dx])
						if dic != nil {
							floats.AddScaled(dic[(y+dy)*w+x0+dx:(y+dy)*w+x1+dx], wt[idx], drow)
						}
					}
					dwt[idx] += g
				}
			}
		}
	}
}

// poolForward applies ReLU and 2x2 max pooling with stride 2, recording the arg-max of each window.
func poolForward(z []float64, channels, h, w int, out []float64, idx []int) {
	oh, ow := h/2, w/2
	for c := 0; c < channels; c++ {
		base := c * h * w
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				best, bi := math.Inf(-1), -1
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						i := base + (2*y+dy)*w + 2*x + dx
						if z[i] > best {
							best, bi = z[i], i
						}
					}
				}
				o := c*oh*ow + y*ow + x
				idx[o] = bi
				out[o] = math.Max(best, 0)
			}
		}
	}
}

// poolBackward routes gradients of active pooled units back to their arg-max position.
func poolBackward(out []float64, idx []int, dout, dz []float64) {
	for o, v := range out {
		if v > 0 {
			dz[idx[o]] += dout[o]
		}
	}
}

// denseForward computes out = W x + b with W laid out [len(out)][len(x)].
func denseForward(x, wt, b, out []float64) {
	in := len(x)
	for j := range out {
		out[j] = b[j] + floats.Dot(wt[j*in:(j+1)*in], x)
	}
}

// denseBackward accumulates dW and db and writes the input gradient into dx.
func denseBackward(x, wt, dout, dwt, db, dx []float64) {
	in := len(x)
	for j, g := range dout {
		if g == 0 {
			continue
		}
		db[j] += g
		floats.AddScaled(dwt[j*in:(j+1)*in], g, x)
		floats.AddScaled(dx, g, wt[j*in:(j+1)*in])
	}
}
