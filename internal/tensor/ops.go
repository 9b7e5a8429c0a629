package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies every element of x by s.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Softmax applies the softmax function to x in place.  Negative-infinity
// entries map to probability zero.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSoftmax writes the log-softmax of src into dst.  dst and src must have
// the same length.
func LogSoftmax(dst, src []float32) {
	if len(src) == 0 {
		return
	}
	maxv := src[0]
	for i := 1; i < len(src); i++ {
		if src[i] > maxv {
			maxv = src[i]
		}
	}
	var sum float64
	for i := range src {
		sum += math.Exp(float64(src[i] - maxv))
	}
	logSum := float32(math.Log(sum))
	for i := range src {
		dst[i] = src[i] - maxv - logSum
	}
}

// Argmax returns the index of the maximum value in the slice.  If the slice
// is empty it panics.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
