// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package stencil computes 3x3 convolutions over raster rows. Out-of-range
// neighbors are clamped to the nearest valid row or column, so output size
// always equals input size.
package stencil

// Kernel is a 3x3 convolution kernel in row-major order: Kernel[0] multiplies
// the row above, Kernel[1] the center row, Kernel[2] the row below.
type Kernel [3][3]int

// Laplacian is the default edge-detection kernel. Applied to a constant image
// it yields zero everywhere.
var Laplacian = Kernel{
	{-1, -1, -1},
	{-1, 8, -1},
	{-1, -1, -1},
}

// Identity passes the center sample through unchanged.
var Identity = Kernel{
	{0, 0, 0},
	{0, 1, 0},
	{0, 0, 0},
}

// Coeffs flattens the kernel column-major into the coefficient order consumed
// by Apply: flat[3*c+r] multiplies input row r (above/center/below) at column
// offset c-1.
func (k Kernel) Coeffs() [9]float32 {
	var flat [9]float32
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			flat[3*c+r] = float32(k[r][c])
		}
	}
	return flat
}

// Sum returns the sum of all nine coefficients. A 1x1 image filters to
// Sum times its only sample.
func (k Kernel) Sum() int {
	total := 0
	for _, row := range k {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Apply convolves one output row from the three input rows around it. The
// caller clamps the row indexes (prev == curr on the first row, next == curr
// on the last); Apply clamps the columns. All four slices must have the
// length of out, which sets the row width. Arithmetic is float32 with no
// saturation; any narrowing happens when the row is stored.
func Apply(prev, curr, next []float32, kern [9]float32, out []float32) {
	width := len(out)
	for x := 0; x < width; x++ {
		cl := x - 1
		if cl < 0 {
			cl = x
		}
		cr := x + 1
		if cr == width {
			cr = x
		}
		out[x] = kern[0]*prev[cl] + kern[1]*curr[cl] + kern[2]*next[cl] +
			kern[3]*prev[x] + kern[4]*curr[x] + kern[5]*next[x] +
			kern[6]*prev[cr] + kern[7]*curr[cr] + kern[8]*next[cr]
	}
}
