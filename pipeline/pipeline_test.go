// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline_test

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/raster"
	"github.com/grailbio/raster/pipeline"
	"github.com/grailbio/raster/rawdriver"
	"github.com/grailbio/raster/stencil"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// memDataset is an in-memory raster.Dataset with optional fault injection.
type memDataset struct {
	width, height int
	planes        [][]float32
	// failRead, when set, makes ReadRow fail for matching (band, y).
	failRead func(band, y int) bool
}

func newMemDataset(width, height, bands int) *memDataset {
	d := &memDataset{width: width, height: height, planes: make([][]float32, bands)}
	for i := range d.planes {
		d.planes[i] = make([]float32, width*height)
	}
	return d
}

func (d *memDataset) Width() int  { return d.width }
func (d *memDataset) Height() int { return d.height }
func (d *memDataset) Close() error {
	return nil
}

func (d *memDataset) Band(i int) (raster.Band, error) {
	if i < 1 || i > len(d.planes) {
		return nil, errors.E(fmt.Sprintf("failed to get band %d", i))
	}
	return &memBand{d: d, band: i, plane: d.planes[i-1]}, nil
}

type memBand struct {
	d     *memDataset
	band  int
	plane []float32
}

func (b *memBand) ReadRow(y int, dst []float32) error {
	if b.d.failRead != nil && b.d.failRead(b.band, y) {
		return errors.New("injected read failure")
	}
	copy(dst, b.plane[y*b.d.width:(y+1)*b.d.width])
	return nil
}

func (b *memBand) WriteRow(y int, src []float32) error {
	copy(b.plane[y*b.d.width:(y+1)*b.d.width], src)
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// convolveRef is the obvious quadratic-time reference for one plane.
func convolveRef(plane []float32, width, height int, k stencil.Kernel) []float32 {
	out := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum float32
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					sy := clamp(y+dr, 0, height-1)
					sx := clamp(x+dc, 0, width-1)
					sum += float32(k[dr+1][dc+1]) * plane[sy*width+sx]
				}
			}
			out[y*width+x] = sum
		}
	}
	return out
}

func fillRandom(d *memDataset, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, plane := range d.planes {
		for i := range plane {
			plane[i] = float32(rng.Intn(256))
		}
	}
}

func runAndCheck(t *testing.T, in *memDataset, k stencil.Kernel) *memDataset {
	out := newMemDataset(in.width, in.height, pipeline.NumBands)
	result := pipeline.Run(in, out, k)

	expect.EQ(t, len(result.Buffers), 2*pipeline.NumBands)
	for _, stats := range result.Buffers {
		expect.LE(t, stats.MaxLen, in.height)
		expect.EQ(t, stats.Leftover, 0)
		expect.GE(t, stats.Cache.TotalAccess, stats.Cache.Misses)
	}
	for b := 0; b < pipeline.NumBands && b < len(in.planes); b++ {
		want := convolveRef(in.planes[b], in.width, in.height, k)
		expect.EQ(t, out.planes[b], want)
	}
	return out
}

func TestConstantImage(t *testing.T) {
	in := newMemDataset(3, 3, 3)
	for _, plane := range in.planes {
		for i := range plane {
			plane[i] = 10
		}
	}
	out := runAndCheck(t, in, stencil.Laplacian)
	// The Laplacian of a constant image is zero everywhere.
	for _, plane := range out.planes {
		for _, v := range plane {
			expect.EQ(t, v, float32(0))
		}
	}
}

func TestImpulse(t *testing.T) {
	in := newMemDataset(3, 3, 3)
	in.planes[0][1*3+1] = 255
	out := runAndCheck(t, in, stencil.Laplacian)
	// Band 1, center row: [-255, 8*255, -255] before any byte saturation.
	expect.EQ(t, out.planes[0][3:6], []float32{-255, 8 * 255, -255})
	// Bands with no signal stay zero.
	for _, v := range out.planes[1] {
		expect.EQ(t, v, float32(0))
	}
}

func TestIdentityKernel(t *testing.T) {
	in := newMemDataset(100, 100, 3)
	fillRandom(in, 1)
	out := runAndCheck(t, in, stencil.Identity)
	for b := range out.planes {
		expect.EQ(t, out.planes[b], in.planes[b])
	}
}

func TestRandomImageMatchesReference(t *testing.T) {
	in := newMemDataset(33, 17, 3)
	fillRandom(in, 2)
	runAndCheck(t, in, stencil.Laplacian)
}

func TestSingleRowImage(t *testing.T) {
	in := newMemDataset(5, 1, 3)
	copy(in.planes[0], []float32{0, 0, 255, 0, 0})
	runAndCheck(t, in, stencil.Laplacian)
}

func TestSingleColumnImage(t *testing.T) {
	in := newMemDataset(1, 7, 3)
	for y := 0; y < 7; y++ {
		in.planes[0][y] = float32(y * 10)
	}
	runAndCheck(t, in, stencil.Laplacian)
}

func TestOnePixelImage(t *testing.T) {
	in := newMemDataset(1, 1, 3)
	in.planes[0][0] = 13
	out := runAndCheck(t, in, stencil.Laplacian)
	// A 1x1 image filters to sum(kern) times its sample; the Laplacian sums
	// to zero.
	expect.EQ(t, out.planes[0][0], float32(0))

	allOnes := stencil.Kernel{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}
	out = runAndCheck(t, in, allOnes)
	expect.EQ(t, out.planes[0][0], float32(9*13))
}

func TestDeterministicAcrossRuns(t *testing.T) {
	in := newMemDataset(64, 48, 3)
	fillRandom(in, 3)

	var first []uint64
	for run := 0; run < 3; run++ {
		out := newMemDataset(64, 48, pipeline.NumBands)
		pipeline.Run(in, out, stencil.Laplacian)
		sums, err := pipeline.Checksum(out, pipeline.NumBands)
		assert.NoError(t, err)
		if first == nil {
			first = sums
		} else {
			expect.EQ(t, sums, first)
		}
	}
}

func TestReadFailuresDoNotStall(t *testing.T) {
	in := newMemDataset(8, 8, 3)
	fillRandom(in, 4)
	in.failRead = func(band, y int) bool { return band == 2 && y%3 == 0 }

	out := newMemDataset(8, 8, pipeline.NumBands)
	pipeline.Run(in, out, stencil.Laplacian) // must terminate

	// Bands without injected failures are exact.
	for _, b := range []int{0, 2} {
		want := convolveRef(in.planes[b], 8, 8, stencil.Laplacian)
		expect.EQ(t, out.planes[b], want)
	}
}

func TestMissingInputBands(t *testing.T) {
	in := newMemDataset(6, 6, 1) // bands 2 and 3 absent
	fillRandom(in, 5)

	out := newMemDataset(6, 6, pipeline.NumBands)
	pipeline.Run(in, out, stencil.Laplacian) // must terminate

	want := convolveRef(in.planes[0], 6, 6, stencil.Laplacian)
	expect.EQ(t, out.planes[0], want)
	// Missing bands read as zero rows and filter to zero.
	for _, plane := range out.planes[1:] {
		for _, v := range plane {
			expect.EQ(t, v, float32(0))
		}
	}
}

func TestRawDriverEndToEnd(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	// Lay down an input file through the raw driver.
	inPath := filepath.Join(tempDir, "in.rras")
	src := newMemDataset(16, 12, 3)
	fillRandom(src, 6)
	create, err := rawdriver.Create(ctx, inPath, 16, 12, 3, rawdriver.Gzip)
	assert.NoError(t, err)
	row := make([]float32, 16)
	for b := 1; b <= 3; b++ {
		band, err := create.Band(b)
		assert.NoError(t, err)
		for y := 0; y < 12; y++ {
			copy(row, src.planes[b-1][y*16:])
			assert.NoError(t, band.WriteRow(y, row))
		}
	}
	assert.NoError(t, create.Close())

	in, err := rawdriver.Open(ctx, inPath)
	assert.NoError(t, err)
	outPath := filepath.Join(tempDir, "out.rras")
	out, err := rawdriver.Create(ctx, outPath, 16, 12, pipeline.NumBands, rawdriver.Snappy)
	assert.NoError(t, err)

	pipeline.Run(in, out, stencil.Laplacian)
	sumsBefore, err := pipeline.Checksum(out, pipeline.NumBands)
	assert.NoError(t, err)
	assert.NoError(t, in.Close())
	assert.NoError(t, out.Close())

	// Reopen the written file and verify contents survived the round trip.
	reopened, err := rawdriver.Open(ctx, outPath)
	assert.NoError(t, err)
	sumsAfter, err := pipeline.Checksum(reopened, pipeline.NumBands)
	assert.NoError(t, err)
	expect.EQ(t, sumsAfter, sumsBefore)

	band, err := reopened.Band(1)
	assert.NoError(t, err)
	want := convolveRef(src.planes[0], 16, 12, stencil.Laplacian)
	got := make([]float32, 16)
	for y := 0; y < 12; y++ {
		assert.NoError(t, band.ReadRow(y, got))
		expect.EQ(t, got, want[y*16:(y+1)*16])
	}
	assert.NoError(t, reopened.Close())
}

func BenchmarkRun(b *testing.B) {
	in := newMemDataset(512, 512, 3)
	fillRandom(in, 7)
	out := newMemDataset(512, 512, pipeline.NumBands)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pipeline.Run(in, out, stencil.Laplacian)
	}
}
