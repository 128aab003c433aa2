// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pipeline filters the bands of a raster through a 3x3 kernel with a
// three-stage pipeline per band: a reader, a stencil filter, and a writer.
// All nine stages run concurrently, coupled only through strip buffers and
// the two per-dataset I/O locks. Rows move through a band's read buffer until
// the filter has consumed them three times (as the previous, current, and
// next row of successive iterations) and through its write buffer until the
// writer has stored them.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/raster"
	"github.com/grailbio/raster/stencil"
	"github.com/grailbio/raster/stripbuf"
)

// NumBands is the number of bands processed. Inputs with fewer bands get a
// per-band diagnostic and all-zero output for the missing planes.
const NumBands = 3

// BufferStats describes one strip buffer after a run. Leftover is the number
// of rows still held at join; a fully drained pipeline leaves zero.
type BufferStats struct {
	Name     string
	MaxLen   int
	Leftover int
	Cache    stripbuf.CacheStats
}

// Result reports a completed run.
type Result struct {
	Elapsed time.Duration
	Buffers []BufferStats
}

type pipe struct {
	in, out raster.Dataset
	inMu    sync.Mutex // serializes all calls into in
	outMu   sync.Mutex // serializes all calls into out
	width   int
	height  int
	kern    [9]float32
}

// Run filters every band of in through kern into out. Both datasets must
// already be open and share the input's dimensions. Per-row and per-band I/O
// failures are logged and skipped so the pipeline always drains; Run reports
// timing and buffer statistics, not errors.
func Run(in, out raster.Dataset, kern stencil.Kernel) Result {
	start := time.Now()
	p := &pipe{
		in:     in,
		out:    out,
		width:  in.Width(),
		height: in.Height(),
		kern:   kern.Coeffs(),
	}

	var wg sync.WaitGroup
	bufs := make([]*stripbuf.Buffer, 0, 2*NumBands)
	for b := 1; b <= NumBands; b++ {
		rbuf := stripbuf.New(fmt.Sprintf("band%d-read", b))
		wbuf := stripbuf.New(fmt.Sprintf("band%d-write", b))
		bufs = append(bufs, rbuf, wbuf)
		wg.Add(3)
		go func(b int) {
			defer wg.Done()
			p.readBand(b, rbuf)
		}(b)
		go func(b int) {
			defer wg.Done()
			p.filterBand(b, rbuf, wbuf)
		}(b)
		go func(b int) {
			defer wg.Done()
			p.writeBand(b, wbuf)
		}(b)
	}
	wg.Wait()

	result := Result{Elapsed: time.Since(start)}
	for _, buf := range bufs {
		stats := BufferStats{
			Name:     buf.Name(),
			MaxLen:   buf.MaxLen(),
			Leftover: buf.Len(),
			Cache:    buf.CacheStats(),
		}
		result.Buffers = append(result.Buffers, stats)
		log.Debug.Printf("%s: %d rows left, max size %d, cache access %d (%d misses)",
			stats.Name, stats.Leftover, stats.MaxLen, stats.Cache.TotalAccess, stats.Cache.Misses)
		buf.Reset()
	}
	return result
}

// readBand appends every row of the band to rbuf in arbitrary order. A row
// whose read fails is appended anyway (zeroed) so that the filter always
// finds height rows.
func (p *pipe) readBand(bandIdx int, rbuf *stripbuf.Buffer) {
	p.inMu.Lock()
	band, err := p.in.Band(bandIdx)
	p.inMu.Unlock()
	if err != nil {
		log.Error.Printf("failed to get input band %d: %v", bandIdx, err)
	}
	traverse.Each(p.height, func(y int) error { // nolint: errcheck
		row := make([]float32, p.width)
		if band != nil {
			p.inMu.Lock()
			err := band.ReadRow(y, row)
			p.inMu.Unlock()
			if err != nil {
				log.Error.Printf("band %d: read row %d: %v", bandIdx, y, err)
			}
		}
		rbuf.Add(y, row)
		return nil
	})
	log.Printf("band %d read done", bandIdx)
}

// filterBand convolves every row. Iteration y consumes rows y-1, y, y+1
// (clamped to the image) from rbuf and produces row y into wbuf. Each row is
// looked up exactly three times across the iterations that need it, so a row
// whose access count has reached three has no remaining consumers and is
// removed on the spot, keeping rbuf's live set small.
func (p *pipe) filterBand(bandIdx int, rbuf, wbuf *stripbuf.Buffer) {
	traverse.Each(p.height, func(y int) error { // nolint: errcheck
		yPrev := y - 1
		if yPrev < 0 {
			yPrev = 0
		}
		yNext := y + 1
		if yNext == p.height {
			yNext = y
		}
		curr := make([]float32, p.width)
		prev := make([]float32, p.width)
		next := make([]float32, p.width)
		rbuf.WaitGet(y, curr)
		rbuf.WaitGet(yPrev, prev)
		rbuf.WaitGet(yNext, next)

		out := make([]float32, p.width)
		stencil.Apply(prev, curr, next, p.kern, out)
		wbuf.Add(y, out)

		for _, idx := range [3]int{y, yPrev, yNext} {
			if rbuf.Access(idx) >= 3 {
				rbuf.Remove(idx)
			}
		}
		return nil
	})
	log.Printf("band %d filter done", bandIdx)
}

// writeBand drains wbuf row by row into the band, removing each row once
// stored. If the output band cannot be fetched the buffer is still drained so
// the pipeline terminates.
func (p *pipe) writeBand(bandIdx int, wbuf *stripbuf.Buffer) {
	p.outMu.Lock()
	band, err := p.out.Band(bandIdx)
	p.outMu.Unlock()
	if err != nil {
		log.Error.Printf("failed to get output band %d: %v", bandIdx, err)
	}
	traverse.Each(p.height, func(y int) error { // nolint: errcheck
		row := make([]float32, p.width)
		wbuf.WaitGet(y, row)
		if band != nil {
			p.outMu.Lock()
			err := band.WriteRow(y, row)
			p.outMu.Unlock()
			if err != nil {
				log.Error.Printf("band %d: write row %d: %v", bandIdx, y, err)
			}
		}
		wbuf.Remove(y)
		return nil
	})
	log.Printf("band %d write done", bandIdx)
}
