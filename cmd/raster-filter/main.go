// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/raster"
	"github.com/grailbio/raster/gdaldriver"
	"github.com/grailbio/raster/pipeline"
	"github.com/grailbio/raster/rawdriver"
	"github.com/grailbio/raster/stencil"
)

var (
	runs     = flag.Int("runs", 1, "Number of times to run the whole pipeline; per-run and average wall times are reported when > 1")
	checksum = flag.Bool("checksum", false, "Print a per-band digest of the output after each run")
)

// rawSuffix selects the built-in raw float32 driver instead of GDAL.
const rawSuffix = ".rras"

func rasterFilterUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] inputpath outputpath\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = rasterFilterUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 2 {
		log.Fatalf("Expected exactly two positional arguments (inputpath outputpath), got '%s'", strings.Join(flag.Args(), " "))
	}
	inPath, outPath := flag.Arg(0), flag.Arg(1)
	ctx := vcontext.Background()

	times := make([]time.Duration, 0, *runs)
	for run := 1; run <= *runs; run++ {
		if *runs > 1 {
			log.Printf("starting run %d/%d", run, *runs)
		}
		elapsed := process(ctx, inPath, outPath)
		log.Printf("all bands done in %v", elapsed)
		times = append(times, elapsed)
	}
	if *runs > 1 {
		var total time.Duration
		for i, d := range times {
			log.Printf("run %d: %v", i+1, d)
			total += d
		}
		log.Printf("total %v, average %v", total, total/time.Duration(len(times)))
	}
}

// process runs the pipeline once, returning its wall time. Open and create
// failures are fatal; everything past that point is soft per-row handling
// inside the pipeline.
func process(ctx context.Context, inPath, outPath string) time.Duration {
	in, err := openInput(ctx, inPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", inPath, err)
	}
	out, err := createOutput(ctx, outPath, in.Width(), in.Height())
	if err != nil {
		log.Fatalf("failed to create %s: %v", outPath, err)
	}

	result := pipeline.Run(in, out, stencil.Laplacian)

	if *checksum {
		sums, err := pipeline.Checksum(out, pipeline.NumBands)
		if err != nil {
			log.Error.Printf("checksum %s: %v", outPath, err)
		} else {
			for b, sum := range sums {
				fmt.Printf("band %d: %016x\n", b+1, sum)
			}
		}
	}
	if err := in.Close(); err != nil {
		log.Error.Printf("close %s: %v", inPath, err)
	}
	if err := out.Close(); err != nil {
		log.Error.Printf("close %s: %v", outPath, err)
	}
	return result.Elapsed
}

func openInput(ctx context.Context, path string) (raster.Dataset, error) {
	if strings.HasSuffix(path, rawSuffix) {
		return rawdriver.Open(ctx, path)
	}
	return gdaldriver.Open(path)
}

func createOutput(ctx context.Context, path string, width, height int) (raster.Dataset, error) {
	if strings.HasSuffix(path, rawSuffix) {
		return rawdriver.Create(ctx, path, width, height, pipeline.NumBands, rawdriver.Gzip)
	}
	return gdaldriver.Create(path, width, height, pipeline.NumBands)
}
