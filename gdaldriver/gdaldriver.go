// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gdaldriver adapts GDAL datasets, via github.com/airbusgeo/godal, to
// the raster interfaces. GDAL reads any georeferenced format it has a driver
// for and performs the sample-type conversion (including the float32-to-byte
// saturation on write). GDAL handles are not thread-safe; callers serialize
// access, which the pipeline's per-dataset I/O mutexes already do.
package gdaldriver

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/raster"
)

var register sync.Once

// Dataset wraps an open godal dataset. It implements raster.Dataset.
type Dataset struct {
	ds     *godal.Dataset
	width  int
	height int
	bands  []godal.Band
}

// Open opens path read-only with whatever GDAL driver recognizes it.
func Open(path string) (*Dataset, error) {
	register.Do(godal.RegisterAll)
	ds, err := godal.Open(path)
	if err != nil {
		return nil, err
	}
	return wrap(ds), nil
}

// Create makes a GeoTIFF at path with byte-typed bands of the given shape.
func Create(path string, width, height, bands int) (*Dataset, error) {
	register.Do(godal.RegisterAll)
	ds, err := godal.Create(godal.GTiff, path, bands, godal.Byte, width, height)
	if err != nil {
		return nil, err
	}
	return wrap(ds), nil
}

func wrap(ds *godal.Dataset) *Dataset {
	structure := ds.Structure()
	return &Dataset{
		ds:     ds,
		width:  structure.SizeX,
		height: structure.SizeY,
		bands:  ds.Bands(),
	}
}

// Width implements raster.Dataset.
func (d *Dataset) Width() int { return d.width }

// Height implements raster.Dataset.
func (d *Dataset) Height() int { return d.height }

// Band implements raster.Dataset.
func (d *Dataset) Band(i int) (raster.Band, error) {
	if i < 1 || i > len(d.bands) {
		return nil, errors.E(fmt.Sprintf("failed to get band %d (dataset has %d)", i, len(d.bands)))
	}
	return &band{b: d.bands[i-1], width: d.width}, nil
}

// Close implements raster.Dataset.
func (d *Dataset) Close() error {
	return d.ds.Close()
}

type band struct {
	b     godal.Band
	width int
}

// ReadRow reads row y, letting GDAL convert the band's sample type to
// float32.
func (b *band) ReadRow(y int, dst []float32) error {
	return b.b.Read(0, y, dst, b.width, 1)
}

// WriteRow writes row y, letting GDAL convert float32 to the band type.
func (b *band) WriteRow(y int, src []float32) error {
	return b.b.Write(0, y, src, b.width, 1)
}
