// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package rawdriver implements a minimal single-file raster format: a fixed
// header followed by band-major float32 samples, optionally gzip- or
// snappy-framed. It exists so the pipeline and its tests can run where GDAL
// is not installed. Files go through grailbio/base/file, so s3:// paths work
// the same as local ones.
//
// The whole image lives in memory while the dataset is open: Open decodes the
// body up front and Create buffers bands until Close encodes them.
package rawdriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/raster"
	"github.com/klauspost/compress/gzip"
)

// Codec selects the body compression of a file.
type Codec uint8

const (
	// Raw stores the sample body uncompressed.
	Raw Codec = iota
	// Gzip frames the body with gzip.
	Gzip
	// Snappy frames the body with snappy's stream format.
	Snappy
)

const (
	magic      = "RRAS"
	version    = 1
	headerSize = 16
)

// Dataset is an open raw raster. It implements raster.Dataset.
type Dataset struct {
	ctx    context.Context
	path   string
	width  int
	height int
	codec  Codec
	planes [][]float32
	dirty  bool // Create'd; Close writes the file
	closed bool
}

// Open reads the file at path into memory and returns a read-mostly dataset.
// WriteRow still works but changes are never written back.
func Open(ctx context.Context, path string) (*Dataset, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	d, err := decode(in.Reader(ctx), path)
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, err
	}
	d.ctx = ctx
	return d, nil
}

// Create returns an empty writable dataset of the given shape. Nothing is
// written until Close.
func Create(ctx context.Context, path string, width, height, bands int, codec Codec) (*Dataset, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.E(fmt.Sprintf("%s: invalid raster shape %dx%d", path, width, height))
	}
	if bands <= 0 || bands > math.MaxUint16 {
		return nil, errors.E(fmt.Sprintf("%s: invalid band count %d", path, bands))
	}
	if codec > Snappy {
		return nil, errors.E(fmt.Sprintf("%s: unknown codec %d", path, codec))
	}
	d := &Dataset{
		ctx:    ctx,
		path:   path,
		width:  width,
		height: height,
		codec:  codec,
		planes: make([][]float32, bands),
		dirty:  true,
	}
	for i := range d.planes {
		d.planes[i] = make([]float32, width*height)
	}
	return d, nil
}

// Width implements raster.Dataset.
func (d *Dataset) Width() int { return d.width }

// Height implements raster.Dataset.
func (d *Dataset) Height() int { return d.height }

// Band implements raster.Dataset.
func (d *Dataset) Band(i int) (raster.Band, error) {
	if i < 1 || i > len(d.planes) {
		return nil, errors.E(fmt.Sprintf("%s: no band %d (file has %d)", d.path, i, len(d.planes)))
	}
	return &band{d: d, plane: d.planes[i-1]}, nil
}

// Close encodes and writes the file for datasets made by Create, and releases
// the planes either way. Only the first call does anything; later calls
// return nil.
func (d *Dataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if !d.dirty {
		d.planes = nil
		return nil
	}
	out, err := file.Create(d.ctx, d.path)
	if err != nil {
		return err
	}
	err = d.encode(out.Writer(d.ctx))
	if e := out.Close(d.ctx); e != nil && err == nil {
		err = e
	}
	d.planes = nil
	return err
}

type band struct {
	d     *Dataset
	plane []float32
}

func (b *band) ReadRow(y int, dst []float32) error {
	if y < 0 || y >= b.d.height {
		return errors.E(fmt.Sprintf("%s: row %d out of range [0,%d)", b.d.path, y, b.d.height))
	}
	copy(dst, b.plane[y*b.d.width:(y+1)*b.d.width])
	return nil
}

func (b *band) WriteRow(y int, src []float32) error {
	if y < 0 || y >= b.d.height {
		return errors.E(fmt.Sprintf("%s: row %d out of range [0,%d)", b.d.path, y, b.d.height))
	}
	copy(b.plane[y*b.d.width:(y+1)*b.d.width], src)
	return nil
}

func decode(r io.Reader, path string) (*Dataset, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, errors.E(err, "reading header of "+path)
	}
	if string(hdr[:4]) != magic {
		return nil, errors.E(fmt.Sprintf("%s: not a raw raster file", path))
	}
	if hdr[4] != version {
		return nil, errors.E(fmt.Sprintf("%s: unsupported version %d", path, hdr[4]))
	}
	codec := Codec(hdr[5])
	bands := int(binary.LittleEndian.Uint16(hdr[6:]))
	width := int(binary.LittleEndian.Uint32(hdr[8:]))
	height := int(binary.LittleEndian.Uint32(hdr[12:]))
	if width <= 0 || height <= 0 || bands <= 0 {
		return nil, errors.E(fmt.Sprintf("%s: corrupt header (%d bands, %dx%d)", path, bands, width, height))
	}

	var body io.Reader
	switch codec {
	case Raw:
		body = r
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, path)
		}
		defer gz.Close() // nolint: errcheck
		body = gz
	case Snappy:
		body = snappy.NewReader(r)
	default:
		return nil, errors.E(fmt.Sprintf("%s: unknown codec %d", path, codec))
	}

	d := &Dataset{
		path:   path,
		width:  width,
		height: height,
		codec:  codec,
		planes: make([][]float32, bands),
	}
	rowBytes := make([]byte, 4*width)
	for i := range d.planes {
		plane := make([]float32, width*height)
		for y := 0; y < height; y++ {
			if _, err := io.ReadFull(body, rowBytes); err != nil {
				return nil, errors.E(err, errors.E(fmt.Sprintf("%s: band %d row %d", path, i+1, y)))
			}
			row := plane[y*width : (y+1)*width]
			for x := range row {
				row[x] = math.Float32frombits(binary.LittleEndian.Uint32(rowBytes[4*x:]))
			}
		}
		d.planes[i] = plane
	}
	return d, nil
}

func (d *Dataset) encode(w io.Writer) error {
	hdr := make([]byte, headerSize)
	copy(hdr, magic)
	hdr[4] = version
	hdr[5] = byte(d.codec)
	binary.LittleEndian.PutUint16(hdr[6:], uint16(len(d.planes)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(d.width))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(d.height))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	body := w
	var flush func() error
	switch d.codec {
	case Raw:
	case Gzip:
		gz := gzip.NewWriter(w)
		body, flush = gz, gz.Close
	case Snappy:
		sn := snappy.NewBufferedWriter(w)
		body, flush = sn, sn.Close
	}

	rowBytes := make([]byte, 4*d.width)
	for _, plane := range d.planes {
		for y := 0; y < d.height; y++ {
			row := plane[y*d.width : (y+1)*d.width]
			for x, v := range row {
				binary.LittleEndian.PutUint32(rowBytes[4*x:], math.Float32bits(v))
			}
			if _, err := body.Write(rowBytes); err != nil {
				return err
			}
		}
	}
	if flush != nil {
		return flush()
	}
	return nil
}
