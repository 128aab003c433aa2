// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package raster defines the dataset and band interfaces the pipeline reads
// and writes through. Implementations convert between their storage type and
// float32 rows. No implementation is required to be safe for concurrent use;
// the pipeline serializes all calls into one dataset behind a single mutex.
package raster

// Band is one sample plane of a dataset, addressed by whole rows.
type Band interface {
	// ReadRow fills dst with row y, converting the band's sample type to
	// float32. dst must have the dataset width.
	ReadRow(y int, dst []float32) error
	// WriteRow stores src as row y, converting float32 to the band's sample
	// type with whatever rounding and saturation the format applies.
	WriteRow(y int, src []float32) error
}

// Dataset is an open raster of one or more equally-sized bands.
type Dataset interface {
	Width() int
	Height() int
	// Band returns band i. Band indexes are 1-based, following the raster
	// library convention.
	Band(i int) (Band, error)
	// Close releases the dataset, flushing pending writes for writable
	// implementations.
	Close() error
}
