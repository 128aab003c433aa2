// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/raster"
	"github.com/minio/highwayhash"
)

// checksumKey is the fixed HighwayHash key; digests are only compared with
// each other, never persisted.
var checksumKey [32]byte

// Checksum digests the first bands sample planes of ds row by row and
// returns one HighwayHash-64 digest per band. Runs over identical sample
// data produce identical digests, which makes repeated-run determinism
// cheap to verify.
func Checksum(ds raster.Dataset, bands int) ([]uint64, error) {
	sums := make([]uint64, 0, bands)
	row := make([]float32, ds.Width())
	rowBytes := make([]byte, 4*ds.Width())
	for b := 1; b <= bands; b++ {
		band, err := ds.Band(b)
		if err != nil {
			return nil, errors.E(err, "checksum: band", b)
		}
		h, err := highwayhash.New64(checksumKey[:])
		if err != nil {
			return nil, err
		}
		for y := 0; y < ds.Height(); y++ {
			if err := band.ReadRow(y, row); err != nil {
				return nil, errors.E(err, "checksum: band", b, "row", y)
			}
			for x, v := range row {
				binary.LittleEndian.PutUint32(rowBytes[4*x:], math.Float32bits(v))
			}
			h.Write(rowBytes) // nolint: errcheck
		}
		sums = append(sums, h.Sum64())
	}
	return sums, nil
}
