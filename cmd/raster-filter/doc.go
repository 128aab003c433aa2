// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*
raster-filter applies a 3x3 edge-detection Laplacian to the three bands of a
raster image, overlapping the read, filter, and write stages of every band so
that I/O and computation proceed concurrently.

The output is a GeoTIFF of the input's dimensions with three byte-typed
bands. Paths ending in .rras use this repo's raw float32 format instead,
which needs no GDAL installation and accepts s3:// URLs.

Sample usage:

	raster-filter input.tif output.tif

	raster-filter -runs 5 -checksum input.tif output.tif

With -runs N the whole pipeline is executed N times over the same files and
per-run plus average wall times are reported. With -checksum a per-band
digest of the output is printed after each run; repeated runs over the same
input must print identical digests.
*/
package main
