// Copyright 2021 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package stripbuf provides the shared row buffers that connect the stages of
// the raster pipeline. A buffer is an insertion-ordered sequence of rows keyed
// by row number, safe for concurrent producers and consumers. Each entry
// carries an access count incremented on every successful lookup, so a
// consumer can reclaim a row as soon as every downstream reader has seen it.
package stripbuf
