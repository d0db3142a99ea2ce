// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package nettrace implements a streaming parser for the .nettrace
// event-pipe binary format: a self-describing, tag-delimited container of
// length-prefixed blocks whose event blobs are delta-compressed against
// the previous blob in the block.
//
// Parse (or ParseFile) consumes the container incrementally off an
// io.Reader, assembling a chronologically ordered Trace: a dictionary of
// event-type metadata and the fully resolved, symbolized stack trace for
// every event.
package nettrace
