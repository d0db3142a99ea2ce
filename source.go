// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"context"
	"io"
)

// minChunkSize is the size of the buffer the byte source reads into. Each
// chunk it queues is what one Read returned, so a chunk holds at most
// this many bytes and may hold fewer.
const minChunkSize = 64 * 1024

// Progress is delivered to an Options.OnProgress sink after each event
// blob that yields an Event. It is idempotent: a consumer
// may read it and throttle without side effects on the parser.
type Progress struct {
	BytesRead  int64
	EventsRead int64
}

// ProgressFunc receives Progress updates. It must not block for long —
// the decode loop calls it synchronously between blobs.
type ProgressFunc func(Progress)

// byteSource is a single-producer/single-consumer byte pipe: a goroutine
// pumps chunks of up to minChunkSize bytes (one Read each) off an
// io.Reader into a bounded channel; the
// decode loop drains it and blocks only at that boundary.
type byteSource struct {
	chunks    chan []byte
	errCh     chan error
	bytesRead int64
}

// newByteSource starts the pump goroutine over r. It completes the pipe
// (closing chunks, optionally sending to errCh) when r yields 0 bytes
// with io.EOF, when r errors, or when ctx is done.
func newByteSource(ctx context.Context, r io.Reader, depth int) *byteSource {
	if depth <= 0 {
		depth = 4
	}
	s := &byteSource{
		chunks: make(chan []byte, depth),
		errCh:  make(chan error, 1),
	}
	go s.pump(ctx, r)
	return s
}

func (s *byteSource) pump(ctx context.Context, r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, minChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.errCh <- ctx.Err()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.errCh <- err
			}
			return
		}
		if n == 0 && err == nil {
			// A Read that returns (0, nil) is legal per io.Reader and
			// means nothing happened; the pump reads again at once.
			continue
		}
	}
}

// next blocks for the next chunk, an error, cancellation, or a clean
// end-of-stream (ok == false, err == nil).
func (s *byteSource) next(ctx context.Context) (chunk []byte, ok bool, err error) {
	select {
	case c, open := <-s.chunks:
		if !open {
			select {
			case e := <-s.errCh:
				return nil, false, e
			default:
				return nil, false, nil
			}
		}
		s.bytesRead += int64(len(c))
		return c, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
