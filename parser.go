// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"context"
	"errors"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/saferwall/nettrace/tracelog"
)

// readerVersion is the highest FastSerialization minReaderVersion this
// parser understands; objects declaring a higher minReaderVersion are
// forward-compatibly skipped.
const readerVersion = 4

// defaultMaxFieldCount and defaultMaxArrayLength bound the two places a
// stream-declared count directly sizes an allocation before any bytes
// backing that count have been read. Both are generous for any
// legitimate trace and only exist to stop a malformed or adversarial
// count (e.g. 0x7fffffff) from driving a multi-GB allocation attempt.
const (
	defaultMaxFieldCount  = 4096
	defaultMaxArrayLength = 1 << 20
)

// Options configures Parse and ParseFile. The zero value is valid and safe
// to use directly: MaxEventCount of 0 means "unbounded",
// MaxFieldCount/MaxArrayLength of 0 fall back to generous defaults
// rather than unbounded (they guard allocations sized directly off
// stream-declared counts) — a handful of resource knobs plus a
// pluggable logger.
type Options struct {
	// MaxEventCount bounds how many events are retained; 0 means
	// unbounded. A trace exceeding it fails with ErrTooManyEvents.
	MaxEventCount int

	// MaxStackCount is not consulted by the decoder: every stack a
	// StackBlock declares is kept, whatever its value.
	MaxStackCount int

	// MaxFieldCount bounds a single field-definition list's declared
	// count, checked before the backing slice is allocated. 0 defaults
	// to defaultMaxFieldCount; a trace exceeding it fails with
	// ErrFieldCountTooHigh.
	MaxFieldCount int

	// MaxArrayLength bounds a single array-typed payload value's
	// declared length, checked before the backing slice is allocated. 0
	// defaults to defaultMaxArrayLength; a trace exceeding it fails
	// with ErrArrayLengthTooHigh.
	MaxArrayLength int

	// PipeDepth sets the byte-source channel depth (default 4).
	PipeDepth int

	// OnProgress, if set, is invoked after each event blob that yields
	// an Event. Metadata-definition blobs and blocks that carry no
	// events (Trace, StackBlock, SPBlock) do not invoke it.
	OnProgress ProgressFunc

	// Logger receives diagnostic output; defaults to tracelog.NewZap()
	// when nil.
	Logger tracelog.Logger
}

// ErrTooManyEvents is returned when Options.MaxEventCount is exceeded.
var ErrTooManyEvents = errors.New("nettrace: event count exceeds MaxEventCount")

// decoder holds all mutable parse state threaded through the container,
// block, and event-blob decoders. One decoder is used per Parse call.
type decoder struct {
	opts   *Options
	log    *tracelog.Helper
	reader *reader
	source *byteSource

	haveTraceMetadata bool
	traceMetadata     TraceMetadata
	eventMetadata     map[int32]*EventMetadata
	events            []*Event
	intern            *internPool
	resolver          *stackResolver

	stackIndexOffset int64
	lastStackIndex   int64

	eventsRead int64
}

func newDecoder(ctx context.Context, r io.Reader, opts *Options) *decoder {
	if opts == nil {
		opts = &Options{}
	}
	if opts.MaxFieldCount == 0 {
		opts.MaxFieldCount = defaultMaxFieldCount
	}
	if opts.MaxArrayLength == 0 {
		opts.MaxArrayLength = defaultMaxArrayLength
	}
	logger := opts.Logger
	if logger == nil {
		logger = tracelog.NewZap()
	}
	return &decoder{
		opts:          opts,
		log:           tracelog.NewHelper(logger),
		reader:        newReader(),
		source:        newByteSource(ctx, r, opts.PipeDepth),
		eventMetadata: make(map[int32]*EventMetadata),
		intern:        newInternPool(),
		resolver:      newStackResolver(),
	}
}

// fill blocks for the next chunk of input and feeds it to the reader.
// Returns io.EOF when the source has cleanly ended.
func (d *decoder) fill(ctx context.Context) error {
	chunk, ok, err := d.source.next(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	d.reader.feed(chunk)
	return nil
}

// retry runs fn against d.reader, transparently feeding more input and
// retrying from scratch whenever fn reports errShortBuffer. Any other
// error — nil, fatal format error, or context cancellation — ends the
// loop.
func retry[T any](ctx context.Context, d *decoder, fn func(*reader) (T, error)) (T, error) {
	for {
		v, err := fn(d.reader)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, errShortBuffer) {
			var zero T
			return zero, err
		}
		if fillErr := d.fill(ctx); fillErr != nil {
			var zero T
			if fillErr == io.EOF {
				return zero, formatErrorf(d.reader.pos(), ErrTruncated)
			}
			return zero, fillErr
		}
	}
}

// Parse streams r as a .nettrace container and returns the fully
// assembled Trace. Parsing is all-or-nothing: a fatal error never
// returns a partial Trace.
func Parse(ctx context.Context, r io.Reader, opts *Options) (*Trace, error) {
	d := newDecoder(ctx, r, opts)
	if err := parseContainer(ctx, d); err != nil {
		return nil, err
	}
	return assembleTrace(d)
}

// ParseFile memory-maps path and parses it through Parse. The mapped
// bytes go through the same byte-source goroutine and channel as any
// other io.Reader; there is no separate synchronous path.
func ParseFile(ctx context.Context, path string, opts *Options) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer data.Unmap()

	return Parse(ctx, newBytesReader(data), opts)
}

// bytesReader adapts a byte slice to io.Reader without copying, used by
// ParseFile to feed the mmap'd region through the same Parse path as any
// other source.
type bytesReader struct {
	data []byte
	off  int
}

func newBytesReader(data []byte) *bytesReader { return &bytesReader{data: data} }

func (b *bytesReader) Read(p []byte) (int, error) {
	if b.off >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	return n, nil
}
