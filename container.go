// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"context"
)

// FastSerialization tag bytes.
const (
	tagNullReference       = 1
	tagBeginPrivateObject  = 5
	tagEndObject           = 6
)

var nettraceMagic = [8]byte{'N', 'e', 't', 't', 'r', 'a', 'c', 'e'}

const fastSerializationSignature = "!FastSerialization.1"

// objectHeader is the parsed serializationType envelope of one container
// object: its declared name and version gates.
type objectHeader struct {
	name             string
	objectVersion    int32
	minReaderVersion int32
}

// parseContainer drives the whole stream: magic, signature, then objects
// until the terminating NullReference.
func parseContainer(ctx context.Context, d *decoder) error {
	if _, err := retry(ctx, d, parseMagicAndSignature); err != nil {
		return err
	}

	for {
		done, err := retry(ctx, d, func(r *reader) (bool, error) {
			return tryParseNullReference(r)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := parseOneObject(ctx, d); err != nil {
			return err
		}
		d.reader.compact()
	}
}

// tryParseNullReference consumes the stream's terminating NullReference
// tag if present at the cursor, leaving the cursor untouched (for the
// BeginPrivateObject case) so the caller can re-read the tag itself.
func tryParseNullReference(r *reader) (bool, error) {
	mark := r.mark()
	tag, err := r.tryUint8()
	if err != nil {
		r.reset(mark)
		return false, err
	}
	if tag == tagNullReference {
		return true, nil
	}
	if tag == tagBeginPrivateObject {
		r.reset(mark)
		return false, nil
	}
	return false, formatErrorf(r.pos(), ErrUnexpectedTag)
}

func parseMagicAndSignature(r *reader) (struct{}, error) {
	mark := r.mark()
	magic, err := r.tryBytes(8)
	if err != nil {
		r.reset(mark)
		return struct{}{}, err
	}
	if string(magic) != string(nettraceMagic[:]) {
		return struct{}{}, formatErrorf(r.pos(), ErrBadMagic)
	}
	sig, err := tryASCIILenPrefixed(r)
	if err != nil {
		r.reset(mark)
		return struct{}{}, err
	}
	if sig != fastSerializationSignature {
		return struct{}{}, formatErrorf(r.pos(), ErrBadSignature)
	}
	return struct{}{}, nil
}

func tryASCIILenPrefixed(r *reader) (string, error) {
	mark := r.mark()
	n, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return "", err
	}
	if n < 0 {
		r.reset(mark)
		return "", formatErrorf(r.pos(), ErrUnexpectedTag)
	}
	b, err := r.tryBytes(int(n))
	if err != nil {
		r.reset(mark)
		return "", err
	}
	return string(b), nil
}

func tryTag(r *reader, want uint8) (struct{}, error) {
	mark := r.mark()
	got, err := r.tryUint8()
	if err != nil {
		r.reset(mark)
		return struct{}{}, err
	}
	if got != want {
		return struct{}{}, formatErrorf(r.pos(), ErrUnexpectedTag)
	}
	return struct{}{}, nil
}

// parseObjectHeader reads:
//
//	BeginPrivateObject (outer object)
//	BeginPrivateObject NullReference i32 i32 i32 name EndObject (serializationType)
func parseObjectHeader(r *reader) (objectHeader, error) {
	mark := r.mark()
	if _, err := tryTag(r, tagBeginPrivateObject); err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	if _, err := tryTag(r, tagBeginPrivateObject); err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	if _, err := tryTag(r, tagNullReference); err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	objectVersion, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	minReaderVersion, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	name, err := tryASCIILenPrefixed(r)
	if err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	if _, err := tryTag(r, tagEndObject); err != nil {
		r.reset(mark)
		return objectHeader{}, err
	}
	return objectHeader{name: name, objectVersion: objectVersion, minReaderVersion: minReaderVersion}, nil
}

// parseOneObject parses a single container object and, if recognized and
// version-compatible, dispatches its body to the matching block decoder.
func parseOneObject(ctx context.Context, d *decoder) error {
	hdr, err := retry(ctx, d, parseObjectHeader)
	if err != nil {
		return err
	}

	if hdr.name == "Trace" {
		if d.haveTraceMetadata {
			return formatErrorf(d.reader.pos(), ErrUnexpectedTag)
		}
		tm, err := retry(ctx, d, parseTraceBlock)
		if err != nil {
			return err
		}
		if _, err := retry(ctx, d, func(r *reader) (struct{}, error) { return tryTag(r, tagEndObject) }); err != nil {
			return err
		}
		d.traceMetadata = tm
		d.haveTraceMetadata = true
		return nil
	}

	blockSize, err := retry(ctx, d, parseBlockSizeWithPadding)
	if err != nil {
		return err
	}
	bodyStart := d.reader.pos()
	body, err := retry(ctx, d, func(r *reader) ([]byte, error) { return r.tryBytes(int(blockSize)) })
	if err != nil {
		return err
	}
	if _, err := retry(ctx, d, func(r *reader) (struct{}, error) { return tryTag(r, tagEndObject) }); err != nil {
		return err
	}

	if hdr.minReaderVersion > readerVersion {
		d.log.Debugf("skipping forward-incompatible block %q (minReaderVersion=%d)", hdr.name, hdr.minReaderVersion)
		return nil
	}

	sub := newSubReader(body, bodyStart)
	switch hdr.name {
	case "MetadataBlock", "EventBlock":
		return decodeCompressedEventBlock(d, sub)
	case "StackBlock":
		return decodeStackBlock(d, sub)
	case "SPBlock":
		return decodeSPBlock(d, sub)
	default:
		d.log.Debugf("skipping unknown block %q", hdr.name)
		return nil
	}
}

// parseBlockSizeWithPadding reads the i32 blockSize and skips the
// alignment padding to the next 4-byte boundary. Padding bytes must be
// zero; a stream with non-zero padding is rejected rather than silently
// accepted.
func parseBlockSizeWithPadding(r *reader) (int32, error) {
	mark := r.mark()
	blockSize, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return 0, err
	}
	if blockSize < 0 {
		return 0, formatErrorf(r.pos(), ErrBlockSizeMismatch)
	}
	padLen := int((4 - r.pos()%4) % 4)
	pad, err := r.tryBytes(padLen)
	if err != nil {
		r.reset(mark)
		return 0, err
	}
	for _, b := range pad {
		if b != 0 {
			return 0, formatErrorf(r.pos(), ErrNonZeroPadding)
		}
	}
	return blockSize, nil
}
