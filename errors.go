// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fixed MalformedFormat cases. Wrap with
// errors.Is/errors.As against these; FormatError carries the offending
// absolute stream position alongside one of them.
var (
	// ErrBadMagic is returned when the leading 8 bytes are not "Nettrace".
	ErrBadMagic = errors.New("nettrace: bad magic, not a Nettrace stream")

	// ErrBadSignature is returned when the FastSerialization signature
	// string does not match "!FastSerialization.1".
	ErrBadSignature = errors.New("nettrace: bad FastSerialization signature")

	// ErrUnexpectedTag is returned when a tag byte does not match what the
	// container grammar requires at that position.
	ErrUnexpectedTag = errors.New("nettrace: unexpected tag byte")

	// ErrBlockSizeMismatch is returned when a block decoder's final
	// position does not land exactly on the declared block end.
	ErrBlockSizeMismatch = errors.New("nettrace: block body did not end at declared size")

	// ErrPayloadSizeMismatch is returned when an event blob's payload
	// parse does not consume exactly payloadSize bytes.
	ErrPayloadSizeMismatch = errors.New("nettrace: event payload did not end at declared size")

	// ErrUnknownMetadataID is returned when an event blob references a
	// metadataId that was never defined earlier in the stream.
	ErrUnknownMetadataID = errors.New("nettrace: event references unknown metadataId")

	// ErrUncompressedUnsupported is returned for EventBlock/MetadataBlock
	// bodies without the Compressed flag set. Uncompressed blobs are a
	// format bit that real producers never set; no decoder exists for
	// that layout.
	ErrUncompressedUnsupported = errors.New("nettrace: uncompressed event blobs are not supported")

	// ErrNonZeroPadding is returned when inter-block alignment padding
	// contains non-zero bytes.
	ErrNonZeroPadding = errors.New("nettrace: non-zero padding bytes")

	// ErrUnknownFieldType is returned when a field definition's TypeCode
	// is not one this parser understands.
	ErrUnknownFieldType = errors.New("nettrace: unknown field type code")

	// ErrTruncated indicates the underlying source ended before the
	// terminating NullReference tag was reached.
	ErrTruncated = errors.New("nettrace: stream truncated before end of container")

	// ErrFieldCountTooHigh is returned when a field-definition list's
	// declared count exceeds Options.MaxFieldCount, before any
	// allocation sized by that count is attempted.
	ErrFieldCountTooHigh = errors.New("nettrace: field definition count exceeds MaxFieldCount")

	// ErrArrayLengthTooHigh is returned when an array-typed payload
	// value's declared length exceeds Options.MaxArrayLength, before any
	// allocation sized by that length is attempted.
	ErrArrayLengthTooHigh = errors.New("nettrace: array payload length exceeds MaxArrayLength")
)

// FormatError wraps a sentinel error with the absolute stream position at
// which it was detected. Malformed input is reported as a *FormatError;
// I/O errors from the source, context cancellation and ErrTooManyEvents
// are returned without a position. No error comes with a partial Trace.
type FormatError struct {
	Pos int64
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("nettrace: at offset %d: %v", e.Pos, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErrorf(pos int64, err error) error {
	return &FormatError{Pos: pos, Err: err}
}
