// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// streamBuilder constructs well-formed (or deliberately malformed) nettrace
// byte streams for tests, tracking absolute position so block padding comes
// out right without hand-computing offsets.
type streamBuilder struct {
	buf []byte
}

func (s *streamBuilder) pos() int64 { return int64(len(s.buf)) }

func (s *streamBuilder) raw(b []byte) *streamBuilder {
	s.buf = append(s.buf, b...)
	return s
}

func (s *streamBuilder) u8(v uint8) *streamBuilder { return s.raw([]byte{v}) }

func (s *streamBuilder) i16(v int16) *streamBuilder {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return s.raw(b[:])
}

func (s *streamBuilder) i32(v int32) *streamBuilder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return s.raw(b[:])
}

func (s *streamBuilder) i64(v int64) *streamBuilder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return s.raw(b[:])
}

func (s *streamBuilder) varUint(v uint64) *streamBuilder {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		s.u8(b)
		if v == 0 {
			return s
		}
	}
}

// asciiLenPrefixed writes an i32 byte count followed by raw ASCII bytes,
// the form used for the FastSerialization signature and object type names.
func (s *streamBuilder) asciiLenPrefixed(str string) *streamBuilder {
	s.i32(int32(len(str)))
	return s.raw([]byte(str))
}

// utf16NullTerminated writes str (ASCII-only, sufficient for test fixtures)
// as UTF-16LE code units followed by a 0x0000 terminator.
func (s *streamBuilder) utf16NullTerminated(str string) *streamBuilder {
	for _, r := range str {
		s.raw([]byte{byte(r), 0})
	}
	return s.raw([]byte{0, 0})
}

// guid writes g in the Microsoft mixed-endian wire layout, the exact
// inverse of reader.tryGUID.
func (s *streamBuilder) guid(g uuid.UUID) *streamBuilder {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], binary.BigEndian.Uint32(g[0:4]))
	binary.LittleEndian.PutUint16(b[4:6], binary.BigEndian.Uint16(g[4:6]))
	binary.LittleEndian.PutUint16(b[6:8], binary.BigEndian.Uint16(g[6:8]))
	copy(b[8:16], g[8:16])
	return s.raw(b[:])
}

// objectHeader writes the BeginPrivateObject/serializationType envelope
// shared by every container object.
func (s *streamBuilder) objectHeader(name string, objectVersion, minReaderVersion int32) *streamBuilder {
	s.u8(tagBeginPrivateObject)
	s.u8(tagBeginPrivateObject)
	s.u8(tagNullReference)
	s.i32(objectVersion)
	s.i32(minReaderVersion)
	s.asciiLenPrefixed(name)
	return s.u8(tagEndObject)
}

// block appends a size-prefixed, 4-byte-aligned block object (Stack,
// Metadata, Event, SP, or any unknown name) with the given body.
func (s *streamBuilder) block(name string, minReaderVersion int32, body []byte) *streamBuilder {
	s.objectHeader(name, 1, minReaderVersion)
	s.i32(int32(len(body)))
	padLen := int((4 - s.pos()%4) % 4)
	for i := 0; i < padLen; i++ {
		s.u8(0)
	}
	s.raw(body)
	return s.u8(tagEndObject)
}

// traceObject appends the leading Trace object (no size field, no
// padding).
func (s *streamBuilder) traceObject(f traceFields) *streamBuilder {
	s.objectHeader("Trace", 4, 4)
	s.i16(f.year).i16(f.month).i16(0 /* dayOfWeek */).i16(f.day)
	s.i16(f.hour).i16(f.minute).i16(f.second).i16(f.millisecond)
	s.i64(f.qpcSyncTime).i64(f.qpcFrequency)
	s.i32(f.pointerSize).i32(f.processID).i32(f.numberOfProcessors).i32(f.cpuSamplingRate)
	return s.u8(tagEndObject)
}

type traceFields struct {
	year, month, day, hour, minute, second, millisecond int16
	qpcSyncTime, qpcFrequency                            int64
	pointerSize, processID, numberOfProcessors, cpuSamplingRate int32
}

var defaultTraceFields = traceFields{
	year: 2023, month: 12, day: 26, hour: 17, minute: 47, second: 10, millisecond: 622,
	qpcSyncTime: 3679946412879, qpcFrequency: 10000000,
	pointerSize: 8, processID: 2756, numberOfProcessors: 12, cpuSamplingRate: 1000000,
}

// blockSpec describes one block object to append after the leading Trace
// object in buildStream.
type blockSpec struct {
	name             string
	minReaderVersion int32
	body             []byte
}

// buildStream assembles a complete parseable stream: magic, signature, the
// Trace object, then each block in order, then the terminating
// NullReference. Everything is written onto one streamBuilder so that each
// block's size-alignment padding is computed from its true absolute offset
// in the stream, matching what the decoder sees — building blocks with
// separate, independently-positioned builders and concatenating the result
// would get that padding wrong.
func buildStream(f traceFields, blocks ...blockSpec) []byte {
	s := &streamBuilder{}
	s.raw(nettraceMagic[:])
	s.asciiLenPrefixed(fastSerializationSignature)
	s.traceObject(f)
	for _, b := range blocks {
		s.block(b.name, b.minReaderVersion, b.body)
	}
	s.u8(tagNullReference)
	return s.buf
}

// fieldDefBytes appends a V1 field-definition list: i32 count, then for
// each field an i32 typeCode and a null-terminated UTF-16 name.
func (s *streamBuilder) fieldDefs(names []string, typeCode FieldTypeCode) *streamBuilder {
	s.i32(int32(len(names)))
	for _, n := range names {
		s.i32(int32(typeCode))
		s.utf16NullTerminated(n)
	}
	return s
}

// buildMetadataDefinitionPayload builds an EventMetadata definition
// payload (the body of a metadataId==0 blob).
func buildMetadataDefinitionPayload(metadataID, eventID, version, level int32, keywords int64, provider, eventName string, fieldNames []string, fieldType FieldTypeCode) []byte {
	s := &streamBuilder{}
	s.i32(metadataID)
	s.utf16NullTerminated(provider)
	s.i32(eventID)
	s.utf16NullTerminated(eventName)
	s.i64(keywords)
	s.i32(version)
	s.i32(level)
	s.fieldDefs(fieldNames, fieldType)
	return s.buf
}

// eventBlobFields carries every field a compressed blob might carry; a
// caller sets flags to indicate which survive onto the wire, leaving the
// rest zero (inherited from block state at decode time).
type eventBlobFields struct {
	flags             uint8
	metadataID        uint32
	seqDelta          uint32
	captureThreadID   uint64
	processorNumber   uint32
	threadID          uint64
	stackID           uint32
	tsDelta           uint64
	activityID        uuid.UUID
	relatedActivityID uuid.UUID
	payload           []byte
}

// buildBlob writes one compressed event blob.
func (s *streamBuilder) buildBlob(f eventBlobFields) *streamBuilder {
	s.u8(f.flags)
	if f.flags&blobFlagHasMetadataId != 0 {
		s.varUint(uint64(f.metadataID))
	}
	if f.flags&blobFlagHasSeqCaptProc != 0 {
		s.varUint(uint64(f.seqDelta))
		s.varUint(f.captureThreadID)
		s.varUint(uint64(f.processorNumber))
	}
	if f.flags&blobFlagHasThreadId != 0 {
		s.varUint(f.threadID)
	}
	if f.flags&blobFlagHasStackId != 0 {
		s.varUint(uint64(f.stackID))
	}
	s.varUint(f.tsDelta)
	if f.flags&blobFlagHasActivityId != 0 {
		s.guid(f.activityID)
	}
	if f.flags&blobFlagHasRelatedActivityId != 0 {
		s.guid(f.relatedActivityID)
	}
	if f.flags&blobFlagHasPayloadSize != 0 {
		s.varUint(uint64(len(f.payload)))
	}
	return s.raw(f.payload)
}

// buildEventBlockBody wraps a sequence of already-serialized blobs in the
// MetadataBlock/EventBlock common header.
func buildEventBlockBody(blobs ...[]byte) []byte {
	s := &streamBuilder{}
	s.i16(20) // headerSize, no reserved bytes
	s.i16(1)  // flags: Compressed
	s.i64(0)  // minTimestamp
	s.i64(0)  // maxTimestamp
	for _, b := range blobs {
		s.raw(b)
	}
	return s.buf
}

func buildStackBlockBody(firstID, count int32, stacks [][]uint64, pointerSize int) []byte {
	s := &streamBuilder{}
	s.i32(firstID)
	s.i32(count)
	for _, addrs := range stacks {
		raw := make([]byte, len(addrs)*pointerSize)
		for i, a := range addrs {
			if pointerSize == 8 {
				binary.LittleEndian.PutUint64(raw[i*8:], a)
			} else {
				binary.LittleEndian.PutUint32(raw[i*4:], uint32(a))
			}
		}
		s.i32(int32(len(raw)))
		s.raw(raw)
	}
	return s.buf
}

func buildSPBlockBody(timeStamp int64, threadIDs []int64, seqNums []int32) []byte {
	s := &streamBuilder{}
	s.i64(timeStamp)
	s.i32(int32(len(threadIDs)))
	for i, tid := range threadIDs {
		s.i64(tid)
		s.i32(seqNums[i])
	}
	return s.buf
}
