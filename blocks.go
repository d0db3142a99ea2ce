// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"encoding/binary"
	"time"
)

// parseTraceBlock decodes the Trace object body: no size field, no
// padding, a fixed sequence of date components followed by the header
// scalars.
func parseTraceBlock(r *reader) (TraceMetadata, error) {
	mark := r.mark()
	read16 := func() (int16, error) { return r.tryInt16() }

	year, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	month, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	if _, err := read16(); err != nil { // dayOfWeek, discarded
		r.reset(mark)
		return TraceMetadata{}, err
	}
	day, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	hour, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	minute, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	second, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	millisecond, err := read16()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}

	qpcSyncTime, err := r.tryInt64()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	qpcFrequency, err := r.tryInt64()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	pointerSize, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	processID, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	numberOfProcessors, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}
	cpuSamplingRate, err := r.tryInt32()
	if err != nil {
		r.reset(mark)
		return TraceMetadata{}, err
	}

	date := time.Date(int(year), time.Month(month), int(day),
		int(hour), int(minute), int(second), int(millisecond)*int(time.Millisecond), time.UTC)

	return TraceMetadata{
		Date:               date,
		QPCSyncTime:        qpcSyncTime,
		QPCFrequency:       qpcFrequency,
		PointerSize:        pointerSize,
		ProcessID:          processID,
		NumberOfProcessors: numberOfProcessors,
		CPUSamplingRate:    cpuSamplingRate,
	}, nil
}

// decodeStackBlock parses a fully-buffered StackBlock body: i32 firstId,
// i32 count, then count {i32 stackSize, stackSize raw bytes} records.
// Stack indices are uniquified via stackIndexOffset.
func decodeStackBlock(d *decoder, r *reader) error {
	if !d.haveTraceMetadata {
		return formatErrorf(r.pos(), ErrUnknownMetadataID)
	}
	pointerSize := int(d.traceMetadata.PointerSize)
	if pointerSize != 4 && pointerSize != 8 {
		return formatErrorf(r.pos(), ErrBlockSizeMismatch)
	}

	firstID, err := r.tryInt32()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	count, err := r.tryInt32()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}

	var lastIndex int64
	for i := int32(0); i < count; i++ {
		stackSize, err := r.tryInt32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		raw, err := r.tryBytes(int(stackSize))
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		if int(stackSize)%pointerSize != 0 {
			return formatErrorf(r.pos(), ErrBlockSizeMismatch)
		}
		addrs := make([]uint64, 0, int(stackSize)/pointerSize)
		for off := 0; off < len(raw); off += pointerSize {
			if pointerSize == 8 {
				addrs = append(addrs, binary.LittleEndian.Uint64(raw[off:off+8]))
			} else {
				addrs = append(addrs, uint64(binary.LittleEndian.Uint32(raw[off:off+4])))
			}
		}

		stackIndex := d.stackIndexOffset + int64(firstID) + int64(i)
		d.resolver.setStack(stackIndex, addrs)
		lastIndex = stackIndex
	}
	if count > 0 {
		d.lastStackIndex = lastIndex
	}
	if !r.atEnd() {
		return formatErrorf(r.pos(), ErrBlockSizeMismatch)
	}
	return nil
}

// decodeSPBlock parses a sequence-point block: i64 timeStamp, i32
// threadCount, threadCount {i64 threadId, i32 sequenceNumber} pairs
// (content discarded). Its side effect is resetting stackIndexOffset so
// subsequent per-epoch stack ids stay globally unique.
func decodeSPBlock(d *decoder, r *reader) error {
	if _, err := r.tryInt64(); err != nil { // timeStamp, discarded
		return formatErrorf(r.pos(), err)
	}
	threadCount, err := r.tryInt32()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	for i := int32(0); i < threadCount; i++ {
		if _, err := r.tryInt64(); err != nil { // threadId
			return formatErrorf(r.pos(), err)
		}
		if _, err := r.tryInt32(); err != nil { // sequenceNumber
			return formatErrorf(r.pos(), err)
		}
	}
	if !r.atEnd() {
		return formatErrorf(r.pos(), ErrBlockSizeMismatch)
	}
	d.stackIndexOffset = d.lastStackIndex
	return nil
}
