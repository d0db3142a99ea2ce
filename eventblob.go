// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import "github.com/google/uuid"

// blobState is the per-block state carried across compressed event
// blobs: each blob's unset fields inherit the previous blob's resolved
// values.
type blobState struct {
	metadataId        int32
	sequenceNumber    int32
	captureThreadId   int64
	processorNumber   int32
	threadId          int64
	stackId           int32
	timeStamp         int64
	activityId        uuid.UUID
	relatedActivityId uuid.UUID
	payloadSize       int32
}

const (
	blobFlagHasMetadataId        = 1 << 0
	blobFlagHasSeqCaptProc       = 1 << 1
	blobFlagHasThreadId          = 1 << 2
	blobFlagHasStackId           = 1 << 3
	blobFlagHasActivityId        = 1 << 4
	blobFlagHasRelatedActivityId = 1 << 5
	blobFlagIsSorted             = 1 << 6
	blobFlagHasPayloadSize       = 1 << 7
)

// decodeCompressedEventBlock walks a fully-buffered MetadataBlock or
// EventBlock body: the 20+ byte header, then compressed event blobs
// until the body is exhausted.
func decodeCompressedEventBlock(d *decoder, r *reader) error {
	headerSize, err := r.tryInt16()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	flags, err := r.tryInt16()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	if _, err := r.tryInt64(); err != nil { // minTimestamp, discarded
		return formatErrorf(r.pos(), err)
	}
	if _, err := r.tryInt64(); err != nil { // maxTimestamp, discarded
		return formatErrorf(r.pos(), err)
	}
	reservedLen := int(headerSize) - 20
	if reservedLen < 0 {
		return formatErrorf(r.pos(), ErrBlockSizeMismatch)
	}
	if _, err := r.tryBytes(reservedLen); err != nil {
		return formatErrorf(r.pos(), err)
	}
	if flags&1 == 0 { // Compressed
		return formatErrorf(r.pos(), ErrUncompressedUnsupported)
	}

	var s blobState
	for !r.atEnd() {
		if err := decodeOneEventBlob(d, r, &s); err != nil {
			return err
		}
	}
	return nil
}

// decodeOneEventBlob decodes a single compressed blob and advances the
// per-block state to its resolved field values.
func decodeOneEventBlob(d *decoder, r *reader, s *blobState) error {
	flags, err := r.tryUint8()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}

	metadataId := s.metadataId
	if flags&blobFlagHasMetadataId != 0 {
		v, err := r.tryVarUint32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		metadataId = int32(v)
	}

	seq := s.sequenceNumber
	captureThreadId := s.captureThreadId
	processorNumber := s.processorNumber
	if flags&blobFlagHasSeqCaptProc != 0 {
		delta, err := r.tryVarUint32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		seq = s.sequenceNumber + int32(delta)
		ct, err := r.tryVarUint64()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		captureThreadId = int64(ct)
		pn, err := r.tryVarUint32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		processorNumber = int32(pn)
	}

	threadId := s.threadId
	if flags&blobFlagHasThreadId != 0 {
		v, err := r.tryVarUint64()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		threadId = int64(v)
	}

	stackId := s.stackId
	if flags&blobFlagHasStackId != 0 {
		v, err := r.tryVarUint32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		stackId = int32(v)
	}

	tsDelta, err := r.tryVarUint64()
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	timeStamp := s.timeStamp + int64(tsDelta)

	activityId := s.activityId
	if flags&blobFlagHasActivityId != 0 {
		g, err := r.tryGUID()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		activityId = g
	}

	relatedActivityId := s.relatedActivityId
	if flags&blobFlagHasRelatedActivityId != 0 {
		g, err := r.tryGUID()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		relatedActivityId = g
	}

	payloadSize := s.payloadSize
	if flags&blobFlagHasPayloadSize != 0 {
		v, err := r.tryVarUint32()
		if err != nil {
			return formatErrorf(r.pos(), err)
		}
		payloadSize = int32(v)
	}

	if metadataId != 0 {
		seq++
	}

	payloadEnd := r.pos() + int64(payloadSize)
	payloadBytes, err := r.tryBytes(int(payloadSize))
	if err != nil {
		return formatErrorf(r.pos(), err)
	}
	payloadReader := newSubReader(payloadBytes, payloadEnd-int64(payloadSize))

	if metadataId == 0 {
		em, err := parseEventMetadataDefinition(d, payloadReader)
		if err != nil {
			return err
		}
		if !payloadReader.atEnd() {
			return formatErrorf(payloadReader.pos(), ErrPayloadSizeMismatch)
		}
		d.eventMetadata[em.MetadataID] = em
	} else {
		em, ok := d.eventMetadata[metadataId]
		if !ok {
			return formatErrorf(r.pos(), ErrUnknownMetadataID)
		}
		values, err := parseEventPayload(d, payloadReader, em)
		if err != nil {
			return err
		}
		if !payloadReader.atEnd() {
			return formatErrorf(payloadReader.pos(), ErrPayloadSizeMismatch)
		}

		ev := &Event{
			Index:             len(d.events),
			SequenceNumber:    seq,
			CaptureThreadID:   captureThreadId,
			ThreadID:          threadId,
			ProcessorNumber:   processorNumber,
			StackIndex:        d.stackIndexOffset + int64(stackId),
			TimeStampNs:       d.traceMetadata.qpcToNs(timeStamp),
			ActivityID:        activityId,
			RelatedActivityID: relatedActivityId,
			Payload:           values,
			Metadata:          em,
		}
		if d.opts.MaxEventCount > 0 && len(d.events) >= d.opts.MaxEventCount {
			return ErrTooManyEvents
		}
		d.events = append(d.events, ev)
		d.eventsRead++
		dispatchSpecialEvent(d, em, values)
		if d.opts.OnProgress != nil {
			d.opts.OnProgress(Progress{BytesRead: d.source.bytesRead, EventsRead: d.eventsRead})
		}
	}

	if r.pos() != payloadEnd {
		return formatErrorf(r.pos(), ErrPayloadSizeMismatch)
	}

	s.metadataId = metadataId
	s.sequenceNumber = seq
	s.captureThreadId = captureThreadId
	s.processorNumber = processorNumber
	s.threadId = threadId
	s.stackId = stackId
	s.timeStamp = timeStamp
	s.activityId = activityId
	s.relatedActivityId = relatedActivityId
	s.payloadSize = payloadSize
	return nil
}
