// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import (
	"time"

	"github.com/google/uuid"
)

// TraceMetadata carries the fixed, one-time-populated header of a trace.
// It is filled exactly once, from the stream's leading Trace object, and
// never mutated afterward.
type TraceMetadata struct {
	Date               time.Time `json:"date"`
	QPCSyncTime        int64     `json:"qpc_sync_time"`
	QPCFrequency       int64     `json:"qpc_frequency"`
	PointerSize        int32     `json:"pointer_size"`
	ProcessID          int32     `json:"process_id"`
	NumberOfProcessors int32     `json:"number_of_processors"`
	CPUSamplingRate    int32     `json:"cpu_sampling_rate"`
}

// qpcToNs converts a raw QPC timestamp to nanoseconds relative to
// QPCSyncTime, per GLOSSARY: timeStampNs = (qpc - syncQpc) / freq * 1e9.
func (m TraceMetadata) qpcToNs(qpc int64) int64 {
	if m.QPCFrequency <= 0 {
		return 0
	}
	delta := qpc - m.QPCSyncTime
	// Split into whole seconds and a sub-second remainder so the
	// multiplication by 1e9 cannot overflow int64 on long traces: the
	// remainder is below QPCFrequency, so its product stays in range.
	sec := delta / m.QPCFrequency
	rem := delta % m.QPCFrequency
	return sec*1_000_000_000 + rem*1_000_000_000/m.QPCFrequency
}

// FieldTypeCode identifies the wire type of an EventFieldDefinition.
type FieldTypeCode int32

// Field type codes as they appear on the wire. Values mirror the
// TraceEvent/EventPipe FastSerialization TypeCode enum.
const (
	TypeBoolean FieldTypeCode = 3
	TypeSByte   FieldTypeCode = 5
	TypeByte    FieldTypeCode = 6
	TypeInt16   FieldTypeCode = 7
	TypeUInt16  FieldTypeCode = 8
	TypeInt32   FieldTypeCode = 9
	TypeUInt32  FieldTypeCode = 10
	TypeInt64   FieldTypeCode = 11
	TypeUInt64  FieldTypeCode = 12
	TypeSingle  FieldTypeCode = 13
	TypeDouble  FieldTypeCode = 14
	TypeGUID    FieldTypeCode = 17
	TypeString  FieldTypeCode = 18
	TypeObject  FieldTypeCode = 1
	TypeArray   FieldTypeCode = 19
)

// EventFieldDefinition describes one field of an event payload, and
// recursively its sub-fields when TypeCode is TypeObject.
type EventFieldDefinition struct {
	Name                 string                 `json:"name"`
	TypeCode             FieldTypeCode          `json:"type_code"`
	ArrayElementTypeCode FieldTypeCode          `json:"array_element_type_code,omitempty"`
	SubFields            []EventFieldDefinition `json:"sub_fields,omitempty"`
}

// EventMetadata describes one event type, keyed by MetadataID. Every Event
// produced from a blob with this MetadataID stores the same *EventMetadata
// pointer (shared reference, see SPEC_FULL.md §3).
type EventMetadata struct {
	MetadataID   int32                  `json:"metadata_id"`
	ProviderName string                 `json:"provider_name"`
	EventID      int32                  `json:"event_id"`
	EventName    string                 `json:"event_name"`
	Keywords     int64                  `json:"keywords"`
	Version      int32                  `json:"version"`
	Level        int32                  `json:"level"`
	OpCode       *uint8                 `json:"opcode,omitempty"`
	Fields       []EventFieldDefinition `json:"fields"`
}

// wellKnownKey identifies a well-known event's hardcoded schema.
type wellKnownKey struct {
	provider string
	eventID  int32
	version  int32
}

// MethodDescription names the method a resolved stack frame lands in.
// StartAddress/Size are absent for the synthetic "unknown" root method.
type MethodDescription struct {
	Name         string  `json:"name"`
	Namespace    string  `json:"namespace"`
	Signature    string  `json:"signature,omitempty"`
	StartAddress *uint64 `json:"start_address,omitempty"`
	Size         *uint64 `json:"size,omitempty"`
}

// StackFrame is one resolved frame of an Event's call stack, outermost
// (closest to thread entry) first per the StackBlock's address ordering.
type StackFrame struct {
	Address uint64             `json:"address"`
	Method  MethodDescription  `json:"method"`
}

// Event is a single parsed trace event. Index is the 0-based order in
// which it was produced by the stream, before the final timestamp sort.
type Event struct {
	Index              int             `json:"index"`
	SequenceNumber     int32           `json:"sequence_number"`
	CaptureThreadID    int64           `json:"capture_thread_id"`
	ThreadID           int64           `json:"thread_id"`
	ProcessorNumber    int32           `json:"processor_number"`
	StackIndex         int64           `json:"stack_index"`
	TimeStampNs        int64           `json:"timestamp_ns"`
	ActivityID         uuid.UUID       `json:"activity_id"`
	RelatedActivityID  uuid.UUID       `json:"related_activity_id"`
	Payload            map[string]*Value `json:"payload"`
	Stack              []StackFrame    `json:"stack,omitempty"`
	Metadata           *EventMetadata  `json:"-"`
}

// Trace is the fully assembled, queryable result of a parse: a
// chronologically ordered event list, the event-type dictionary, and the
// one-shot trace header.
type Trace struct {
	Metadata      TraceMetadata             `json:"metadata"`
	EventMetadata map[int32]*EventMetadata  `json:"event_metadata"`
	Events        []*Event                  `json:"events"`
}
