// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

// wellKnownEvent is a hardcoded schema entry: pure data (field
// definitions) plus an optional dedicated parse function for events
// whose layout the generic walker cannot express. Adding an entry never
// touches the event-blob state machine.
type wellKnownEvent struct {
	eventName string
	opcode    *uint8
	fields    []EventFieldDefinition
	parse     func(d *decoder, r *reader) (map[string]*Value, error)
}

const (
	providerTplEventSource = "System.Threading.Tasks.TplEventSource"
	providerRundown        = "Microsoft-Windows-DotNETRuntimeRundown"
)

func int32Field(name string) EventFieldDefinition {
	return EventFieldDefinition{Name: name, TypeCode: TypeInt32}
}

var wellKnownRegistry = map[wellKnownKey]wellKnownEvent{
	{provider: providerTplEventSource, eventID: 10, version: 3}: {
		eventName: "TaskWaitBegin",
		fields: []EventFieldDefinition{
			int32Field("OriginatingTaskSchedulerID"),
			int32Field("OriginatingTaskID"),
			int32Field("TaskID"),
			int32Field("Behavior"),
			int32Field("ContinueWithTaskID"),
		},
	},
	{provider: providerTplEventSource, eventID: 7, version: 1}: {
		eventName: "TaskScheduled",
		fields: []EventFieldDefinition{
			int32Field("OriginatingTaskSchedulerID"),
			int32Field("OriginatingTaskID"),
			int32Field("TaskID"),
			int32Field("CreatingTaskID"),
			int32Field("TaskCreationOptions"),
		},
	},
	{provider: providerRundown, eventID: 144, version: 0}: {
		eventName: "MethodDCEnd",
		fields:    methodRundownFields,
		parse:     parseMethodRundownPayload,
	},
	{provider: providerRundown, eventID: 143, version: 0}: {
		eventName: "MethodDCEndVerbose",
		fields:    methodRundownFields,
		parse:     parseMethodRundownPayload,
	},
}

var methodRundownFields = []EventFieldDefinition{
	{Name: "MethodStartAddress", TypeCode: TypeUInt64},
	{Name: "MethodSize", TypeCode: TypeUInt32},
	{Name: "MethodNamespace", TypeCode: TypeString},
	{Name: "MethodName", TypeCode: TypeString},
	{Name: "MethodSignature", TypeCode: TypeString},
}

func parseMethodRundownPayload(d *decoder, r *reader) (map[string]*Value, error) {
	return parseFieldValues(d, r, methodRundownFields)
}

// lookupWellKnown finds a hardcoded schema by exact (provider, eventID,
// version) triple, falling back to version-independent rundown entries
// (registered at version 0) since rundown events rarely bump version.
func lookupWellKnown(provider string, eventID, version int32) (wellKnownEvent, bool) {
	if wk, ok := wellKnownRegistry[wellKnownKey{provider, eventID, version}]; ok {
		return wk, true
	}
	if provider == providerRundown {
		if wk, ok := wellKnownRegistry[wellKnownKey{provider, eventID, 0}]; ok {
			return wk, true
		}
	}
	return wellKnownEvent{}, false
}

// dispatchSpecialEvent handles the side effects a subset of well-known
// events trigger beyond producing a payload map: rundown
// MethodDCEnd/MethodDCEndVerbose events populate the stack resolver's
// address->method table.
func dispatchSpecialEvent(d *decoder, em *EventMetadata, values map[string]*Value) {
	if em.ProviderName != providerRundown {
		return
	}
	if em.EventID != 144 && em.EventID != 143 {
		return
	}
	start, ok := values["MethodStartAddress"]
	if !ok {
		return
	}
	size, ok := values["MethodSize"]
	if !ok {
		return
	}
	ns, _ := values["MethodNamespace"]
	name, _ := values["MethodName"]
	sig, _ := values["MethodSignature"]

	startAddr := uint64(start.Int64())
	methodSize := uint64(size.Int64())
	desc := MethodDescription{
		StartAddress: &startAddr,
		Size:         &methodSize,
	}
	if name != nil {
		desc.Name = name.String()
	}
	if ns != nil {
		desc.Namespace = ns.String()
	}
	if sig != nil {
		desc.Signature = sig.String()
	}
	d.resolver.insertMethod(startAddr, methodSize, desc)
}
