// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import "github.com/google/uuid"

// ValueKind identifies which field of Value is populated. A payload
// field with a dynamically-typed System.Object wire value is modeled as
// this concrete sum type rather than interface{}, so interning and type
// switches stay allocation-light.
type ValueKind uint8

const (
	KindBool ValueKind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindGUID
	KindObject // Fields() is populated
	KindArray  // Items() is populated
)

// Value is a tagged union covering every payload field type the format
// can produce. Accessors panic on a Kind mismatch rather than returning
// an (value, ok) pair at every call site: the Kind is always known from
// the field's EventFieldDefinition before a caller reaches for it.
type Value struct {
	Kind ValueKind

	bval   bool
	ival   int64
	fval   float64
	sval   string
	guid   uuid.UUID
	fields map[string]*Value
	items  []*Value
}

func (v *Value) Bool() bool             { v.mustBe(KindBool); return v.bval }
func (v *Value) Int64() int64 {
	v.mustBe(KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64)
	return v.ival
}
func (v *Value) Float64() float64       { v.mustBe(KindFloat32, KindFloat64); return v.fval }
func (v *Value) String() string         { v.mustBe(KindString); return v.sval }
func (v *Value) GUID() uuid.UUID        { v.mustBe(KindGUID); return v.guid }
func (v *Value) Fields() map[string]*Value { v.mustBe(KindObject); return v.fields }
func (v *Value) Items() []*Value        { v.mustBe(KindArray); return v.items }

func (v *Value) mustBe(kinds ...ValueKind) {
	for _, k := range kinds {
		if v.Kind == k {
			return
		}
	}
	panic("nettrace: Value accessor called for wrong Kind")
}

func boolValue(b bool) *Value            { return &Value{Kind: KindBool, bval: b} }
func intValue(kind ValueKind, i int64) *Value { return &Value{Kind: kind, ival: i} }
func floatValue(kind ValueKind, f float64) *Value { return &Value{Kind: kind, fval: f} }
func stringValue(s string) *Value        { return &Value{Kind: KindString, sval: s} }
func guidValue(g uuid.UUID) *Value       { return &Value{Kind: KindGUID, guid: g} }
func objectValue(fields map[string]*Value) *Value { return &Value{Kind: KindObject, fields: fields} }
func arrayValue(items []*Value) *Value   { return &Value{Kind: KindArray, items: items} }
