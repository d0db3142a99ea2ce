// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nettrace

import "fmt"

// Metadata-definition trailer tag ids for the "repeat until payloadEnd"
// tagged-extension loop.
const (
	metaTagOpCode           = 1
	metaTagParameterPayload = 2
)

// parseEventMetadataDefinition decodes an EventMetadata definition
// payload (a metadataId == 0 blob). r is scoped to exactly the payload's
// bytes; the caller asserts r.atEnd() after return.
func parseEventMetadataDefinition(d *decoder, r *reader) (*EventMetadata, error) {
	metadataId, err := r.tryInt32()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}
	providerName, err := r.tryUTF16NullTerminated()
	if err != nil {
		return nil, err
	}
	providerName = d.intern.str(providerName)

	eventId, err := r.tryInt32()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}
	eventName, err := r.tryUTF16NullTerminated()
	if err != nil {
		return nil, err
	}
	eventName = d.intern.str(eventName)

	keywords, err := r.tryInt64()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}
	version, err := r.tryInt32()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}
	level, err := r.tryInt32()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}

	fields, err := parseFieldDefinitions(d, r, false)
	if err != nil {
		return nil, err
	}

	var opcode *uint8
	for !r.atEnd() {
		tagLen, err := r.tryInt32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		if tagLen < 0 {
			return nil, formatErrorf(r.pos(), ErrUnexpectedTag)
		}
		tag, err := r.tryUint8()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		body, err := r.tryBytes(int(tagLen))
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		sub := newSubReader(body, r.pos()-int64(len(body)))
		switch tag {
		case metaTagOpCode:
			op, err := sub.tryUint8()
			if err != nil {
				return nil, formatErrorf(sub.pos(), err)
			}
			opcode = &op
		case metaTagParameterPayload:
			fields, err = parseFieldDefinitions(d, sub, true)
			if err != nil {
				return nil, err
			}
		default:
			d.log.Debugf("skipping unknown metadata extension tag %d", tag)
		}
		if !sub.atEnd() {
			return nil, formatErrorf(sub.pos(), ErrPayloadSizeMismatch)
		}
	}

	em := &EventMetadata{
		MetadataID:   metadataId,
		ProviderName: providerName,
		EventID:      eventId,
		EventName:    eventName,
		Keywords:     keywords,
		Version:      version,
		Level:        level,
		OpCode:       opcode,
		Fields:       fields,
	}

	if wk, ok := lookupWellKnown(providerName, eventId, version); ok {
		em.EventName = d.intern.str(wk.eventName)
		if wk.opcode != nil {
			em.OpCode = wk.opcode
		}
		em.Fields = wk.fields
	}
	if em.EventName == "" {
		em.EventName = fmt.Sprintf("Event %d", eventId)
	}

	return em, nil
}

// parseFieldDefinitions decodes a (possibly recursive) field-definition
// list. isV2 controls whether Array fields also carry an
// arrayElementTypeCode.
func parseFieldDefinitions(d *decoder, r *reader, isV2 bool) ([]EventFieldDefinition, error) {
	count, err := r.tryInt32()
	if err != nil {
		return nil, formatErrorf(r.pos(), err)
	}
	if count < 0 {
		return nil, formatErrorf(r.pos(), ErrUnexpectedTag)
	}
	if int(count) > d.opts.MaxFieldCount {
		return nil, formatErrorf(r.pos(), ErrFieldCountTooHigh)
	}
	fields := make([]EventFieldDefinition, 0, count)
	for i := int32(0); i < count; i++ {
		typeCodeRaw, err := r.tryInt32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		typeCode := FieldTypeCode(typeCodeRaw)

		var arrayElem FieldTypeCode
		if isV2 && typeCode == TypeArray {
			ae, err := r.tryInt32()
			if err != nil {
				return nil, formatErrorf(r.pos(), err)
			}
			arrayElem = FieldTypeCode(ae)
		}

		var sub []EventFieldDefinition
		if typeCode == TypeObject {
			sub, err = parseFieldDefinitions(d, r, isV2)
			if err != nil {
				return nil, err
			}
		}

		name, err := r.tryUTF16NullTerminated()
		if err != nil {
			return nil, err
		}

		fields = append(fields, EventFieldDefinition{
			Name:                 d.intern.str(name),
			TypeCode:             typeCode,
			ArrayElementTypeCode: arrayElem,
			SubFields:            sub,
		})
	}
	return fields, nil
}

// parseEventPayload walks em.Fields in order producing a name->value
// mapping, dispatching to a hardcoded parser for well-known events
// instead of the generic walker when one is registered.
func parseEventPayload(d *decoder, r *reader, em *EventMetadata) (map[string]*Value, error) {
	if wk, ok := lookupWellKnown(em.ProviderName, em.EventID, em.Version); ok && wk.parse != nil {
		return wk.parse(d, r)
	}
	return parseFieldValues(d, r, em.Fields)
}

func parseFieldValues(d *decoder, r *reader, fields []EventFieldDefinition) (map[string]*Value, error) {
	values := make(map[string]*Value, len(fields))
	for _, f := range fields {
		v, err := parsePayloadValue(d, r, f)
		if err != nil {
			return nil, err
		}
		values[f.Name] = v
	}
	return values, nil
}

// parsePayloadValue decodes one field's value according to its TypeCode.
func parsePayloadValue(d *decoder, r *reader, field EventFieldDefinition) (*Value, error) {
	switch field.TypeCode {
	case TypeBoolean:
		raw, err := r.tryInt32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return d.intern.boolVal(raw != 0), nil
	case TypeSByte:
		b, err := r.tryUint8()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return d.intern.smallInt(KindInt8, int64(int8(b))), nil
	case TypeByte:
		b, err := r.tryUint8()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return d.intern.smallInt(KindUint8, int64(b)), nil
	case TypeInt16:
		v, err := r.tryInt16()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return d.intern.smallInt(KindInt16, int64(v)), nil
	case TypeUInt16:
		v, err := r.tryUint16()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return d.intern.smallInt(KindUint16, int64(v)), nil
	case TypeInt32:
		v, err := r.tryInt32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return intValue(KindInt32, int64(v)), nil
	case TypeUInt32:
		v, err := r.tryUint32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return intValue(KindUint32, int64(v)), nil
	case TypeInt64:
		v, err := r.tryInt64()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return intValue(KindInt64, v), nil
	case TypeUInt64:
		v, err := r.tryUint64()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return intValue(KindUint64, int64(v)), nil
	case TypeSingle:
		v, err := r.tryFloat32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return floatValue(KindFloat32, float64(v)), nil
	case TypeDouble:
		v, err := r.tryFloat64()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return floatValue(KindFloat64, v), nil
	case TypeString:
		s, err := r.tryUTF16NullTerminated()
		if err != nil {
			return nil, err
		}
		return stringValue(s), nil
	case TypeGUID:
		g, err := r.tryGUID()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		return guidValue(g), nil
	case TypeObject:
		fields, err := parseFieldValues(d, r, field.SubFields)
		if err != nil {
			return nil, err
		}
		return objectValue(fields), nil
	case TypeArray:
		length, err := r.tryInt32()
		if err != nil {
			return nil, formatErrorf(r.pos(), err)
		}
		if length < 0 {
			return nil, formatErrorf(r.pos(), ErrUnexpectedTag)
		}
		if int(length) > d.opts.MaxArrayLength {
			return nil, formatErrorf(r.pos(), ErrArrayLengthTooHigh)
		}
		items := make([]*Value, 0, length)
		elemField := EventFieldDefinition{TypeCode: field.ArrayElementTypeCode}
		for i := int32(0); i < length; i++ {
			v, err := parsePayloadValue(d, r, elemField)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return arrayValue(items), nil
	default:
		return nil, formatErrorf(r.pos(), ErrUnknownFieldType)
	}
}
