// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracepb implements a schema-guided, mutable view of Perfetto trace protos on top
// of the protobuf wire format.
//
// Only the submessages named by a Schema are decoded. All other fields, including unknown
// ones, are kept as the exact bytes they were read from and are written back unchanged. A
// message that was not mutated re-encodes to its original bytes.
package tracepb // import "go.opentelemetry.io/vmtrace/tracepb"

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Schema describes which fields of a message are submessages that should be decoded.
type Schema struct {
	name     string
	children map[protowire.Number]*Schema
}

func (s *Schema) child(num protowire.Number) (*Schema, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.children[num]
	return c, ok
}

// Name returns the proto message name the schema describes.
func (s *Schema) Name() string {
	if s == nil {
		return "unknown"
	}
	return s.name
}

type field struct {
	num protowire.Number
	typ protowire.Type
	// raw is the complete encoding of the field (tag and value) as read.
	raw []byte
	// val holds the value of varint and fixed-width fields.
	val uint64
	// payload holds the value of length-delimited fields.
	payload []byte
	// msg is set for length-delimited fields the schema knows to be submessages.
	msg *Message
	// dirty is set once val was overwritten.
	dirty bool
}

// Message is a decoded protobuf message. The zero value is not usable, messages are created
// by Decode or by the Append* builders.
type Message struct {
	schema *Schema
	fields []field
	// dirty is set when fields were added or removed.
	dirty bool
}

func newMessage(s *Schema) *Message {
	return &Message{schema: s, dirty: true}
}

func unmarshal(b []byte, s *Schema) (*Message, error) {
	m := &Message{schema: s}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%s: bad tag: %w", s.Name(), protowire.ParseError(n))
		}
		vn := protowire.ConsumeFieldValue(num, typ, b[n:])
		if vn < 0 {
			return nil, fmt.Errorf("%s: field %d: %w", s.Name(), num, protowire.ParseError(vn))
		}
		f := field{num: num, typ: typ, raw: b[:n+vn]}
		val := b[n : n+vn]

		switch typ {
		case protowire.VarintType:
			f.val, _ = protowire.ConsumeVarint(val)
		case protowire.Fixed64Type:
			f.val, _ = protowire.ConsumeFixed64(val)
		case protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(val)
			f.val = uint64(v)
		case protowire.BytesType:
			f.payload, _ = protowire.ConsumeBytes(val)
			if cs, ok := s.child(num); ok {
				cm, err := unmarshal(f.payload, cs)
				if err != nil {
					return nil, fmt.Errorf("%s.%d: %w", s.Name(), num, err)
				}
				f.msg = cm
			}
		}

		m.fields = append(m.fields, f)
		b = b[n+vn:]
	}
	return m, nil
}

// Marshal returns the wire encoding of m.
func (m *Message) Marshal() []byte {
	return m.appendTo(nil)
}

func (m *Message) appendTo(b []byte) []byte {
	for i := range m.fields {
		f := &m.fields[i]
		switch {
		case f.msg != nil && f.msg.changed():
			b = protowire.AppendTag(b, f.num, protowire.BytesType)
			b = protowire.AppendBytes(b, f.msg.Marshal())
		case f.dirty:
			b = protowire.AppendTag(b, f.num, f.typ)
			switch f.typ {
			case protowire.Fixed64Type:
				b = protowire.AppendFixed64(b, f.val)
			case protowire.Fixed32Type:
				b = protowire.AppendFixed32(b, uint32(f.val))
			default:
				b = protowire.AppendVarint(b, f.val)
			}
		default:
			b = append(b, f.raw...)
		}
	}
	return b
}

// changed reports whether m or any of its submessages were mutated since decoding.
func (m *Message) changed() bool {
	if m.dirty {
		return true
	}
	for i := range m.fields {
		f := &m.fields[i]
		if f.dirty || (f.msg != nil && f.msg.changed()) {
			return true
		}
	}
	return false
}

// Schema returns the schema m was decoded with.
func (m *Message) Schema() *Schema {
	return m.schema
}

// Has reports whether m carries at least one occurrence of num.
func (m *Message) Has(num protowire.Number) bool {
	for i := range m.fields {
		if m.fields[i].num == num {
			return true
		}
	}
	return false
}

func isScalar(typ protowire.Type) bool {
	return typ == protowire.VarintType || typ == protowire.Fixed64Type ||
		typ == protowire.Fixed32Type
}

// Uint64 returns the value of the scalar field num. For repeated occurrences the last one
// wins, as for any optional proto field.
func (m *Message) Uint64(num protowire.Number) (uint64, bool) {
	for i := len(m.fields) - 1; i >= 0; i-- {
		f := &m.fields[i]
		if f.num == num && isScalar(f.typ) {
			return f.val, true
		}
	}
	return 0, false
}

// Uint32 returns the low 32 bits of the scalar field num.
func (m *Message) Uint32(num protowire.Number) (uint32, bool) {
	v, ok := m.Uint64(num)
	return uint32(v), ok
}

// Int32 returns the scalar field num interpreted as a proto int32.
func (m *Message) Int32(num protowire.Number) (int32, bool) {
	v, ok := m.Uint64(num)
	return int32(v), ok
}

// Int64 returns the scalar field num interpreted as a proto int64.
func (m *Message) Int64(num protowire.Number) (int64, bool) {
	v, ok := m.Uint64(num)
	return int64(v), ok
}

// SetUint64 overwrites every scalar occurrence of num with v. If num is absent, a varint
// field is appended.
func (m *Message) SetUint64(num protowire.Number, v uint64) {
	found := false
	for i := range m.fields {
		f := &m.fields[i]
		if f.num == num && isScalar(f.typ) {
			if f.val != v {
				f.val = v
				f.dirty = true
			}
			found = true
		}
	}
	if !found {
		m.AppendUint64(num, v)
	}
}

// SetUint32 is SetUint64 for uint32 fields.
func (m *Message) SetUint32(num protowire.Number, v uint32) {
	m.SetUint64(num, uint64(v))
}

// SetInt32 stores v the way proto int32 fields are encoded: sign-extended to 64 bits.
func (m *Message) SetInt32(num protowire.Number, v int32) {
	m.SetUint64(num, uint64(int64(v)))
}

// String returns the last length-delimited occurrence of num as a string.
func (m *Message) String(num protowire.Number) (string, bool) {
	for i := len(m.fields) - 1; i >= 0; i-- {
		f := &m.fields[i]
		if f.num == num && f.typ == protowire.BytesType {
			return string(f.payload), true
		}
	}
	return "", false
}

// Messages returns every decoded occurrence of the submessage field num, in wire order.
func (m *Message) Messages(num protowire.Number) []*Message {
	var msgs []*Message
	for i := range m.fields {
		f := &m.fields[i]
		if f.num == num && f.msg != nil {
			msgs = append(msgs, f.msg)
		}
	}
	return msgs
}

// Message returns the last decoded occurrence of the submessage field num, or nil.
func (m *Message) Message(num protowire.Number) *Message {
	for i := len(m.fields) - 1; i >= 0; i-- {
		f := &m.fields[i]
		if f.num == num && f.msg != nil {
			return f.msg
		}
	}
	return nil
}

// Clear removes every occurrence of num and reports whether anything was removed.
func (m *Message) Clear(num protowire.Number) bool {
	kept := m.fields[:0]
	for _, f := range m.fields {
		if f.num != num {
			kept = append(kept, f)
		}
	}
	removed := len(kept) != len(m.fields)
	// Drop references held by the tail so the removed payloads can be collected.
	for i := len(kept); i < len(m.fields); i++ {
		m.fields[i] = field{}
	}
	m.fields = kept
	if removed {
		m.dirty = true
	}
	return removed
}

// AppendUint64 appends a varint field and returns m for chaining.
func (m *Message) AppendUint64(num protowire.Number, v uint64) *Message {
	raw := protowire.AppendTag(nil, num, protowire.VarintType)
	raw = protowire.AppendVarint(raw, v)
	m.fields = append(m.fields, field{num: num, typ: protowire.VarintType, raw: raw, val: v})
	m.dirty = true
	return m
}

// AppendInt32 appends a sign-extended int32 varint field.
func (m *Message) AppendInt32(num protowire.Number, v int32) *Message {
	return m.AppendUint64(num, uint64(int64(v)))
}

// AppendString appends a length-delimited string field.
func (m *Message) AppendString(num protowire.Number, s string) *Message {
	raw := protowire.AppendTag(nil, num, protowire.BytesType)
	raw = protowire.AppendString(raw, s)
	payload := raw[len(raw)-len(s):]
	m.fields = append(m.fields, field{num: num, typ: protowire.BytesType, raw: raw,
		payload: payload})
	m.dirty = true
	return m
}

// AppendMessage appends an empty submessage field and returns it for filling in.
func (m *Message) AppendMessage(num protowire.Number) *Message {
	cs, ok := m.schema.child(num)
	if !ok {
		cs = leaf(fmt.Sprintf("%s.%d", m.schema.Name(), num))
	}
	child := newMessage(cs)
	m.fields = append(m.fields, field{num: num, typ: protowire.BytesType, msg: child})
	m.dirty = true
	return child
}
