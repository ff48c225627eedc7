package ltv

import (
	"bytes"
	"fmt"
	"strings"
)

// Entry is a single Length-Type-Value element. The length octet is not
// stored; it is derived as 1+len(Value) when serializing.
type Entry struct {
	Type  uint8
	Value []byte
}

// Map is an ordered set of LTV entries keyed by type. Entry order is
// insertion order and is preserved by serialization, so encoding the same
// map twice yields identical bytes.
type Map struct {
	entries []Entry
}

// New builds a map from the given entries. Later duplicates of a type
// replace earlier ones in place.
func New(entries ...Entry) *Map {
	m := &Map{}
	for _, e := range entries {
		m.Add(e.Type, e.Value)
	}
	return m
}

// Parse decodes a raw LTV byte stream into a map.
// Layout: repeated [length:1][type:1][value:length-1]. A zero length octet
// carries no type and is skipped. An entry whose declared length exceeds the
// remaining bytes makes the whole stream invalid.
func Parse(data []byte) (*Map, error) {
	m := &Map{}
	pos := 0
	for pos < len(data) {
		entryLen := int(data[pos])
		pos++
		if entryLen == 0 {
			continue
		}
		if pos+entryLen > len(data) {
			return nil, fmt.Errorf("ltv entry at offset %d: declared length %d exceeds remaining %d bytes",
				pos-1, entryLen, len(data)-pos)
		}
		value := make([]byte, entryLen-1)
		copy(value, data[pos+1:pos+entryLen])
		m.Add(data[pos], value)
		pos += entryLen
	}
	return m, nil
}

// Add sets the value for a type, replacing an existing entry in place or
// appending a new one. The value bytes are copied. Returns the map for
// chaining.
func (m *Map) Add(typ uint8, value []byte) *Map {
	v := make([]byte, len(value))
	copy(v, value)
	for i := range m.entries {
		if m.entries[i].Type == typ {
			m.entries[i].Value = v
			return m
		}
	}
	m.entries = append(m.entries, Entry{Type: typ, Value: v})
	return m
}

// AddUint8 sets a single-octet value for a type.
func (m *Map) AddUint8(typ uint8, value uint8) *Map {
	return m.Add(typ, []byte{value})
}

// AddUint16 sets a two-octet little-endian value for a type.
func (m *Map) AddUint16(typ uint8, value uint16) *Map {
	return m.Add(typ, []byte{byte(value), byte(value >> 8)})
}

// AddUint32 sets a four-octet little-endian value for a type.
func (m *Map) AddUint32(typ uint8, value uint32) *Map {
	return m.Add(typ, []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)})
}

// Remove deletes the entry for a type if present.
func (m *Map) Remove(typ uint8) {
	for i := range m.entries {
		if m.entries[i].Type == typ {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// RemoveTypes deletes every entry whose type is also present in other,
// regardless of value.
func (m *Map) RemoveTypes(other *Map) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		m.Remove(e.Type)
	}
}

// Find returns the value for a type and whether it is present. The returned
// slice is the stored value; callers must not modify it. Safe on a nil map.
func (m *Map) Find(typ uint8) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.entries {
		if m.entries[i].Type == typ {
			return m.entries[i].Value, true
		}
	}
	return nil, false
}

// Has reports whether the map contains an entry for a type.
func (m *Map) Has(typ uint8) bool {
	_, ok := m.Find(typ)
	return ok
}

// Len returns the number of entries. Safe on a nil map.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// IsEmpty reports whether the map has no entries. Safe on a nil map.
func (m *Map) IsEmpty() bool {
	return m.Len() == 0
}

// Entries returns the entries in insertion order. The returned slice is a
// copy; the value slices are shared.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Size returns the serialized length in bytes. Safe on a nil map.
func (m *Map) Size() int {
	if m == nil {
		return 0
	}
	n := 0
	for i := range m.entries {
		n += 2 + len(m.entries[i].Value)
	}
	return n
}

// RawBytes returns the canonical serialization: for each entry a length
// octet equal to 1+len(value), the type octet and the value bytes. A nil or
// empty map serializes to an empty slice.
func (m *Map) RawBytes() []byte {
	if m == nil {
		return nil
	}
	out := make([]byte, 0, m.Size())
	for i := range m.entries {
		e := &m.entries[i]
		out = append(out, byte(1+len(e.Value)), e.Type)
		out = append(out, e.Value...)
	}
	return out
}

// Intersection returns the entries present in both maps with byte-identical
// values, in the receiver's order.
func (m *Map) Intersection(other *Map) *Map {
	out := &Map{}
	if m == nil || other == nil {
		return out
	}
	for i := range m.entries {
		e := &m.entries[i]
		v, ok := other.Find(e.Type)
		if ok && bytes.Equal(e.Value, v) {
			out.Add(e.Type, e.Value)
		}
	}
	return out
}

// Clone returns a deep copy of the map. Cloning a nil map yields an empty one.
func (m *Map) Clone() *Map {
	out := &Map{}
	if m == nil {
		return out
	}
	for i := range m.entries {
		out.Add(m.entries[i].Type, m.entries[i].Value)
	}
	return out
}

// String returns a human-readable representation for logs.
func (m *Map) String() string {
	if m == nil {
		return "ltv{}"
	}
	var b strings.Builder
	b.WriteString("ltv{")
	for i := range m.entries {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "0x%02x:%x", m.entries[i].Type, m.entries[i].Value)
	}
	b.WriteString("}")
	return b.String()
}
