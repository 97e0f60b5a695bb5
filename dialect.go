package mavconform

import (
	"fmt"
	"sort"
)

// Field is one declared field of a message type.
type Field struct {
	Name string
	Type FieldType
	// ArrayLen is the fixed array length, 0 for scalar fields.
	ArrayLen int
	// Enum names the enumeration constraining this field, empty if none.
	Enum string
	// Extension marks fields declared after the extensions separator. They
	// do not participate in the CRC-extra seed and are packed after all
	// base fields.
	Extension bool
}

// EnumEntry is one named integer option of an enumeration.
type EnumEntry struct {
	Name  string
	Value uint64
}

// Enum is a named set of integer options.
type Enum struct {
	Name    string
	Entries []EnumEntry
}

// Message describes one message type: its id and fields in declaration
// order. Wire order, payload length and the CRC-extra seed are derived when
// the owning dialect is built.
type Message struct {
	Name   string
	ID     uint32
	Fields []Field

	// wire holds indexes into Fields in wire order: base fields stable
	// sorted by type size descending, extension fields after them in
	// declaration order.
	wire       []int
	crcExtra   byte
	payloadLen int
}

// CRCExtra returns the message's CRC-extra seed byte.
func (m *Message) CRCExtra() byte {
	return m.crcExtra
}

// PayloadLen returns the full, untruncated payload length in bytes.
func (m *Message) PayloadLen() int {
	return m.payloadLen
}

// Dialect is an immutable registry of message types and enumerations. It is
// built once, up front, and passed explicitly to every component that needs
// schema knowledge.
type Dialect struct {
	Name     string
	Messages []*Message
	Enums    map[string]*Enum

	byID   map[uint32]*Message
	byName map[string]*Message
}

// NewDialect validates the given message and enum definitions and derives
// the per-message wire metadata.
func NewDialect(name string, messages []*Message, enums []*Enum) (*Dialect, error) {
	d := &Dialect{
		Name:     name,
		Messages: messages,
		Enums:    make(map[string]*Enum, len(enums)),
		byID:     make(map[uint32]*Message, len(messages)),
		byName:   make(map[string]*Message, len(messages)),
	}
	for _, e := range enums {
		if _, ok := d.Enums[e.Name]; ok {
			return nil, fmt.Errorf("mavconform: duplicate enum '%s'", e.Name)
		}
		d.Enums[e.Name] = e
	}
	for _, m := range messages {
		if err := d.addMessage(m); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dialect) addMessage(m *Message) error {
	if m.ID > maxMessageID {
		return fmt.Errorf("mavconform: message '%s' id '%d' exceeds 24 bits", m.Name, m.ID)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("mavconform: message '%s' declares no fields", m.Name)
	}
	if _, ok := d.byID[m.ID]; ok {
		return fmt.Errorf("mavconform: duplicate message id '%d'", m.ID)
	}
	if _, ok := d.byName[m.Name]; ok {
		return fmt.Errorf("mavconform: duplicate message '%s'", m.Name)
	}

	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if seen[f.Name] {
			return fmt.Errorf("mavconform: message '%s' declares field '%s' twice", m.Name, f.Name)
		}
		seen[f.Name] = true
		if _, ok := fieldTypeSizes[f.Type]; !ok {
			return fmt.Errorf("mavconform: message '%s' field '%s' has unknown type", m.Name, f.Name)
		}
		if f.ArrayLen < 0 || f.ArrayLen > maxPayloadLen {
			return fmt.Errorf("mavconform: message '%s' field '%s' array length '%d' out of range",
				m.Name, f.Name, f.ArrayLen)
		}
		if f.Enum != "" {
			if _, ok := d.Enums[f.Enum]; !ok {
				return fmt.Errorf("mavconform: message '%s' field '%s' references unknown enum '%s'",
					m.Name, f.Name, f.Enum)
			}
		}
	}

	m.wire = wireOrder(m.Fields)
	m.payloadLen = 0
	for _, f := range m.Fields {
		n := f.ArrayLen
		if n == 0 {
			n = 1
		}
		m.payloadLen += f.Type.Size() * n
	}
	if m.payloadLen > maxPayloadLen {
		return fmt.Errorf("mavconform: message '%s' payload length '%d' exceeds '%d'",
			m.Name, m.payloadLen, maxPayloadLen)
	}
	m.crcExtra = crcExtra(m)

	d.byID[m.ID] = m
	d.byName[m.Name] = m
	return nil
}

// wireOrder sorts base field indexes by type size descending (stable, so
// declaration order breaks ties) and appends extension field indexes in
// declaration order.
func wireOrder(fields []Field) []int {
	var base, ext []int
	for i, f := range fields {
		if f.Extension {
			ext = append(ext, i)
		} else {
			base = append(base, i)
		}
	}
	sort.SliceStable(base, func(i, j int) bool {
		return fields[base[i]].Type.Size() > fields[base[j]].Type.Size()
	})
	return append(base, ext...)
}

// crcExtra derives the message's checksum seed from its name and base field
// layout, so that both ends of a link fail loudly on schema drift.
func crcExtra(m *Message) byte {
	var sum crc
	sum.reset().pushString(m.Name + " ")
	for _, idx := range m.wire {
		f := m.Fields[idx]
		if f.Extension {
			break
		}
		sum.pushString(f.Type.String() + " ").pushString(f.Name + " ")
		if f.ArrayLen > 0 {
			sum.pushByte(byte(f.ArrayLen))
		}
	}
	v := sum.value()
	return byte((v & 0xFF) ^ (v >> 8))
}

// Message resolves a message type by name.
func (d *Dialect) Message(name string) (*Message, error) {
	m, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("mavconform: dialect '%s' does not declare message '%s'", d.Name, name)
	}
	return m, nil
}

// MessageByID resolves a message type by its wire id.
func (d *Dialect) MessageByID(id uint32) (*Message, error) {
	m, ok := d.byID[id]
	if !ok {
		return nil, ErrUnknownMessageID(id)
	}
	return m, nil
}
