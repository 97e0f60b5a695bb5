package mavconform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestDialect(t testing.TB) *Dialect {
	t.Helper()
	d, err := LoadDefinition(filepath.Join("testdata", "test.xml"))
	if err != nil {
		t.Fatalf("loading test dialect: %v", err)
	}
	return d
}

// CRC-extra seeds of the standard HEARTBEAT and STATUSTEXT definitions are
// fixed by the MAVLink specification; getting them right proves the seed
// derivation (wire ordering, type spelling, extension exclusion) end to end.
func TestCRCExtra(t *testing.T) {
	d := loadTestDialect(t)

	for name, want := range map[string]byte{
		"HEARTBEAT":  50,
		"STATUSTEXT": 83,
		"FOO":        166,
	} {
		m, err := d.Message(name)
		require.NoError(t, err)
		assert.Equal(t, want, m.CRCExtra(), name)
	}
}

func TestWireOrder(t *testing.T) {
	d := loadTestDialect(t)
	m, err := d.Message("HEARTBEAT")
	require.NoError(t, err)

	var names []string
	for _, idx := range m.wire {
		names = append(names, m.Fields[idx].Name)
	}
	// custom_mode is widest and moves first; the uint8 fields keep their
	// declaration order.
	assert.Equal(t, []string{"custom_mode", "type", "autopilot", "base_mode",
		"system_status", "mavlink_version"}, names)
}

func TestWireOrderExtensionsLast(t *testing.T) {
	d := loadTestDialect(t)
	m, err := d.Message("STATUSTEXT")
	require.NoError(t, err)

	var names []string
	for _, idx := range m.wire {
		names = append(names, m.Fields[idx].Name)
	}
	// id is wider than chunk_seq but extensions are never reordered.
	assert.Equal(t, []string{"severity", "text", "id", "chunk_seq"}, names)
}

func TestPayloadLen(t *testing.T) {
	d := loadTestDialect(t)

	for name, want := range map[string]int{
		"HEARTBEAT":    9,
		"STATUSTEXT":   54,
		"FOO":          13,
		"KITCHEN_SINK": 76,
	} {
		m, err := d.Message(name)
		require.NoError(t, err)
		assert.Equal(t, want, m.PayloadLen(), name)
	}
}

func TestMessageLookup(t *testing.T) {
	d := loadTestDialect(t)

	m, err := d.MessageByID(0)
	require.NoError(t, err)
	assert.Equal(t, "HEARTBEAT", m.Name)

	_, err = d.MessageByID(31337)
	var unknown ErrUnknownMessageID
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, ErrUnknownMessageID(31337), unknown)

	_, err = d.Message("NO_SUCH_MESSAGE")
	assert.Error(t, err)
}

func TestNewDialectValidation(t *testing.T) {
	field := Field{Name: "a", Type: TypeUint8}

	for name, tc := range map[string]struct {
		messages []*Message
		enums    []*Enum
	}{
		"duplicate id": {
			messages: []*Message{
				{Name: "A", ID: 1, Fields: []Field{field}},
				{Name: "B", ID: 1, Fields: []Field{field}},
			},
		},
		"duplicate name": {
			messages: []*Message{
				{Name: "A", ID: 1, Fields: []Field{field}},
				{Name: "A", ID: 2, Fields: []Field{field}},
			},
		},
		"no fields": {
			messages: []*Message{{Name: "A", ID: 1}},
		},
		"duplicate field": {
			messages: []*Message{{Name: "A", ID: 1, Fields: []Field{field, field}}},
		},
		"unknown enum": {
			messages: []*Message{{Name: "A", ID: 1, Fields: []Field{
				{Name: "a", Type: TypeUint8, Enum: "NOPE"},
			}}},
		},
		"id exceeds 24 bits": {
			messages: []*Message{{Name: "A", ID: maxMessageID + 1, Fields: []Field{field}}},
		},
		"payload too large": {
			messages: []*Message{{Name: "A", ID: 1, Fields: []Field{
				{Name: "a", Type: TypeUint64, ArrayLen: 32},
			}}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewDialect("bad", tc.messages, tc.enums)
			assert.Error(t, err)
		})
	}
}
