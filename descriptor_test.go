package mavconform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDescriptor(t *testing.T) {
	d, err := LoadDescriptor(filepath.Join("testdata", "minimal.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "minimal", d.Name)
	require.Len(t, d.Messages, 2)

	m, err := d.Message("TELEMETRY")
	require.NoError(t, err)
	assert.Equal(t, uint32(4242), m.ID)

	require.Len(t, m.Fields, 4)
	assert.Equal(t, Field{Name: "mode", Type: TypeUint8, Enum: "MODE"}, m.Fields[0])
	assert.Equal(t, Field{Name: "readings", Type: TypeFloat, ArrayLen: 4}, m.Fields[1])
	assert.Equal(t, Field{Name: "tag", Type: TypeChar, ArrayLen: 6}, m.Fields[2])
	assert.Equal(t, Field{Name: "flags", Type: TypeUint16, Extension: true}, m.Fields[3])

	mode, ok := d.Enums["MODE"]
	require.True(t, ok)
	assert.Len(t, mode.Entries, 3)
}

func TestLoadDialectDispatch(t *testing.T) {
	_, err := LoadDialect(filepath.Join("testdata", "test.xml"))
	assert.NoError(t, err)

	_, err = LoadDialect(filepath.Join("testdata", "minimal.yaml"))
	assert.NoError(t, err)

	_, err = LoadDialect("dialect.toml")
	assert.Error(t, err)
}
