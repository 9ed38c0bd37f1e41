package storage

import (
	"testing"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const splitLayout = `{
  "hosts": {
    "line1": {"name": "Line 1", "connection": {"connection_type": "Tcp", "host": "10.0.0.7", "port": 4001}, "timeout_ms": 2000},
    "com3": {"name": "COM3", "connection": {"connection_type": "Serial", "port": "COM3", "baud_rate": 19200, "parity": "even"}, "enabled": false}
  },
  "mierniki": {
    "c320": {"name": "C320", "protocol": "RINCMD", "manufacturer": "Rinstrum", "model": "C320", "commands": {"readGross": "20050026"}},
    "dfw": {"name": "DFW", "protocol": "DINI_ASCII", "manufacturer": "Dini Argeo", "model": "DFWLB", "commands": {"readgross": "READ"}}
  },
  "devices": {
    "dock": {"name": "Dock", "manufacturer": "", "model": "", "host_id": "line1", "miernik_id": "c320"},
    "bench": {"name": "Bench", "manufacturer": "", "model": "", "host_id": "com3", "miernik_id": "dfw", "enabled": true}
  }
}`

func TestMigrateSplitLayout(t *testing.T) {
	devices, legacy, err := MigrateLegacy([]byte(splitLayout))
	require.NoError(t, err)
	require.True(t, legacy)

	dock := devices["dock"]
	assert.Equal(t, "dock", dock.ID)
	assert.Equal(t, "Dock", dock.Name)
	assert.Equal(t, "Rinstrum", dock.Manufacturer)
	assert.Equal(t, "RINCMD", dock.Protocol)
	assert.True(t, dock.Enabled)
	assert.Equal(t, types.NewTCPDescriptor("10.0.0.7", 4001, 2000), dock.Connection)
	assert.Equal(t, map[string]string{"readGross": "20050026"}, dock.Commands)

	bench := devices["bench"]
	assert.False(t, bench.Enabled, "a disabled host disables its devices")
	require.NotNil(t, bench.Connection.Serial)
	assert.Equal(t, "COM3", bench.Connection.Serial.Path)
	assert.Equal(t, uint32(19200), bench.Connection.Serial.BaudRate)
	assert.Equal(t, types.ParityEven, bench.Connection.Serial.Parity)
	assert.Equal(t, types.StopBitsOne, bench.Connection.Serial.StopBits)
	assert.Equal(t, uint32(types.DefaultTimeoutMillis), bench.Connection.Serial.TimeoutMs)
}

func TestMigrateInlineLayout(t *testing.T) {
	devices, legacy, err := MigrateLegacy([]byte(`{"devices": {"dock": {
		"name": "Dock", "manufacturer": "Rinstrum", "model": "C320", "protocol": "rinstrum",
		"connection": {"connection_type": "Tcp"}, "timeout_ms": 750,
		"commands": {"readgross": "20050026"}}}}`))
	require.NoError(t, err)
	require.True(t, legacy)

	dock := devices["dock"]
	assert.True(t, dock.Enabled)
	assert.Equal(t, types.NewTCPDescriptor(types.DefaultTCPHost, types.DefaultTCPPort, 750), dock.Connection)
}

func TestMigrateCurrentLayoutIsNoop(t *testing.T) {
	devices, legacy, err := MigrateLegacy([]byte(`{"devices": {"dock": {"protocol": "rinstrum",
		"connection": {"type": "tcp", "host": "10.0.0.5", "port": 4001}, "commands": {}, "enabled": true}}}`))
	require.NoError(t, err)
	assert.False(t, legacy)
	assert.Nil(t, devices)
}

func TestMigrateMissingReference(t *testing.T) {
	_, legacy, err := MigrateLegacy([]byte(`{"hosts": {}, "mierniki": {"m": {"protocol": "dfw"}},
		"devices": {"x": {"host_id": "nope", "miernik_id": "m"}}}`))
	assert.True(t, legacy)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
