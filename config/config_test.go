package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
[can]
interface = brutellacan
channel = can0
bitrate = 500000
request_id = 0x7E0
response_id = 0x7E8

[uds]
block_size = 0
st_min = 0
frame_timeout_ms = 1000
keep_alive_interval_ms = 2000

[retry]
max_attempts = 3
initial_delay_ms = 1000
backoff_factor = 2.0

[report]
enabled = true
`

func TestLoadParsesProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o644))

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "brutellacan", p.Interface)
	assert.Equal(t, "can0", p.Channel)
	assert.Equal(t, 500000, p.Bitrate)
	assert.EqualValues(t, 0x7E0, p.RequestID)
	assert.EqualValues(t, 0x7E8, p.ResponseID)
	assert.True(t, p.EmitDiagnosticReport)
}

func TestToSessionConfigHonorsAutoDetect(t *testing.T) {
	p := DefaultProfile()
	p.AutoDetect = true
	sc := p.ToSessionConfig()
	assert.Nil(t, sc.CANIDs)

	p.AutoDetect = false
	sc = p.ToSessionConfig()
	require.NotNil(t, sc.CANIDs)
	assert.Equal(t, p.RequestID, sc.CANIDs.RequestID)
}
