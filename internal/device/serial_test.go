package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printagent/internal/config"
)

const cpuinfo = `processor	: 0
model name	: ARMv7 Processor rev 4 (v7l)
Hardware	: BCM2835
Revision	: a02082
Serial		: 00000000b1c2d3e4
Model		: Raspberry Pi 3 Model B Rev 1.2
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fakeSysfs(t *testing.T) (netDir, cpuPath string) {
	t.Helper()
	root := t.TempDir()
	netDir = filepath.Join(root, "net")
	writeFile(t, filepath.Join(netDir, "lo", "address"), "00:00:00:00:00:00\n")
	writeFile(t, filepath.Join(netDir, "dummy0", "address"), "00:00:00:00:00:00\n")
	writeFile(t, filepath.Join(netDir, "eth0", "address"), "b8:27:eb:12:34:56\n")
	writeFile(t, filepath.Join(netDir, "wlan0", "address"), "b8:27:eb:ab:cd:ef\n")
	cpuPath = filepath.Join(root, "cpuinfo")
	writeFile(t, cpuPath, cpuinfo)
	return netDir, cpuPath
}

func TestSerial(t *testing.T) {
	netDir, cpuPath := fakeSysfs(t)

	serial, err := Serial(&config.DeviceConfig{NetClassPath: netDir, CPUInfoPath: cpuPath})
	require.NoError(t, err)
	assert.Equal(t, "b8:27:eb:12:34:5600000000b1c2d3e4", serial)
}

func TestSerial_Override(t *testing.T) {
	serial, err := Serial(&config.DeviceConfig{Serial: "kiosk-7", NetClassPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", serial)
}

func TestSerial_PartialSources(t *testing.T) {
	netDir, cpuPath := fakeSysfs(t)
	missing := filepath.Join(t.TempDir(), "missing")

	serial, err := Serial(&config.DeviceConfig{NetClassPath: missing, CPUInfoPath: cpuPath})
	require.NoError(t, err)
	assert.Equal(t, "00000000b1c2d3e4", serial)

	serial, err = Serial(&config.DeviceConfig{NetClassPath: netDir, CPUInfoPath: missing})
	require.NoError(t, err)
	assert.Equal(t, "b8:27:eb:12:34:56", serial)

	_, err = Serial(&config.DeviceConfig{NetClassPath: missing, CPUInfoPath: missing})
	assert.Error(t, err)
}

func TestCPUSerial_NoSerialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	writeFile(t, path, "processor\t: 0\nmodel name\t: x86\n")

	serial, err := CPUSerial(path)
	require.NoError(t, err)
	assert.Empty(t, serial)
}
