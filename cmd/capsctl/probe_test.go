package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFakeQemuBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "qemu-system-x86_64")

	script := `#!/bin/sh
case "$1" in
  -help)
    cat <<'EOF'
QEMU emulator version 1.2.0
-no-reboot
-chardev  configure a chardev backend
-qmp dev  like -monitor but opens in 'control' mode
EOF
    ;;
  -M)
    cat <<'EOF'
Supported machines are:
pc-1.0    Standard PC v1.0 (default)
EOF
    ;;
  -cpu)
    cat <<'EOF'
x86 [qemu64]
EOF
    ;;
  *)
    exit 0
    ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeTestConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "capsctl.toml")
	libDir := filepath.Join(dir, "lib")
	contents := "lib_dir = \"" + libDir + "\"\nno_cache_file = true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestProbeCommandPrintsCapabilityRecord(t *testing.T) {
	binaryPath := writeFakeQemuBinary(t)
	configPath := writeTestConfigFile(t)

	var out bytes.Buffer
	app := createApp()
	app.Writer = &out

	err := app.Run([]string{"capsctl", "--config", configPath, "probe", binaryPath})
	require.NoError(t, err)

	var result probeResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Equal(t, "x86_64", result.Arch)
	require.Equal(t, 1002000, result.Version)
	require.Len(t, result.Machines, 1)
	require.Equal(t, "pc-1.0", result.Machines[0].Name)
	require.Contains(t, result.Flags, "chardev")
}

func TestProbeCommandRequiresExactlyOneArgument(t *testing.T) {
	app := createApp()
	app.Writer = &bytes.Buffer{}

	err := app.Run([]string{"capsctl", "probe"})
	require.Error(t, err)
}

func TestCacheStatReportsMissingDirectory(t *testing.T) {
	configPath := writeTestConfigFile(t)

	var out bytes.Buffer
	app := createApp()
	app.Writer = &out

	err := app.Run([]string{"capsctl", "--config", configPath, "cache-stat"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "no snapshot directory")
}
