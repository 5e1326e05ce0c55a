package caps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kata-containers/qemu-capabilities/internal/config"
)

// writeFakeBinary writes a shell script that emulates just enough of a
// QEMU binary's command-line surface for the legacy discovery path:
// -help, -M ?, -cpu ?, and the -device ? / -device <type>,? sequence.
// It never produces a monitor pidfile, so MonitorProbe always declines
// and the Orchestrator falls back to this path.
func writeFakeBinary(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)

	script := `#!/bin/sh
case "$1" in
  -help)
    cat <<'EOF'
QEMU emulator version 1.2.0
-no-reboot
-chardev  configure a chardev backend, one of spicevmc
-drive file=file,cache=[none,writeback,directsync,unsafe],format=raw,aio=native
-device  add device
-qmp dev  like -monitor but opens in 'control' mode
EOF
    ;;
  -M)
    cat <<'EOF'
Supported machines are:
pc        Standard PC (alias of pc-1.0)
pc-1.0    Standard PC v1.0 (default)
isapc     ISA-only PC
EOF
    ;;
  -cpu)
    cat <<'EOF'
x86 [qemu64]
x86 Opteron_G3
EOF
    ;;
  -device)
    cat <<'EOF'
name "virtio-blk-pci", bus PCI
virtio-blk-pci.scsi=bool
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

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.LibDir = t.TempDir()
	return cfg
}

func TestProbeBinaryFallsBackToHelpPath(t *testing.T) {
	binaryPath := writeFakeBinary(t, "qemu-system-x86_64")
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	record, err := probeBinary(ctx, cfg, binaryPath)
	require.NoError(t, err)

	require.False(t, record.BuiltViaMonitor)
	require.Equal(t, ArchX8664, record.Arch)
	require.Equal(t, EncodeVersion(1, 2, 0), record.Version)
	require.True(t, record.Flags.Test(FlagChardev))
	require.True(t, record.Flags.Test(FlagChardevSpicevmc))
	require.False(t, record.Flags.Test(FlagDeviceSpicevmc), "chardev-spicevmc must win the conflict")
	require.True(t, record.Flags.Test(FlagPCIMultibus), "x86 family gets multibus")
	require.True(t, record.Flags.Test(FlagCacheDirectsync))
	require.True(t, record.Flags.Test(FlagCacheUnsafe))
	require.Len(t, record.Machines, 2)
	require.Equal(t, "pc-1.0", record.Machines[0].Name)
	require.True(t, record.Machines[0].IsDefault)
	require.Equal(t, []string{"qemu64", "Opteron_G3"}, record.CPUModels)
}

func TestProbeBinaryMissingFails(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	_, err := probeBinary(ctx, cfg, filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestProbeBinaryNonX86ClearsMultibusAndACPI(t *testing.T) {
	binaryPath := writeFakeBinary(t, "qemu-system-aarch64")
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	record, err := probeBinary(ctx, cfg, binaryPath)
	require.NoError(t, err)
	require.False(t, record.Flags.Test(FlagPCIMultibus))
	require.False(t, record.Flags.Test(FlagNoACPI))
}

func TestApplyArchFixupsSetsMultibusAndACPIForX86(t *testing.T) {
	// A monitor-built record never runs the help-path's "-no-acpi"
	// substring check, so applyArchFixups must be the one place that
	// sets FlagNoACPI for x86, the same way it sets FlagPCIMultibus.
	record := &CapabilityRecord{Arch: ArchX8664, BuiltViaMonitor: true}
	applyArchFixups(record)
	require.True(t, record.Flags.Test(FlagPCIMultibus))
	require.True(t, record.Flags.Test(FlagNoACPI))
}

func TestApplyArchFixupsClearsMultibusAndACPIForNonX86(t *testing.T) {
	record := &CapabilityRecord{Arch: ArchAARCH64, BuiltViaMonitor: true}
	record.Flags.Set(FlagPCIMultibus)
	record.Flags.Set(FlagNoACPI)
	applyArchFixups(record)
	require.False(t, record.Flags.Test(FlagPCIMultibus))
	require.False(t, record.Flags.Test(FlagNoACPI))
}
