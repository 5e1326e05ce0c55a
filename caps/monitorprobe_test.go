package caps

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kata-containers/qemu-capabilities/pkg/govmm/qemu"
)

// fakeQMPServer starts a unix-socket QMP server driven by a table of
// canned responses keyed by "execute" command name, and returns the
// socket path.
func fakeQMPServer(t *testing.T, responses map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.monitor.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = conn.Write([]byte(`{"QMP":{"version":{"qemu":{"major":1,"minor":2,"micro":0},"package":""},"capabilities":[]}}` + "\n"))

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req map[string]interface{}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			name, _ := req["execute"].(string)
			resp, ok := responses[name]
			if !ok {
				resp = `{"return":{}}`
			}
			_, _ = conn.Write([]byte(resp + "\n"))
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return path
}

func TestMonitorProbeAppliesBaselineAndCommandFlags(t *testing.T) {
	path := fakeQMPServer(t, map[string]string{
		"query-commands":         `{"return":[{"name":"transaction"},{"name":"add-fd"},{"name":"query-kvm"}]}`,
		"query-events":           `{"return":[{"name":"BALLOON_CHANGE"}]}`,
		"qom-list-types":         `{"return":[{"name":"qxl"},{"name":"spicevmc"}]}`,
		"device-list-properties": `{"return":[]}`,
		"query-kvm":              `{"return":{"present":true,"enabled":true}}`,
		"query-machines":         `{"return":[{"name":"pc","is-default":true},{"name":"q35"}]}`,
		"query-cpu-definitions":  `{"return":[{"name":"Haswell"}]}`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	disconnectedCh := make(chan struct{})
	sess, version, err := qemu.Start(ctx, path, qemu.Config{}, disconnectedCh)
	require.NoError(t, err)
	defer sess.Shutdown()

	result, err := MonitorProbe(ctx, sess, version)
	require.NoError(t, err)

	require.True(t, result.Flags.Test(FlagNoReboot))
	require.True(t, result.Flags.Test(FlagTransaction))
	require.True(t, result.Flags.Test(FlagAddFd))
	require.True(t, result.Flags.Test(FlagBalloonEvent))
	require.True(t, result.Flags.Test(FlagQxl))
	require.True(t, result.Flags.Test(FlagVGAQxl), "qxl must imply vga-qxl after reconcile")
	require.True(t, result.Flags.Test(FlagKVM))
	require.Len(t, result.Machines, 2)
	require.Equal(t, "pc", result.Machines[0].Name)
	require.True(t, result.Machines[0].IsDefault)
	require.Equal(t, []string{"Haswell"}, result.CPUModels)
}

func TestMonitorProbeClearsKVMWhenNotEnabled(t *testing.T) {
	path := fakeQMPServer(t, map[string]string{
		"query-commands":        `{"return":[{"name":"query-kvm"}]}`,
		"query-events":          `{"return":[]}`,
		"qom-list-types":        `{"return":[]}`,
		"device-list-properties": `{"return":[]}`,
		"query-kvm":             `{"return":{"present":true,"enabled":false}}`,
		"query-machines":        `{"return":[]}`,
		"query-cpu-definitions": `{"return":[]}`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	disconnectedCh := make(chan struct{})
	sess, version, err := qemu.Start(ctx, path, qemu.Config{}, disconnectedCh)
	require.NoError(t, err)
	defer sess.Shutdown()

	result, err := MonitorProbe(ctx, sess, version)
	require.NoError(t, err)

	require.False(t, result.Flags.Test(FlagKVM))
	require.True(t, result.Flags.Test(FlagEnableKVM))
}

func TestMonitorProbeDeclinesOldVersion(t *testing.T) {
	ctx := context.Background()
	_, err := MonitorProbe(ctx, nil, &qemu.Version{Major: 1, Minor: 0, Micro: 0})
	require.ErrorIs(t, err, errMonitorUnsupported)
}
