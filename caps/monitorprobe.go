package caps

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/kata-containers/qemu-capabilities/pkg/govmm/qemu"
)

// errMonitorUnsupported is returned by MonitorProbe when the instance's
// reported version is too old to carry a useful structured monitor; the
// Orchestrator treats this as "decline, fall back to HelpParser", not as
// a fatal probe error.
var errMonitorUnsupported = errors.New("monitor probe not supported: reported version < 1.2")

// MonitorResult is everything MonitorProbe learns over a live QMP
// session.
type MonitorResult struct {
	Version   int
	Flags     FlagSet
	Machines  []MachineType
	CPUModels []string
}

// MonitorProbe drives a short-lived QMP session against an already
// daemonized, already-connected instance and fuses every query result
// into a FlagSet. It never spawns the instance itself -- see
// spawnMonitorProbe in spawn.go, which the Orchestrator calls first to
// obtain sess.
func MonitorProbe(ctx context.Context, sess *qemu.Session, version *qemu.Version) (*MonitorResult, error) {
	encoded := EncodeVersion(version.Major, version.Minor, version.Micro)
	if encoded < EncodeVersion(1, 2, 0) {
		return nil, errMonitorUnsupported
	}

	if err := sess.ExecuteQMPCapabilities(ctx); err != nil {
		return nil, errors.Wrap(err, "qmp_capabilities handshake")
	}

	var fs FlagSet
	fs.SetAll(monitorBaselineFlags...)

	commands, err := sess.ExecuteQueryCommands(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query-commands")
	}
	commandSet := make(map[string]bool, len(commands))
	for _, name := range commands {
		commandSet[name] = true
		if f, ok := monitorCommandFlags[name]; ok {
			fs.Set(f)
		}
	}

	events, err := sess.ExecuteQueryEvents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query-events")
	}
	for _, name := range events {
		if f, ok := monitorEventFlags[name]; ok {
			fs.Set(f)
		}
	}

	types, err := sess.ExecuteQomListTypes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "qom-list-types")
	}
	for _, typeName := range types {
		if f, ok := deviceTypeFlags[typeName]; ok {
			fs.Set(f)
		}
	}
	for _, typeName := range queriedDeviceTypes {
		table, ok := deviceTypeProps[typeName]
		if !ok {
			continue
		}
		props, err := sess.ExecuteQomListProperties(ctx, typeName)
		if err != nil {
			// Types the instance does not implement are expected to
			// fail this query; treat as "no properties" rather than
			// aborting the whole probe.
			continue
		}
		for _, prop := range props {
			if f, ok := table[prop]; ok {
				fs.Set(f)
			}
		}
	}

	if err := applyKVMState(ctx, sess, commandSet, &fs); err != nil {
		return nil, err
	}

	if commandSet["add-fd"] {
		if err := probeAddFd(ctx, sess); err != nil {
			fs.Clear(FlagAddFd)
		}
	}

	qmachines, err := sess.ExecuteQueryMachines(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query-machines")
	}

	cpuModels, err := sess.ExecuteQueryCPUDefinitions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query-cpu-definitions")
	}

	reconcile(&fs)

	return &MonitorResult{
		Version:   encoded,
		Flags:     fs,
		Machines:  machineTypesFromQMP(qmachines),
		CPUModels: cpuModels,
	}, nil
}

// applyKVMState implements virQEMUCapsProbeQMPKVMState verbatim: *kvm*
// is provisionally set by the command table above only if query-kvm was
// observed; get-accelerator-state is then queried, and the provisional
// flag is corrected based on its answer.
func applyKVMState(ctx context.Context, sess *qemu.Session, commandSet map[string]bool, fs *FlagSet) error {
	if !commandSet["query-kvm"] {
		return nil
	}

	state, err := sess.ExecuteQueryKVM(ctx)
	if err != nil {
		return errors.Wrap(err, "query-kvm")
	}

	if !state.Present {
		fs.Clear(FlagKVM)
		return nil
	}
	if !state.Enabled {
		fs.Clear(FlagKVM)
		fs.Set(FlagEnableKVM)
	}
	return nil
}

// probeAddFd performs the live round trip grounded on the open(2)
// "/dev/null" + add-fd sequence: only success of both steps confirms
// the capability.
func probeAddFd(ctx context.Context, sess *qemu.Session) error {
	f, err := os.Open(os.DevNull)
	if err != nil {
		return err
	}
	defer f.Close()

	return sess.ExecuteAddFd(ctx, -1, f.Fd(), "qemu-capabilities-probe")
}

// machineTypesFromQMP converts the transport's wire-level Machine list
// into this package's MachineType model, applying the same default
// rotation ListParsers applies to the textual form.
func machineTypesFromQMP(machines []qemu.Machine) []MachineType {
	converted := make([]MachineType, 0, len(machines))
	for _, m := range machines {
		converted = append(converted, MachineType{Name: m.Name, Alias: m.Alias, IsDefault: m.IsDefault})
	}
	return rotateDefault(converted)
}
