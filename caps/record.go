package caps

import (
	"fmt"
	"time"
)

// EncodeVersion folds a major.minor.micro triple into the single integer
// used throughout this package, per §3/§4.2: major*1e6 + minor*1e3 +
// micro. Callers are expected to keep 0 <= minor,micro < 1000.
func EncodeVersion(major, minor, micro int) int {
	return major*1000000 + minor*1000 + micro
}

// CapabilityRecord is the exclusive owner of everything this package
// learns about one hypervisor binary. It is built once by the probe
// orchestrator and is immutable after that: every field is read-only
// from the moment it is published to the Cache.
type CapabilityRecord struct {
	// BinaryPath is empty only for synthetic records built in tests; a
	// record with an empty BinaryPath is always considered valid by the
	// Cache's staleness check (there is nothing on disk to go stale).
	BinaryPath string
	ModTime    time.Time

	// Version is the encoded major/minor/micro triple (see
	// EncodeVersion). AccelVersion is the accelerator-specific
	// sub-version, 0 if the binary has no accelerated build or none was
	// reported.
	Version      int
	AccelVersion int

	Arch Arch

	Flags FlagSet

	// Machines is ordered with the default machine, if any, at index 0.
	Machines []MachineType

	// CPUModels is an opaque, emulator-defined list; order is preserved
	// from the source listing.
	CPUModels []string

	// BuiltViaMonitor records whether this record was produced by
	// MonitorProbe (true) or by the legacy help/device/list path
	// (false).
	BuiltViaMonitor bool
}

// DefaultMachine returns the default machine type, if any, and whether
// one was found. Per invariant 2, when present it is always Machines[0].
func (r *CapabilityRecord) DefaultMachine() (MachineType, bool) {
	if len(r.Machines) > 0 && r.Machines[0].IsDefault {
		return r.Machines[0], true
	}
	return MachineType{}, false
}

// ResolveMachine resolves an alias to its canonical name, or returns name
// unchanged if it is already canonical or unknown.
func (r *CapabilityRecord) ResolveMachine(name string) string {
	return resolveMachine(r.Machines, name)
}

// Clone returns a deep copy of r, decoupling the result from any future
// Cache replacement of the original. Used by Cache.LookupCopy.
func (r *CapabilityRecord) Clone() *CapabilityRecord {
	clone := *r
	clone.Flags = r.Flags.Copy()
	clone.Machines = append([]MachineType(nil), r.Machines...)
	clone.CPUModels = append([]string(nil), r.CPUModels...)
	return &clone
}

// String renders a short human-readable summary, useful for log lines.
func (r *CapabilityRecord) String() string {
	return fmt.Sprintf("%s version=%d arch=%s machines=%d cpuModels=%d flags=%d viaMonitor=%t",
		r.BinaryPath, r.Version, r.Arch, len(r.Machines), len(r.CPUModels), len(r.Flags.Names()), r.BuiltViaMonitor)
}

// reconcile applies the cross-flag invariants from §3 that must hold on
// every finished record, regardless of which discovery path produced it:
//   - chardev-spicevmc and device-spicevmc are mutually exclusive: the
//     chardev variant wins.
//   - device-qxl (persisted as flag name "qxl") implies vga-qxl.
func reconcile(fs *FlagSet) {
	if fs.Test(FlagChardevSpicevmc) {
		fs.Clear(FlagDeviceSpicevmc)
	}
	if fs.Test(FlagQxl) {
		fs.Set(FlagVGAQxl)
	}
}
