package caps

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/qemu-capabilities/internal/config"
)

var orchestratorLog = logrus.WithField("source", "caps")

// probeBinary is the Probe Orchestrator of §4.6: it builds a complete
// CapabilityRecord for binaryPath, preferring MonitorProbe and falling
// back to the legacy help/device/list path when the monitor declines.
func probeBinary(ctx context.Context, cfg config.Config, binaryPath string) (*CapabilityRecord, error) {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return nil, newProbeError(binaryPath, "stat binary", err)
	}
	if info.Mode()&0o111 == 0 {
		return nil, newProbeError(binaryPath, "binary is not executable", errNotExecutable)
	}

	arch := archFromBinaryName(binaryPath)

	// Every probe attempt gets its own correlation id so the handful of
	// log lines a single lookup produces -- spawn, decline, fallback,
	// finish -- can be grepped back together across a busy daemon's log.
	probeID := uuid.New().String()
	log := orchestratorLog.WithFields(logrus.Fields{"probe_id": probeID, "binary": binaryPath})

	start := time.Now()
	record, builtViaMonitor, err := probeViaMonitor(ctx, cfg, binaryPath, log)
	if err == nil {
		observeProbe("monitor", "success", time.Since(start).Seconds())
	} else if err != ErrDecline {
		observeProbe("monitor", "error", time.Since(start).Seconds())
		return nil, err
	} else {
		observeProbe("monitor", "declined", time.Since(start).Seconds())
		log.Debug("monitor probe declined, falling back to help-based discovery")
		start = time.Now()
		record, err = probeViaHelp(ctx, cfg, binaryPath, arch)
		if err != nil {
			observeProbe("help", "error", time.Since(start).Seconds())
			return nil, err
		}
		observeProbe("help", "success", time.Since(start).Seconds())
	}

	record.BinaryPath = binaryPath
	record.ModTime = info.ModTime()
	record.Arch = arch
	record.BuiltViaMonitor = builtViaMonitor

	applyArchFixups(record)
	reconcile(&record.Flags)

	if record.Version <= 0 {
		return nil, newProbeError(binaryPath, "finalize record", errNoVersion)
	}

	log.WithField("via_monitor", record.BuiltViaMonitor).Debug("probe finished")

	return record, nil
}

func probeViaMonitor(ctx context.Context, cfg config.Config, binaryPath string, log *logrus.Entry) (*CapabilityRecord, bool, error) {
	handle, err := spawnMonitorProbe(ctx, cfg, binaryPath, log)
	if err != nil {
		return nil, false, err
	}
	defer handle.Cleanup()

	result, err := MonitorProbe(ctx, handle.Session, handle.Version)
	if err == errMonitorUnsupported {
		return nil, false, ErrDecline
	}
	if err != nil {
		return nil, false, newProbeError(binaryPath, "monitor probe", err)
	}

	return &CapabilityRecord{
		Version:   result.Version,
		Flags:     result.Flags,
		Machines:  result.Machines,
		CPUModels: result.CPUModels,
	}, true, nil
}

func probeViaHelp(ctx context.Context, cfg config.Config, binaryPath string, arch Arch) (*CapabilityRecord, error) {
	help, err := runCaptured(ctx, cfg, binaryPath, "-help")
	if err != nil {
		return nil, newProbeError(binaryPath, "spawn -help", err)
	}

	helpResult, err := ParseHelp(help)
	if err != nil {
		return nil, newProbeError(binaryPath, "parse -help output", err)
	}

	record := &CapabilityRecord{
		Version:      helpResult.Version,
		AccelVersion: helpResult.AccelVersion,
		Flags:        helpResult.Flags,
	}

	if record.Flags.Test(FlagDevice) && strings.Contains(help, "-device driver,?") {
		if err := applyDeviceSubProbe(ctx, cfg, binaryPath, record); err != nil {
			return nil, newProbeError(binaryPath, "device sub-probe", err)
		}
	}

	machineListing, err := runCaptured(ctx, cfg, binaryPath, "-M", "?")
	if err != nil {
		return nil, newProbeError(binaryPath, "spawn -M ?", err)
	}
	record.Machines = ParseMachineTypes(machineListing)

	var cpuListing string
	if arch.x86Family() || arch == ArchPPC64 || arch == ArchPPC64LE {
		cpuListing, err = runCaptured(ctx, cfg, binaryPath, "-cpu", "?")
		if err != nil {
			return nil, newProbeError(binaryPath, "spawn -cpu ?", err)
		}
	}
	record.CPUModels = ParseCPUModels(arch, cpuListing)

	return record, nil
}

// applyDeviceSubProbe runs the fixed "-device ?" + "-device <type>,?"
// sequence of §4.4 and folds the results into record.Flags.
func applyDeviceSubProbe(ctx context.Context, cfg config.Config, binaryPath string, record *CapabilityRecord) error {
	var combined strings.Builder

	dump, err := runCaptured(ctx, cfg, binaryPath, "-device", "?")
	if err != nil {
		return err
	}
	combined.WriteString(dump)
	combined.WriteByte('\n')

	for _, typeName := range queriedDeviceTypes {
		dump, err := runCaptured(ctx, cfg, binaryPath, "-device", typeName+",?")
		if err != nil {
			return err
		}
		combined.WriteString(dump)
		combined.WriteByte('\n')
	}

	result, err := ParseDeviceDump(combined.String())
	if err != nil {
		return err
	}
	ApplyDeviceFlags(&record.Flags, result)
	return nil
}

// applyArchFixups implements §4.6 step 4: multibus is x86-only; any
// no-acpi help derived for a non-x86 architecture is spurious and
// cleared.
func applyArchFixups(record *CapabilityRecord) {
	if record.Arch.x86Family() {
		record.Flags.Set(FlagPCIMultibus)
		record.Flags.Set(FlagNoACPI)
	} else {
		record.Flags.Clear(FlagPCIMultibus)
		record.Flags.Clear(FlagNoACPI)
	}
}
