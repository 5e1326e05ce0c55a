package caps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kata-containers/qemu-capabilities/internal/config"
)

// Cache is the mutex-protected binary-path -> shared CapabilityRecord
// map of §4.7. The slow path (probe) and the fast path (hit and fresh)
// both run under the same lock -- probes are rare and expensive enough
// that fine-grained locking would add complexity without measurable
// gain.
type Cache struct {
	cfg config.Config

	mu      sync.Mutex
	entries map[string]*CapabilityRecord
}

// NewCache constructs an empty Cache governed by cfg, registering this
// package's Prometheus collectors with the default registerer on first
// call.
func NewCache(cfg config.Config) *Cache {
	registerMetrics(prometheus.DefaultRegisterer)
	return &Cache{cfg: cfg, entries: make(map[string]*CapabilityRecord)}
}

// Lookup implements the lookup protocol of §4.7 under a single lock:
// reuse a fresh entry, evict and drop a stale or unstatable one, or
// populate the key via the Probe Orchestrator (consulting the on-disk
// snapshot first) and install the result.
func (c *Cache) Lookup(ctx context.Context, binaryPath string) (*CapabilityRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.entries[binaryPath]; ok {
		if recordIsFresh(rec) {
			observeCacheLookup("hit")
			return rec, nil
		}
		delete(c.entries, binaryPath)
		observeCacheLookup("stale")
	} else {
		observeCacheLookup("miss")
	}

	rec, err := c.populate(ctx, binaryPath)
	if err != nil {
		return nil, err
	}
	c.entries[binaryPath] = rec
	return rec, nil
}

// LookupCopy returns a deep clone of the looked-up record, decoupling
// the caller from any future Cache replacement of the original.
func (c *Cache) LookupCopy(ctx context.Context, binaryPath string) (*CapabilityRecord, error) {
	rec, err := c.Lookup(ctx, binaryPath)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Free drops every entry the Cache currently holds. Callers that still
// hold a shared reference keep it valid; only the Cache's own strong
// reference is released.
func (c *Cache) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CapabilityRecord)
}

// recordIsFresh implements the validity check of §4.7: a record with no
// binary path (a synthetic or test fixture) is always valid; otherwise
// the binary's current mtime must match the mtime recorded at probe
// time.
func recordIsFresh(rec *CapabilityRecord) bool {
	if rec.BinaryPath == "" {
		return true
	}
	info, err := os.Stat(rec.BinaryPath)
	if err != nil {
		return false
	}
	return info.ModTime().Equal(rec.ModTime)
}

// populate builds a fresh record for binaryPath, consulting the on-disk
// status-file snapshot before falling back to the Probe Orchestrator --
// the snapshot is a pure startup-latency optimization and is skipped
// entirely when cfg.NoCacheFile is set.
func (c *Cache) populate(ctx context.Context, binaryPath string) (*CapabilityRecord, error) {
	if !c.cfg.NoCacheFile {
		if info, err := os.Stat(binaryPath); err == nil {
			if rec, ok := c.loadSnapshot(binaryPath, info.ModTime()); ok {
				return rec, nil
			}
		}
	}

	rec, err := probeBinary(ctx, c.cfg, binaryPath)
	if err != nil {
		return nil, err
	}

	if !c.cfg.NoCacheFile {
		if err := c.saveSnapshot(rec); err != nil {
			orchestratorLog.WithError(err).WithField("binary", binaryPath).Debug("failed to write capability snapshot")
		}
	}

	return rec, nil
}

// snapshot is the TOML-serializable status-file form of a
// CapabilityRecord. FlagSet round-trips through its stable string
// form (FlagSet.String / ParseFlagSet) rather than its in-memory word
// layout, so a snapshot written by one build stays readable by a later
// one even if the Flag enumeration has grown.
type snapshot struct {
	ModTime      int64             `toml:"mod_time_unix_nano"`
	Version      int               `toml:"version"`
	AccelVersion int               `toml:"accel_version"`
	Arch         string            `toml:"arch"`
	Flags        string            `toml:"flags"`
	Machines     []snapshotMachine `toml:"machine"`
	CPUModels    []string          `toml:"cpu_models"`
	BuiltViaQMP  bool              `toml:"built_via_monitor"`
}

type snapshotMachine struct {
	Name      string `toml:"name"`
	Alias     string `toml:"alias"`
	IsDefault bool   `toml:"is_default"`
}

// snapshotPath is <libDir>/capabilities/<sha256(binaryPath)>.toml --
// hashing the path keeps the file name independent of any unsafe
// characters a binary path might contain.
func (c *Cache) snapshotPath(binaryPath string) string {
	sum := sha256.Sum256([]byte(binaryPath))
	return filepath.Join(c.cfg.LibDir, "capabilities", hex.EncodeToString(sum[:])+".toml")
}

func (c *Cache) loadSnapshot(binaryPath string, modTime time.Time) (*CapabilityRecord, bool) {
	data, err := os.ReadFile(c.snapshotPath(binaryPath))
	if err != nil {
		return nil, false
	}

	var snap snapshot
	if _, err := toml.Decode(string(data), &snap); err != nil {
		return nil, false
	}
	if !time.Unix(0, snap.ModTime).Equal(modTime) {
		return nil, false
	}

	machines := make([]MachineType, 0, len(snap.Machines))
	for _, m := range snap.Machines {
		machines = append(machines, MachineType{Name: m.Name, Alias: m.Alias, IsDefault: m.IsDefault})
	}

	rec := &CapabilityRecord{
		BinaryPath:      binaryPath,
		ModTime:         modTime,
		Version:         snap.Version,
		AccelVersion:    snap.AccelVersion,
		Arch:            Arch(snap.Arch),
		Flags:           ParseFlagSet(snap.Flags),
		Machines:        machines,
		CPUModels:       append([]string(nil), snap.CPUModels...),
		BuiltViaMonitor: snap.BuiltViaQMP,
	}
	if rec.Version <= 0 || rec.Arch == ArchUnknown {
		return nil, false
	}
	return rec, true
}

func (c *Cache) saveSnapshot(rec *CapabilityRecord) error {
	path := c.snapshotPath(rec.BinaryPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create capability snapshot directory")
	}

	machines := make([]snapshotMachine, 0, len(rec.Machines))
	for _, m := range rec.Machines {
		machines = append(machines, snapshotMachine{Name: m.Name, Alias: m.Alias, IsDefault: m.IsDefault})
	}

	snap := snapshot{
		ModTime:      rec.ModTime.UnixNano(),
		Version:      rec.Version,
		AccelVersion: rec.AccelVersion,
		Arch:         string(rec.Arch),
		Flags:        rec.Flags.String(),
		Machines:     machines,
		CPUModels:    rec.CPUModels,
		BuiltViaQMP:  rec.BuiltViaMonitor,
	}

	f, err := os.CreateTemp(filepath.Dir(path), "snapshot-*.toml")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot file")
	}
	defer os.Remove(f.Name())

	if err := toml.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp snapshot file")
	}

	return os.Rename(f.Name(), path)
}
