package caps

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AcceleratorKind identifies the accelerated-build variant reported by a
// binary's -help preamble.
type AcceleratorKind int

const (
	AccelNone AcceleratorKind = iota
	AccelKqemu
	AccelKVM
)

func (k AcceleratorKind) String() string {
	switch k {
	case AccelKqemu:
		return "kqemu"
	case AccelKVM:
		return "kvm"
	default:
		return "none"
	}
}

// HelpResult is everything HelpParser extracts from a binary's -help
// text. Per §4.2's post-condition it never touches machine-type or
// CPU-model tables -- those are ListParsers' job.
type HelpResult struct {
	Version      int
	AccelKind    AcceleratorKind
	AccelVersion int
	Flags        FlagSet
}

const (
	versionPrefix1 = "QEMU emulator version"
	versionPrefix2 = "QEMU PC emulator version"
	accelKqemuTag  = "(kqemu)"
	accelKVMTag    = "(kvm)"
)

// ParseHelp parses the full textual output of "<binary> -help".
func ParseHelp(help string) (*HelpResult, error) {
	version, accelKind, accelVersion, err := parseHelpPreamble(help)
	if err != nil {
		return nil, err
	}

	if version >= 15000 && !strings.Contains(help, "-qmp") {
		return nil, errors.Errorf("binary reports version %d but does not advertise a structured monitor", version)
	}

	var fs FlagSet
	deriveHelpFlags(&fs, help, version, accelKind, accelVersion)

	return &HelpResult{
		Version:      version,
		AccelKind:    accelKind,
		AccelVersion: accelVersion,
		Flags:        fs,
	}, nil
}

// parseHelpPreamble implements the version/accelerator grammar of §4.2,
// grounded verbatim on virQEMUCapsParseHelpStr: a literal version
// prefix, whitespace, major.minor[.micro], optional whitespace, then an
// optional "(kqemu)" or "(kvm)[<digits>]" accelerator tag.
func parseHelpPreamble(help string) (version int, kind AcceleratorKind, accelVersion int, err error) {
	p := help
	switch {
	case strings.HasPrefix(p, versionPrefix1):
		p = p[len(versionPrefix1):]
	case strings.HasPrefix(p, versionPrefix2):
		p = p[len(versionPrefix2):]
	default:
		return 0, AccelNone, 0, errors.Errorf("cannot parse version preamble in %q", excerpt(help))
	}

	p = skipBlanks(p)

	major, rest, ok := takeNumber(p)
	if !ok || !strings.HasPrefix(rest, ".") {
		return 0, AccelNone, 0, errors.Errorf("cannot parse major version in %q", excerpt(help))
	}
	p = rest[1:]

	minor, rest, ok := takeNumber(p)
	if !ok {
		return 0, AccelNone, 0, errors.Errorf("cannot parse minor version in %q", excerpt(help))
	}
	p = rest

	micro := 0
	if strings.HasPrefix(p, ".") {
		micro, rest, ok = takeNumber(p[1:])
		if !ok {
			return 0, AccelNone, 0, errors.Errorf("cannot parse micro version in %q", excerpt(help))
		}
		p = rest
	}

	p = skipBlanks(p)

	switch {
	case strings.HasPrefix(p, accelKqemuTag):
		kind = AccelKqemu
	case strings.HasPrefix(p, accelKVMTag):
		kind = AccelKVM
		p = skipBlanks(p[len(accelKVMTag):])
		if n, _, ok := takeNumber(p); ok {
			accelVersion = n
		}
	default:
		kind = AccelNone
	}

	return EncodeVersion(major, minor, micro), kind, accelVersion, nil
}

func skipBlanks(s string) string {
	return strings.TrimLeft(s, " \t")
}

// takeNumber consumes a leading run of decimal digits, returning the
// parsed value, the remaining string, and whether anything was
// consumed.
func takeNumber(s string) (int, string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}

// excerpt renders a single-line excerpt of s for error messages, cut at
// the first newline.
func excerpt(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// optionBlock returns the slice of help starting at the first
// occurrence of marker and running up to (not including) the next
// top-level option introduced by "\n-", approximating the nested-block
// scoping the original parser does with successive strstr calls.
func optionBlock(help, marker string) (string, bool) {
	i := strings.Index(help, marker)
	if i < 0 {
		return "", false
	}
	rest := help[i+len(marker):]
	if j := strings.Index(rest, "\n-"); j >= 0 {
		return marker + rest[:j], true
	}
	return marker + rest, true
}

// bracketedValues finds marker (e.g. "cache=") in block and returns the
// text between it and the next "]", the bracketed value-list QEMU's
// help text uses for enumerated options (e.g. "cache=[none,writeback,
// directsync,unsafe]"). Substring checks against the full block would
// match a marker's name appearing elsewhere in the same option's help
// text; scoping to the bracket keeps the check to the value list itself.
func bracketedValues(block, marker string) (string, bool) {
	i := strings.Index(block, marker)
	if i < 0 {
		return "", false
	}
	rest := block[i+len(marker):]
	j := strings.IndexByte(rest, ']')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// deriveHelpFlags applies the substring/version rule table of §4.2.
// Rules are independent; evaluation order does not matter.
func deriveHelpFlags(fs *FlagSet, help string, version int, accelKind AcceleratorKind, accelVersion int) {
	// Version-gated baseline rules.
	if version >= 9000 {
		fs.Set(FlagVNCColon)
	}
	if version >= 10000 {
		fs.SetAll(FlagMigrateQemuTCP, FlagMigrateQemuExec, Flag0Dot10)
	}
	if version >= 12000 {
		fs.SetAll(FlagMigrateQemuUnix, FlagMigrateQemuFD, FlagRombar)
	}
	if version >= 13000 {
		fs.Set(FlagPCIMultifunction)
		if strings.Contains(help, "-qmp") {
			fs.Set(FlagMonitorJSON)
		}
	}
	if version >= 1002000 {
		fs.Set(FlagDeviceVideoPrimary)
	}

	// -no-shutdown quirk: flagged only outside the buggy window
	// [14000, 15000).
	if strings.Contains(help, "-no-shutdown") && (version < 14000 || version >= 15000) {
		fs.Set(FlagNoShutdown)
	}

	// Accelerator-dependent.
	if accelKind != AccelNone && (version >= 10000 || accelVersion >= 74) {
		fs.Set(FlagVnetHdr)
	}
	if accelKind == AccelKqemu || strings.Contains(help, "-enable-kqemu") {
		fs.Set(FlagEnableKqemu)
	}

	// Plain presence rules.
	if strings.Contains(help, "-no-reboot") {
		fs.Set(FlagNoReboot)
	}
	if strings.Contains(help, "-name") {
		fs.Set(FlagName)
		if block, ok := optionBlock(help, "-name"); ok && strings.Contains(block, "process=") {
			fs.Set(FlagNameProcess)
		}
	}
	if strings.Contains(help, "-uuid") {
		fs.Set(FlagUUID)
	}
	if strings.Contains(help, "-domid") {
		fs.Set(FlagDomid)
	}
	if strings.Contains(help, "-xen-domid") {
		fs.Set(FlagXenDomid)
	}
	if strings.Contains(help, "-enable-kvm") {
		fs.Set(FlagEnableKVM)
	}
	// The counterintuitive -no-kvm quirk is preserved verbatim: it sets
	// the *kvm* (accelerator supported) flag, not some negative marker.
	if strings.Contains(help, "-no-kvm") {
		fs.Set(FlagKVM)
	}
	if strings.Contains(help, "-balloon") {
		fs.Set(FlagBalloon)
	}
	if strings.Contains(help, "-sdl") {
		fs.Set(FlagSDL)
	}
	if strings.Contains(help, "-spice") {
		fs.Set(FlagSpice)
	}
	if strings.Contains(help, "-vnc") {
		fs.Set(FlagVNC)
	}
	if strings.Contains(help, "-device") {
		fs.Set(FlagDevice)
	}
	if strings.Contains(help, "-mem-path") {
		fs.Set(FlagMemPath)
	}
	if strings.Contains(help, "-pci-configfd") {
		fs.Set(FlagPCIConfigFD)
	}
	if strings.Contains(help, "-nodefconfig") {
		fs.Set(FlagNodefconfig)
	}
	if strings.Contains(help, "-no-user-config") && version >= 13000 {
		fs.Set(FlagNoUserConfig)
	}
	if strings.Contains(help, "-no-acpi") {
		fs.Set(FlagNoACPI)
	}
	if strings.Contains(help, "-no-hpet") {
		fs.Set(FlagNoHpet)
	}
	if strings.Contains(help, "-no-kvm-pit-reinjection") {
		fs.Set(FlagNoKVMPit)
	}
	if strings.Contains(help, "-seccomp-sandbox") {
		fs.Set(FlagSeccompSandbox)
	}
	if strings.Contains(help, "-reboot-timeout") {
		fs.Set(FlagRebootTimeout)
	}
	if strings.Contains(help, "-dump-guest-core") {
		fs.Set(FlagDumpGuestCore)
	}
	if strings.Contains(help, "-smbios type=") {
		fs.Set(FlagSMBIOSType)
	}

	if block, ok := optionBlock(help, "-boot"); ok {
		if strings.Contains(block, "menu=on") || strings.Contains(help, "-boot=menu") {
			fs.Set(FlagBootMenu)
		}
		if strings.Contains(block, "index=") {
			fs.Set(FlagBootIndex)
		}
	}

	if block, ok := optionBlock(help, "-rtc"); ok {
		fs.Set(FlagRTC)
		if strings.Contains(block, "tdf") {
			fs.Set(FlagTDF)
		}
	}
	if strings.Contains(help, "-rtc-td-hack") {
		fs.Set(FlagRTCTDHack)
	}

	if block, ok := optionBlock(help, "-incoming"); ok {
		if strings.Contains(block, "unix") {
			fs.Set(FlagMigrateQemuUnix)
		}
		if strings.Contains(block, "exec") {
			fs.Set(FlagMigrateQemuExec)
		}
		if strings.Contains(block, "tcp") {
			fs.Set(FlagMigrateQemuTCP)
		}
		if strings.Contains(block, "fd") {
			fs.Set(FlagMigrateQemuFD)
		}
		if strings.Contains(block, "stdio") {
			fs.Set(FlagMigrateKVMStdio)
		}
	}

	if block, ok := optionBlock(help, "-smp"); ok {
		if strings.Contains(block, "sockets=") {
			fs.Set(FlagSMPTopology)
		}
	}
	if strings.Contains(help, "-pcidevice") {
		fs.Set(FlagPCIDevice)
	}

	if block, ok := optionBlock(help, "-netdev"); ok && version >= 13000 {
		fs.Set(FlagNetdev)
		if strings.Contains(block, "bridge") {
			fs.Set(FlagBridge)
		}
	}

	if block, ok := optionBlock(help, "-fsdev"); ok {
		fs.Set(FlagFsdev)
		if strings.Contains(block, "writeout=") {
			fs.Set(FlagFsdevWriteout)
		}
		if strings.Contains(block, "readonly") {
			fs.Set(FlagFsdevReadonly)
		}
	}

	if block, ok := optionBlock(help, "-chardev"); ok {
		fs.Set(FlagChardev)
		if strings.Contains(block, "spicevmc") {
			fs.Set(FlagChardevSpicevmc)
		}
	}

	if block, ok := optionBlock(help, "-drive"); ok {
		fs.Set(FlagDrive)
		if strings.Contains(block, "boot=on") {
			fs.Set(FlagDriveBoot)
		}
		if cacheValues, ok := bracketedValues(block, "cache="); ok {
			if !strings.Contains(cacheValues, "on|off") {
				fs.Set(FlagDriveCacheV2)
			}
			if strings.Contains(cacheValues, "directsync") {
				fs.Set(FlagCacheDirectsync)
			}
			if strings.Contains(cacheValues, "unsafe") {
				fs.Set(FlagCacheUnsafe)
			}
		}
		if strings.Contains(block, "format=") {
			fs.Set(FlagDriveFormat)
		}
		if strings.Contains(block, "readonly=") {
			fs.Set(FlagDriveReadonly)
		}
		if strings.Contains(block, "aio=threads") || strings.Contains(block, "aio=native") {
			fs.Set(FlagDriveAio)
		}
		if strings.Contains(block, "copy-on-read=on") {
			fs.Set(FlagDriveCopyOnRead)
		}
		if strings.Contains(block, "bps=") {
			fs.Set(FlagDriveIotune)
		}
		if strings.Contains(block, "serial=") {
			fs.Set(FlagDriveSerial)
		}
	}

	if strings.Contains(help, "-vga") {
		fs.Set(FlagVGA)
		if block, ok := optionBlock(help, "-vga"); ok && strings.Contains(block, "none") {
			fs.Set(FlagVGANone)
		}
	}

	if strings.Contains(help, "-cpu") && strings.Contains(help, "host") {
		fs.Set(FlagCPUHost)
	}

	if strings.Contains(help, "-pci-multibus") || strings.Contains(help, "multibus") {
		fs.Set(FlagPCIMultibus)
	}

	if strings.Contains(help, "system_wakeup") {
		fs.Set(FlagSystemWakeup)
	}

	if strings.Contains(help, "vhost-net") {
		fs.Set(FlagVhostNet)
	}

	if strings.Contains(help, "virtio-tx-alg") {
		fs.Set(FlagVirtioTxAlg)
	}
}
