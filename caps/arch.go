package caps

import (
	"runtime"
	"strings"
)

// Arch is a member of the closed set of architectures this module knows
// how to probe. Unknown architecture strings decode to ArchUnknown.
type Arch string

const (
	ArchUnknown Arch = ""
	ArchX8664   Arch = "x86_64"
	ArchI686    Arch = "i686"
	ArchARM     Arch = "arm"
	ArchARMv7l  Arch = "armv7l"
	ArchAARCH64 Arch = "aarch64"
	ArchPPC64   Arch = "ppc64"
	ArchPPC64LE Arch = "ppc64le"
	ArchS390X   Arch = "s390x"
)

// x86Family is the set of architectures that get the x86-only fixups in
// §4.6/§4.5 (multibus, no-acpi) and §4.3's x86 CPU-model parser.
func (a Arch) x86Family() bool {
	return a == ArchX8664 || a == ArchI686
}

// archAliases mirrors the fixed alias table named in the help-parser and
// monitor-probe architecture decoders: i386 and arm are the historical
// spellings some binaries and monitor replies still use.
var archAliases = map[string]Arch{
	"i386": ArchI686,
	"arm":  ArchARMv7l,
}

// decodeArch maps a raw architecture string (from a binary's file name
// suffix, or the host architecture from hostArch) to the closed Arch
// enum, applying the fixed alias table first.
func decodeArch(raw string) Arch {
	if alias, ok := archAliases[raw]; ok {
		return alias
	}
	switch Arch(raw) {
	case ArchX8664, ArchI686, ArchARM, ArchARMv7l, ArchAARCH64, ArchPPC64, ArchPPC64LE, ArchS390X:
		return Arch(raw)
	default:
		return ArchUnknown
	}
}

// systemPrefix is the literal substring that, when present in a binary's
// file name, is followed immediately by the architecture suffix.
const systemPrefix = "-system-"

// archFromBinaryName derives the architecture from the binary's file
// name, following the spec's "<emulator>-system-<arch>" convention. When
// the prefix is absent, the host architecture is assumed, matching the
// legacy help-based discovery path's fallback.
func archFromBinaryName(name string) Arch {
	if i := strings.Index(name, systemPrefix); i >= 0 {
		suffix := name[i+len(systemPrefix):]
		if a := decodeArch(suffix); a != ArchUnknown {
			return a
		}
	}
	return decodeArch(hostArch())
}

// hostArch maps runtime.GOARCH to this module's architecture spelling.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return string(ArchX8664)
	case "386":
		return string(ArchI686)
	case "arm":
		return string(ArchARM)
	case "arm64":
		return string(ArchAARCH64)
	case "ppc64":
		return string(ArchPPC64)
	case "ppc64le":
		return string(ArchPPC64LE)
	case "s390x":
		return string(ArchS390X)
	default:
		return ""
	}
}
