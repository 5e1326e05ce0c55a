package caps

import (
	"strings"
)

const machineListHeader = "Supported machines are:"

// ParseMachineTypes parses the textual output of "-machine ?" /
// "-M ?" into an ordered MachineType list with the default, if any,
// rotated to index 0. The header line is skipped; blank lines are
// skipped.
//
// An "(alias of X)" line and X's own canonical line both name the same
// machine and are merged into a single entry, keyed by canonical name,
// regardless of which of the two lines is seen first.
func ParseMachineTypes(listing string) []MachineType {
	entries := make(map[string]*MachineType)
	var order []string

	get := func(canonical string) *MachineType {
		m, ok := entries[canonical]
		if !ok {
			m = &MachineType{Name: canonical}
			entries[canonical] = m
			order = append(order, canonical)
		}
		return m
	}

	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == machineListHeader {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		isDefault := strings.Contains(trimmed, "(default)")

		if idx := strings.Index(trimmed, "(alias of "); idx >= 0 {
			rest := trimmed[idx+len("(alias of "):]
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				continue
			}
			canonical := rest[:end]
			m := get(canonical)
			m.Alias = name
			if isDefault {
				m.IsDefault = true
			}
			continue
		}

		m := get(name)
		if isDefault {
			m.IsDefault = true
		}
	}

	machines := make([]MachineType, 0, len(order))
	for _, name := range order {
		machines = append(machines, *entries[name])
	}

	return rotateDefault(machines)
}

// ParseCPUModels dispatches to the architecture-appropriate CPU-model
// parser. Architectures other than the x86 family and ppc64/ppc64le
// have no textual CPU-model listing; the result is an empty,
// successful list.
func ParseCPUModels(arch Arch, listing string) []string {
	switch {
	case arch.x86Family():
		return parseX86CPUModels(listing)
	case arch == ArchPPC64 || arch == ArchPPC64LE:
		return parsePPC64CPUModels(listing)
	default:
		return nil
	}
}

// parseX86CPUModels matches lines of the form "x86 <model>" or
// "x86 [<model>]", stripping the brackets when present. Lines not
// matching the "x86" prefix are skipped.
func parseX86CPUModels(listing string) []string {
	var models []string
	for _, line := range strings.Split(listing, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "x86") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		model := fields[1]
		model = strings.TrimPrefix(model, "[")
		model = strings.TrimSuffix(model, "]")
		if model != "" {
			models = append(models, model)
		}
	}
	return models
}

// parsePPC64CPUModels matches lines of the form "PowerPC <model>
// <description>". Lines not matching the "PowerPC " prefix are
// skipped.
func parsePPC64CPUModels(listing string) []string {
	const prefix = "PowerPC "
	var models []string
	for _, line := range strings.Split(listing, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(trimmed, prefix))
		if len(fields) == 0 {
			continue
		}
		models = append(models, fields[0])
	}
	return models
}
