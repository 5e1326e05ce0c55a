package caps

// MachineType is a named board/chipset configuration the probed binary
// can instantiate. Name always holds the canonical name; Alias, when
// non-empty, is an alternative name that resolves to it (see
// resolveMachine). A listing entry of the textual form
// "<alias> ... (alias of <canonical>)" therefore becomes
// MachineType{Name: canonical, Alias: alias}.
type MachineType struct {
	Name      string
	Alias     string
	IsDefault bool
}

// rotateDefault moves the (at most one) entry marked IsDefault to index
// 0, preserving the relative order of every other entry -- a block move,
// not a sort. machines with no default entry are returned unchanged.
func rotateDefault(machines []MachineType) []MachineType {
	idx := -1
	for i, m := range machines {
		if m.IsDefault {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return machines
	}

	rotated := make([]MachineType, 0, len(machines))
	rotated = append(rotated, machines[idx])
	rotated = append(rotated, machines[:idx]...)
	rotated = append(rotated, machines[idx+1:]...)
	return rotated
}

// resolveMachine resolves name to its canonical form: an alias resolves
// to the canonical name it points at; anything else (including an
// already-canonical name) resolves to itself.
func resolveMachine(machines []MachineType, name string) string {
	for _, m := range machines {
		if m.Alias == name {
			return m.Name
		}
	}
	return name
}
