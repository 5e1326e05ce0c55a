package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMachineTypesRotatesDefault(t *testing.T) {
	listing := "Supported machines are:\n" +
		"pc           Standard PC (i440FX + PIIX, 1996)\n" +
		"pc-1.2       Standard PC (i440FX + PIIX, 1996) (default)\n" +
		"q35          Standard PC (Q35 + ICH9, 2009)\n"

	machines := ParseMachineTypes(listing)
	if assert.Len(t, machines, 3) {
		assert.Equal(t, "pc-1.2", machines[0].Name)
		assert.True(t, machines[0].IsDefault)
		assert.Equal(t, "pc", machines[1].Name)
		assert.Equal(t, "q35", machines[2].Name)
	}
}

// Scenario C: an alias line and its canonical's own line name the same
// machine and must merge into a single entry.
func TestParseMachineTypesAliasAndCanonicalMerge(t *testing.T) {
	listing := "Supported machines are:\n" +
		"pc        Standard PC (alias of pc-1.0)\n" +
		"pc-1.0    Standard PC v1.0 (default)\n" +
		"isapc     ISA-only PC\n"

	machines := ParseMachineTypes(listing)
	a := assert.New(t)
	if a.Len(machines, 2) {
		a.Equal("pc-1.0", machines[0].Name)
		a.Equal("pc", machines[0].Alias)
		a.True(machines[0].IsDefault)
		a.Equal("isapc", machines[1].Name)
		a.Empty(machines[1].Alias)
	}
}

func TestParseMachineTypesNoDefaultUnchanged(t *testing.T) {
	listing := "Supported machines are:\n" +
		"pc    Standard PC\n" +
		"q35   Standard PC (Q35)\n"
	machines := ParseMachineTypes(listing)
	if assert.Len(t, machines, 2) {
		assert.Equal(t, "pc", machines[0].Name)
		assert.Equal(t, "q35", machines[1].Name)
	}
}

func TestParseCPUModelsX86(t *testing.T) {
	listing := "x86 Opteron_G4\nx86 [Westmere]\nsome other junk line\n"
	models := ParseCPUModels(ArchX8664, listing)
	assert.Equal(t, []string{"Opteron_G4", "Westmere"}, models)
}

func TestParseCPUModelsPPC64(t *testing.T) {
	listing := "PowerPC POWER8 POWER8\nPowerPC POWER7 POWER7\nnot a cpu line\n"
	models := ParseCPUModels(ArchPPC64, listing)
	assert.Equal(t, []string{"POWER8", "POWER7"}, models)
}

func TestParseCPUModelsOtherArchEmpty(t *testing.T) {
	models := ParseCPUModels(ArchAARCH64, "x86 Opteron_G4\n")
	assert.Empty(t, models)
}
