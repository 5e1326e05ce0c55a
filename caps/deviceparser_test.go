package caps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceDumpTypesAndProperties(t *testing.T) {
	dump := `name "virtio-blk-pci", bus PCI
virtio-blk-pci.multifunction=bool
virtio-blk-pci.bootindex=int32
name "scsi-disk", bus SCSI
scsi-disk.channel=uint32
scsi-disk.wwn=uint64
`
	result, err := ParseDeviceDump(dump)
	require.NoError(t, err)

	assert.True(t, result.Types["virtio-blk-pci"])
	assert.True(t, result.Types["scsi-disk"])
	assert.True(t, result.Properties["virtio-blk-pci"]["multifunction"])
	assert.True(t, result.Properties["virtio-blk-pci"]["bootindex"])
	assert.True(t, result.Properties["scsi-disk"]["channel"])
	assert.True(t, result.Properties["scsi-disk"]["wwn"])
}

func TestParseDeviceDumpUnterminatedQuoteFails(t *testing.T) {
	_, err := ParseDeviceDump(`name "virtio-blk-pci, bus PCI`)
	assert.Error(t, err)
}

func TestApplyDeviceFlags(t *testing.T) {
	result := &DeviceParseResult{
		Types: map[string]bool{"qxl": true, "spicevmc": true},
		Properties: map[string]map[string]bool{
			"scsi-disk": {"wwn": true},
		},
	}
	var fs FlagSet
	ApplyDeviceFlags(&fs, result)

	assert.True(t, fs.Test(FlagQxl))
	assert.True(t, fs.Test(FlagDeviceSpicevmc))
	assert.True(t, fs.Test(FlagScsiDiskWwn))
}

func TestParseDeviceDumpPropertiesMatchedByPrefixNotSection(t *testing.T) {
	dump := `name "virtio-blk-pci", bus PCI
virtio-blk-pci.scsi=bool
name "scsi-disk", bus SCSI
virtio-blk-pci.scsi=bool
`
	result, err := ParseDeviceDump(dump)
	require.NoError(t, err)
	// Property lines are matched by literal prefix regardless of which
	// "name" section precedes them -- the parser records the queried
	// type each line actually names, not the most recent section.
	assert.True(t, result.Properties["virtio-blk-pci"]["scsi"])
}
