package caps

// Static lookup tables shared by DeviceStringParser (§4.4) and
// MonitorProbe (§4.5), grounded verbatim on qemu_capabilities.c's
// virQEMUCapsObjectTypes / virQEMUCapsObjectProps* tables and its
// command/event name tables.

// deviceTypeFlags maps a "-device ?" object type name to the flag its
// mere existence establishes.
var deviceTypeFlags = map[string]Flag{
	"hda-duplex":         FlagHDADuplex,
	"hda-micro":          FlagHDAMicro,
	"ccid-card-emulated": FlagCCIDEmulated,
	"ccid-card-passthru": FlagCCIDPassthru,
	"piix3-usb-uhci":     FlagPiix3USBUHCI,
	"piix4-usb-uhci":     FlagPiix4USBUHCI,
	"usb-ehci":           FlagUSBEHCI,
	"ich9-usb-ehci1":     FlagICH9USBEHCI1,
	"vt82c686b-usb-uhci": FlagVT82C686BUSBUHCI,
	"pci-ohci":           FlagPCIOHCI,
	"nec-usb-xhci":       FlagNecUSBXHCI,
	"usb-redir":          FlagUSBRedir,
	"usb-hub":            FlagUSBHub,
	"ich9-ahci":          FlagICH9AHCI,
	"virtio-blk-s390":    FlagVirtioS390,
	"sclpconsole":        FlagS390Sclp,
	"lsi53c895a":         FlagLsi,
	"virtio-scsi-pci":    FlagVirtioScsiPCI,
	"spicevmc":           FlagDeviceSpicevmc,
	"qxl-vga":            FlagDeviceQxlVga,
	"qxl":                FlagQxl,
	"sga":                FlagSga,
	"scsi-block":         FlagScsiBlock,
	"scsi-cd":            FlagScsiCD,
	"ide-cd":             FlagIDECD,
	"VGA":                FlagVGACaps,
	"cirrus-vga":         FlagCirrusVga,
	"vmware-svga":        FlagVmwareSvga,
	"usb-serial":         FlagUSBSerial,
	"usb-net":            FlagUSBNet,
	"virtio-rng-pci":     FlagVirtioRng,
	"rng-random":         FlagRngRandom,
	"rng-egd":            FlagRngEgd,
}

// deviceTypeProps maps a queried object type to its property-name →
// flag table. Types sharing a property set (e.g. the s390 and PCI
// variants of virtio-blk/virtio-net) are listed separately because the
// textual dump queries each by its own name.
var deviceTypeProps = map[string]map[string]Flag{
	"virtio-blk-pci": {
		"multifunction":      FlagPCIMultifunction,
		"bootindex":          FlagPCIBootindex,
		"ioeventfd":          FlagVirtioBlkPCIIoeventfd,
		"event_idx":          FlagVirtioBlkPCIEventIdx,
		"scsi":               FlagVirtioBlkPCIScsi,
		"logical_block_size": FlagBlkSgIo,
	},
	"virtio-blk-s390": {
		"multifunction":      FlagPCIMultifunction,
		"bootindex":          FlagPCIBootindex,
		"ioeventfd":          FlagVirtioBlkPCIIoeventfd,
		"event_idx":          FlagVirtioBlkPCIEventIdx,
		"scsi":               FlagVirtioBlkPCIScsi,
		"logical_block_size": FlagBlkSgIo,
	},
	"virtio-net-pci": {
		"tx":        FlagVirtioTxAlg,
		"event_idx": FlagVirtioNetPCIEventIdx,
	},
	"virtio-net-s390": {
		"tx":        FlagVirtioTxAlg,
		"event_idx": FlagVirtioNetPCIEventIdx,
	},
	"pci-assign": {
		"rombar":    FlagRombar,
		"configfd":  FlagPCIConfigFD,
		"bootindex": FlagPCIBootindex,
	},
	"kvm-pci-assign": {
		"rombar":    FlagRombar,
		"configfd":  FlagPCIConfigFD,
		"bootindex": FlagPCIBootindex,
	},
	"scsi-disk": {
		"channel": FlagScsiDiskChannel,
		"wwn":     FlagScsiDiskWwn,
	},
	"ide-drive": {
		"wwn": FlagIDEDriveWwn,
	},
	"PIIX4_PM": {
		"disable_s3": FlagDisableS3,
		"disable_s4": FlagDisableS4,
	},
	"usb-redir": {
		"filter":    FlagUSBRedirFilter,
		"bootindex": FlagUSBRedirBootindex,
	},
	"usb-host": {
		"bootindex": FlagUSBHostBootindex,
	},
}

// queriedDeviceTypes is the fixed sequence of "-device <type>,?"
// invocations the Orchestrator issues alongside the bare "-device ?"
// dump.
var queriedDeviceTypes = []string{
	"virtio-blk-pci",
	"virtio-net-pci",
	"pci-assign",
	"virtio-blk-s390",
	"scsi-disk",
	"PIIX4_PM",
	"usb-redir",
	"usb-host",
	"ide-drive",
}

// monitorBaselineFlags is the set applied unconditionally once a
// monitor session with version >= 1.2 is established, grounded
// verbatim on virQEMUCapsInitQMPBasic.
var monitorBaselineFlags = []Flag{
	FlagVNCColon, FlagNoReboot, FlagDrive, FlagName, FlagUUID,
	FlagVnetHdr, FlagMigrateQemuTCP, FlagMigrateQemuExec, FlagDriveCacheV2,
	FlagDriveFormat, FlagVGA, Flag0Dot10, FlagMemPath, FlagDriveSerial,
	FlagMigrateQemuUnix, FlagChardev, FlagMonitorJSON, FlagBalloon,
	FlagDevice, FlagSDL, FlagSMPTopology, FlagNetdev, FlagRTC,
	FlagVhostNet, FlagNoHpet, FlagNodefconfig, FlagBootMenu, FlagFsdev,
	FlagNameProcess, FlagDriveReadonly, FlagSMBIOSType, FlagVGANone,
	FlagMigrateQemuFD, FlagDriveAio, FlagChardevSpicevmc, FlagDeviceQxlVga,
	FlagCacheDirectsync, FlagNoShutdown, FlagCacheUnsafe, FlagFsdevReadonly,
	FlagBlkSgIo, FlagDriveCopyOnRead, FlagCPUHost, FlagFsdevWriteout,
	FlagDriveIotune, FlagSystemWakeup, FlagNoUserConfig, FlagBridge,
	FlagSeccompSandbox, FlagNoKVMPit,
}

// monitorCommandFlags maps a "query-commands"-reported command name to
// the flag its presence establishes.
var monitorCommandFlags = map[string]Flag{
	"system_wakeup":          FlagSystemWakeup,
	"transaction":            FlagTransaction,
	"block_job_cancel":       FlagBlockJobSync,
	"block-job-cancel":       FlagBlockJobAsync,
	"dump-guest-memory":      FlagDumpGuestMemory,
	"query-spice":            FlagSpice,
	"query-kvm":              FlagKVM,
	"block-commit":           FlagBlockCommit,
	"query-vnc":              FlagVNC,
	"drive-mirror":           FlagDriveMirror,
	"blockdev-snapshot-sync": FlagBlockdevSnapshotSync,
	"add-fd":                 FlagAddFd,
	"nbd-server-start":       FlagNbdServer,
}

// monitorEventFlags maps a "query-events"-reported event name to the
// flag its presence establishes.
var monitorEventFlags = map[string]Flag{
	"BALLOON_CHANGE":          FlagBalloonEvent,
	"SPICE_MIGRATE_COMPLETED": FlagSeamlessMigration,
}
