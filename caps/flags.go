package caps

// Flag is a member of the closed, ordered, append-only capability-flag
// enumeration. Names are persisted in on-disk capability snapshots
// (see Cache), so existing entries are never renamed, reordered, or
// removed -- new capabilities are always appended at the end.
type Flag int

// The enumeration below is grounded verbatim on the capability name
// table of the emulator-capability prober this module replaces (flag
// order and spelling are a stable wire contract, see flagNames).
const (
	FlagKqemu Flag = iota
	FlagVNCColon
	FlagNoReboot
	FlagDrive
	FlagDriveBoot

	FlagName
	FlagUUID
	FlagDomid
	FlagVnetHdr
	FlagMigrateKVMStdio

	FlagMigrateQemuTCP
	FlagMigrateQemuExec
	FlagDriveCacheV2
	FlagKVM
	FlagDriveFormat

	FlagVGA
	Flag0Dot10
	FlagPCIDevice
	FlagMemPath
	FlagDriveSerial

	FlagXenDomid
	FlagMigrateQemuUnix
	FlagChardev
	FlagEnableKVM
	FlagMonitorJSON

	FlagBalloon
	FlagDevice
	FlagSDL
	FlagSMPTopology
	FlagNetdev

	FlagRTC
	FlagVhostNet
	FlagRTCTDHack
	FlagNoHpet
	FlagNoKVMPit

	FlagTDF
	FlagPCIConfigFD
	FlagNodefconfig
	FlagBootMenu
	FlagEnableKqemu

	FlagFsdev
	FlagNesting
	FlagNameProcess
	FlagDriveReadonly
	FlagSMBIOSType

	FlagVGAQxl
	FlagSpice
	FlagVGANone
	FlagMigrateQemuFD
	FlagBootIndex

	FlagHDADuplex
	FlagDriveAio
	FlagPCIMultibus
	FlagPCIBootindex
	FlagCCIDEmulated

	FlagCCIDPassthru
	FlagChardevSpicevmc
	FlagDeviceSpicevmc
	FlagVirtioTxAlg
	FlagDeviceQxlVga

	FlagPCIMultifunction
	FlagVirtioBlkPCIIoeventfd
	FlagSga
	FlagVirtioBlkPCIEventIdx
	FlagVirtioNetPCIEventIdx

	FlagCacheDirectsync
	FlagPiix3USBUHCI
	FlagPiix4USBUHCI
	FlagUSBEHCI
	FlagICH9USBEHCI1

	FlagVT82C686BUSBUHCI
	FlagPCIOHCI
	FlagUSBRedir
	FlagUSBHub
	FlagNoShutdown

	FlagCacheUnsafe
	FlagRombar
	FlagICH9AHCI
	FlagNoACPI
	FlagFsdevReadonly

	FlagVirtioBlkPCIScsi
	FlagBlkSgIo
	FlagDriveCopyOnRead
	FlagCPUHost
	FlagFsdevWriteout

	FlagDriveIotune
	FlagSystemWakeup
	FlagScsiDiskChannel
	FlagScsiBlock
	FlagTransaction

	FlagBlockJobSync
	FlagBlockJobAsync
	FlagScsiCD
	FlagIDECD
	FlagNoUserConfig

	FlagHDAMicro
	FlagDumpGuestMemory
	FlagNecUSBXHCI
	FlagVirtioS390
	FlagBalloonEvent

	FlagBridge
	FlagLsi
	FlagVirtioScsiPCI
	FlagBlockio
	FlagDisableS3

	FlagDisableS4
	FlagUSBRedirFilter
	FlagIDEDriveWwn
	FlagScsiDiskWwn
	FlagSeccompSandbox

	FlagRebootTimeout
	FlagDumpGuestCore
	FlagSeamlessMigration
	FlagBlockCommit
	FlagVNC

	FlagDriveMirror
	FlagUSBRedirBootindex
	FlagUSBHostBootindex
	FlagBlockdevSnapshotSync
	FlagQxl

	FlagVGACaps
	FlagCirrusVga
	FlagVmwareSvga
	FlagDeviceVideoPrimary
	FlagS390Sclp

	FlagUSBSerial
	FlagUSBNet
	FlagAddFd
	FlagNbdServer
	FlagVirtioRng

	FlagRngRandom
	FlagRngEgd

	numFlags
)

// flagNames is the persisted, stable string form of every flag in
// enumeration order. Append only; never reorder, rename, or remove an
// entry -- on-disk capability snapshots reference flags by these names.
var flagNames = [numFlags]string{
	"kqemu", "vnc-colon", "no-reboot", "drive", "drive-boot",
	"name", "uuid", "domid", "vnet-hdr", "migrate-kvm-stdio",
	"migrate-qemu-tcp", "migrate-qemu-exec", "drive-cache-v2", "kvm", "drive-format",
	"vga", "0.10", "pci-device", "mem-path", "drive-serial",
	"xen-domid", "migrate-qemu-unix", "chardev", "enable-kvm", "monitor-json",
	"balloon", "device", "sdl", "smp-topology", "netdev",
	"rtc", "vhost-net", "rtc-td-hack", "no-hpet", "no-kvm-pit",
	"tdf", "pci-configfd", "nodefconfig", "boot-menu", "enable-kqemu",
	"fsdev", "nesting", "name-process", "drive-readonly", "smbios-type",
	"vga-qxl", "spice", "vga-none", "migrate-qemu-fd", "boot-index",
	"hda-duplex", "drive-aio", "pci-multibus", "pci-bootindex", "ccid-emulated",
	"ccid-passthru", "chardev-spicevmc", "device-spicevmc", "virtio-tx-alg", "device-qxl-vga",
	"pci-multifunction", "virtio-blk-pci.ioeventfd", "sga", "virtio-blk-pci.event_idx", "virtio-net-pci.event_idx",
	"cache-directsync", "piix3-usb-uhci", "piix4-usb-uhci", "usb-ehci", "ich9-usb-ehci1",
	"vt82c686b-usb-uhci", "pci-ohci", "usb-redir", "usb-hub", "no-shutdown",
	"cache-unsafe", "rombar", "ich9-ahci", "no-acpi", "fsdev-readonly",
	"virtio-blk-pci.scsi", "blk-sg-io", "drive-copy-on-read", "cpu-host", "fsdev-writeout",
	"drive-iotune", "system_wakeup", "scsi-disk.channel", "scsi-block", "transaction",
	"block-job-sync", "block-job-async", "scsi-cd", "ide-cd", "no-user-config",
	"hda-micro", "dump-guest-memory", "nec-usb-xhci", "virtio-s390", "balloon-event",
	"bridge", "lsi", "virtio-scsi-pci", "blockio", "disable-s3",
	"disable-s4", "usb-redir.filter", "ide-drive.wwn", "scsi-disk.wwn", "seccomp-sandbox",
	"reboot-timeout", "dump-guest-core", "seamless-migration", "block-commit", "vnc",
	"drive-mirror", "usb-redir.bootindex", "usb-host.bootindex", "blockdev-snapshot-sync", "qxl",
	"VGA", "cirrus-vga", "vmware-svga", "device-video-primary", "s390-sclp",
	"usb-serial", "usb-net", "add-fd", "nbd-server", "virtio-rng",
	"rng-random", "rng-egd",
}

var flagByName map[string]Flag

func init() {
	flagByName = make(map[string]Flag, numFlags)
	for i, name := range flagNames {
		flagByName[name] = Flag(i)
	}
}

// String returns the persisted name of the flag, or "" for an index
// outside the current enumeration.
func (f Flag) String() string {
	if f < 0 || int(f) >= len(flagNames) {
		return ""
	}
	return flagNames[f]
}

// flagFromName looks up a flag by its persisted name. The second return
// value is false for names outside the current enumeration -- callers
// must treat that as "ignore", not an error, for forward compatibility
// with status files written by a newer build.
func flagFromName(name string) (Flag, bool) {
	f, ok := flagByName[name]
	return f, ok
}
