package hypervisor

// Defaults for the Proxmox VE tooling.
const (
	// DefaultQemuImgPath is the image conversion tool
	DefaultQemuImgPath = "qemu-img"
	// DefaultQmPath is the Proxmox VE VM manager
	DefaultQmPath = "qm"
	// DefaultStorage is the storage pool disks are imported into
	DefaultStorage = "local-lvm"
	// TempDiskName is the converted disk written to the work dir before import
	TempDiskName = "img2kvm_temp.qcow2"
)
