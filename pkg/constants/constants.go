package constants

const (
	// Name is the boot loader name recorded into the boot record.
	Name = "OSLO"
	// Version is printed when the pre-launch phase starts.
	Version = "0.4.0"

	// MultibootMagic is passed by a multiboot compliant boot loader in EAX.
	MultibootMagic = 0x2badb002

	// DRTMPCR is the PCR where the boot modules are extended.
	DRTMPCR = 19
	// SkinitPCR holds the measurement of the secure loader taken by SKINIT.
	SkinitPCR = 17
	// PCRCount is the number of PCRs every PC client TPM implements.
	PCRCount = 24

	// PreLaunchLocality is claimed before SKINIT to issue TPM2_Startup.
	PreLaunchLocality = 0
	// PostLaunchLocality is claimed after SKINIT for the measurements.
	PostLaunchLocality = 2
	// Localities is the number of TIS localities.
	Localities = 5

	// TISBase is the physical address of the locality 0 register block.
	TISBase = 0xfed40000

	// LoaderNameAddr is where the loader name string is stored for the kernel.
	LoaderNameAddr = 0x00090000

	// TransferBufferSize is the size of the TPM command and response buffer.
	TransferBufferSize = 4096
)

// Banner returns the version line printed on the console.
func Banner() string {
	return Name + " v." + Version
}
