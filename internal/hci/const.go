package hci

// Status codes (Bluetooth Core, Vol 1 Part F).
const (
	StatusSuccess                uint8 = 0x00
	StatusUnknownConnectionID    uint8 = 0x02
	StatusMemoryCapacityExceeded uint8 = 0x07
	StatusInvalidParameters      uint8 = 0x12
	StatusUnspecifiedError       uint8 = 0x1f
)

// ReasonLocalHostTerminated is the disconnect reason used when the host
// tears a BIG down on its own initiative.
const ReasonLocalHostTerminated uint8 = 0x16

// PHY identifiers.
const (
	Phy1M    uint8 = 0x01
	Phy2M    uint8 = 0x02
	PhyCoded uint8 = 0x03
)

// Own address types for advertising sets.
const (
	OwnAddressPublic uint8 = 0x00
	OwnAddressRandom uint8 = 0x01
)

// AdvertiserIDInvalid marks an unassigned advertising set handle.
const AdvertiserIDInvalid uint8 = 0xff

// MaxBisPerBig is the protocol limit on streams in one broadcast
// isochronous group.
const MaxBisPerBig = 31

// ISO data path directions for SetupIsoDataPath.
const (
	DataPathDirectionInput  uint8 = 0x00 // host to controller
	DataPathDirectionOutput uint8 = 0x01 // controller to host
)

// Direction bitmask for RemoveIsoDataPath.
const (
	RemoveDataPathInput  uint8 = 0x01
	RemoveDataPathOutput uint8 = 0x02
)

// ISO data path identifiers.
const (
	DataPathHCI             uint8 = 0x00
	DataPathPlatformDefault uint8 = 0x01
	DataPathDisabled        uint8 = 0xff
)

// CodingFormatTransparent marks a data path whose payload the controller
// forwards without transcoding.
const CodingFormatTransparent uint8 = 0x03
