package hci

import "fmt"

// Address is a 48-bit Bluetooth device address, most significant octet
// first.
type Address [6]byte

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// AdvertiseParams configures an extended advertising set.
type AdvertiseParams struct {
	Properties     uint16
	MinInterval    uint32 // 0.625 ms units
	MaxInterval    uint32 // 0.625 ms units
	ChannelMap     uint8
	TxPower        int8
	PrimaryPhy     uint8
	SecondaryPhy   uint8
	OwnAddressType uint8
}

// PeriodicParams configures the periodic advertising train of a set.
type PeriodicParams struct {
	Enable      bool
	MinInterval uint16 // 1.25 ms units
	MaxInterval uint16 // 1.25 ms units
}

// BigCreateParams configures a broadcast isochronous group tied to a
// periodic advertising set.
type BigCreateParams struct {
	AdvHandle           uint8
	NumBis              uint8
	SduIntervalUs       uint32
	MaxSdu              uint16
	MaxTransportLatency uint16 // ms
	Rtn                 uint8
	Phy                 uint8
	Packing             uint8
	Framing             uint8
	Encrypted           bool
	BroadcastCode       [16]byte
}

// BigCreateComplete is the BIG-created completion event. ConnHandles holds
// one connection handle per BIS, in BIS index order.
type BigCreateComplete struct {
	Status             uint8
	BigID              uint8
	BigSyncDelayUs     uint32
	TransportLatencyUs uint32
	Phy                uint8
	Nse                uint8
	Bn                 uint8
	Pto                uint8
	Irc                uint8
	MaxPdu             uint16
	IsoInterval        uint16 // 1.25 ms units
	ConnHandles        []uint16
}

// BigTerminateComplete is the BIG-terminated completion event.
type BigTerminateComplete struct {
	BigID  uint8
	Reason uint8
}

// DataPathParams configures an ISO data path on one connection handle.
type DataPathParams struct {
	Direction         uint8
	DataPathID        uint8
	CodingFormat      uint8
	CompanyID         uint16
	VendorCodecID     uint16
	ControllerDelayUs uint32
	CodecConfig       []byte
}
