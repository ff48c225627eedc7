package announce

import (
	"fmt"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
)

// CodecID identifies the codec of a subgroup. For LC3 the vendor fields are
// zero; for vendor codecs CodingFormat is CodingFormatVendorSpecific and the
// company and codec identifiers are set.
type CodecID struct {
	CodingFormat    uint8
	VendorCompanyID uint16
	VendorCodecID   uint16
}

// LC3 is the codec identifier used by all non-offloaded configurations.
var LC3 = CodecID{CodingFormat: CodingFormatLC3}

func (c CodecID) String() string {
	if c.CodingFormat == CodingFormatLC3 {
		return "LC3"
	}
	return fmt.Sprintf("codec(format=0x%02x company=0x%04x id=0x%04x)",
		c.CodingFormat, c.VendorCompanyID, c.VendorCodecID)
}

// BisConfig is the per-stream entry of a subgroup. Index is the BIS index,
// counted from 1 across the whole BIG. VendorCodecConfig is carried for
// offload sessions but is not part of the wire format.
type BisConfig struct {
	Index             uint8
	CodecConfig       *ltv.Map
	VendorCodecConfig []byte
}

// Subgroup groups streams that share a codec configuration and metadata.
// When VendorCodecConfig is set it replaces the structured CodecConfig in
// the serialized form.
type Subgroup struct {
	Codec             CodecID
	CodecConfig       *ltv.Map
	VendorCodecConfig []byte
	Metadata          *ltv.Map
	BisConfigs        []BisConfig
}

// NumBis returns the number of streams in the subgroup.
func (s *Subgroup) NumBis() int {
	return len(s.BisConfigs)
}

// BasicAudioAnnouncement is the payload of the periodic advertising train.
// It tells scanners how the broadcast audio is encoded and grouped.
type BasicAudioAnnouncement struct {
	PresentationDelayUs uint32
	Subgroups           []Subgroup
}

// NumBis returns the total number of streams across all subgroups.
func (a *BasicAudioAnnouncement) NumBis() int {
	n := 0
	for i := range a.Subgroups {
		n += a.Subgroups[i].NumBis()
	}
	return n
}

// PublicBroadcastAnnouncement is the optional service data structure that
// marks a broadcast as public and describes its quality and encryption.
type PublicBroadcastAnnouncement struct {
	Features uint8
	Metadata *ltv.Map
}
