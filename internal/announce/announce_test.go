package announce

import (
	"bytes"
	"testing"
)

func TestAnnouncementNumBis(t *testing.T) {
	a := &BasicAudioAnnouncement{
		Subgroups: []Subgroup{
			{BisConfigs: []BisConfig{{Index: 1}, {Index: 2}}},
			{BisConfigs: []BisConfig{{Index: 3}}},
		},
	}
	if got := a.NumBis(); got != 3 {
		t.Errorf("NumBis() = %d, expected 3", got)
	}

	empty := &BasicAudioAnnouncement{}
	if got := empty.NumBis(); got != 0 {
		t.Errorf("NumBis() = %d, expected 0", got)
	}
}

func TestCodecIDString(t *testing.T) {
	if got := LC3.String(); got != "LC3" {
		t.Errorf("String() = %q, expected %q", got, "LC3")
	}

	vendor := CodecID{CodingFormat: CodingFormatVendorSpecific, VendorCompanyID: 0x00e0, VendorCodecID: 0x0001}
	expected := "codec(format=0xff company=0x00e0 id=0x0001)"
	if got := vendor.String(); got != expected {
		t.Errorf("String() = %q, expected %q", got, expected)
	}
}

func TestAudioContext(t *testing.T) {
	ctx := ContextMedia | ContextLive

	if !ctx.HasAny(ContextLive) {
		t.Error("expected live context to be set")
	}
	if !ctx.HasAny(ContextGame | ContextLive) {
		t.Error("expected mask overlap to be detected")
	}
	if ctx.HasAny(ContextAlerts) {
		t.Error("alerts context should not be set")
	}

	if got := ctx.Bytes(); !bytes.Equal(got, []byte{0x44, 0x00}) {
		t.Errorf("Bytes() = %x, expected 4400", got)
	}
}
