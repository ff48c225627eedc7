package broadcast

import (
	"math/bits"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
)

// BisCodecConfig is one distinct BIS configuration, applied to NumBis
// streams of a subgroup.
type BisCodecConfig struct {
	NumBis              uint8
	CodecSpecific       *ltv.Map
	VendorCodecSpecific []byte
}

// HasVendorCodecSpecific reports whether an opaque vendor parameter blob is
// attached.
func (c *BisCodecConfig) HasVendorCodecSpecific() bool {
	return c.VendorCodecSpecific != nil
}

// SamplingFrequencyHz decodes the sampling frequency parameter, 0 when
// unset or unknown.
func (c *BisCodecConfig) SamplingFrequencyHz() uint32 {
	v, ok := c.CodecSpecific.Find(announce.CodecTypeSamplingFrequency)
	if !ok || len(v) != 1 {
		return 0
	}
	return samplingFreqToHz(v[0])
}

// ChannelsPerBis counts the audio locations allocated to each stream. An
// absent or zero allocation means one channel.
func (c *BisCodecConfig) ChannelsPerBis() uint8 {
	v, ok := c.CodecSpecific.Find(announce.CodecTypeAudioChannelAllocation)
	if !ok || len(v) != 4 {
		return 1
	}
	allocation := uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
	if allocation == 0 {
		return 1
	}
	return uint8(bits.OnesCount32(allocation))
}

// NumChannels returns the channel count over all streams of this entry.
func (c *BisCodecConfig) NumChannels() uint8 {
	return c.NumBis * c.ChannelsPerBis()
}

// SubgroupConfig couples a codec with the BIS layout of one subgroup.
type SubgroupConfig struct {
	Codec           announce.CodecID
	BisCodecConfigs []BisCodecConfig
	// VendorCodecConfig is an opaque subgroup-level parameter blob. When
	// set it is serialized instead of the structured parameters.
	VendorCodecConfig []byte
	BitsPerSample     uint8
}

// CommonBisCodecData returns the codec parameters shared by every BIS
// configuration of the subgroup (the intersection of their LTVs).
func (s *SubgroupConfig) CommonBisCodecData() *ltv.Map {
	if len(s.BisCodecConfigs) == 0 {
		return ltv.New()
	}
	common := s.BisCodecConfigs[0].CodecSpecific.Clone()
	for i := 1; i < len(s.BisCodecConfigs); i++ {
		common = s.BisCodecConfigs[i].CodecSpecific.Intersection(common)
	}
	return common
}

// bisEntry picks the BIS configuration for a 0-based stream index. Indices
// past the configured entries fall back to the first entry.
func (s *SubgroupConfig) bisEntry(bisIdx uint8) *BisCodecConfig {
	if len(s.BisCodecConfigs) == 0 {
		return nil
	}
	if bisIdx != 0 && int(bisIdx) < len(s.BisCodecConfigs) {
		return &s.BisCodecConfigs[bisIdx]
	}
	return &s.BisCodecConfigs[0]
}

// BisVendorCodecData returns the vendor parameter blob for a stream, nil
// when the stream uses structured parameters.
func (s *SubgroupConfig) BisVendorCodecData(bisIdx uint8) []byte {
	entry := s.bisEntry(bisIdx)
	if entry == nil || !entry.HasVendorCodecSpecific() {
		return nil
	}
	return entry.VendorCodecSpecific
}

// BisCodecData returns the structured codec parameters for a stream, with
// front-left/front-right audio locations filled in for the first two
// streams when the allocation is not set. Returns nil for vendor-configured
// streams.
func (s *SubgroupConfig) BisCodecData(bisIdx uint8) *ltv.Map {
	entry := s.bisEntry(bisIdx)
	if entry == nil || entry.HasVendorCodecSpecific() {
		return nil
	}
	cfg := entry.CodecSpecific.Clone()
	if !cfg.Has(announce.CodecTypeAudioChannelAllocation) {
		switch bisIdx {
		case 0:
			cfg.AddUint32(announce.CodecTypeAudioChannelAllocation, announce.AudioLocationFrontLeft)
		case 1:
			cfg.AddUint32(announce.CodecTypeAudioChannelAllocation, announce.AudioLocationFrontRight)
		}
	}
	return cfg
}

// BisOctetsPerCodecFrame resolves the frame size for a stream: the
// subgroup-common value when present, otherwise the per-stream octet count
// multiplied by the codec frame blocks per SDU.
func (s *SubgroupConfig) BisOctetsPerCodecFrame(bisIdx uint8) uint16 {
	if octets := findUint16(s.CommonBisCodecData(), announce.CodecTypeOctetsPerCodecFrame); octets != 0 {
		return octets
	}
	cfg := s.BisCodecData(bisIdx)
	if cfg == nil {
		return 0
	}
	octets := findUint16(cfg, announce.CodecTypeOctetsPerCodecFrame)
	blocks := uint16(findUint8(cfg, announce.CodecTypeFrameBlocksPerSDU))
	return octets * blocks
}

// NumBis returns the stream count over all BIS configurations.
func (s *SubgroupConfig) NumBis() uint8 {
	var n uint8
	for i := range s.BisCodecConfigs {
		n += s.BisCodecConfigs[i].NumBis
	}
	return n
}

// NumChannelsTotal returns the channel count over all streams.
func (s *SubgroupConfig) NumChannelsTotal() uint8 {
	var n uint8
	for i := range s.BisCodecConfigs {
		n += s.BisCodecConfigs[i].NumChannels()
	}
	return n
}

// MaxSamplingFrequencyHz returns the highest sampling rate used by any
// stream of the subgroup.
func (s *SubgroupConfig) MaxSamplingFrequencyHz() uint32 {
	var best uint32
	for i := range s.BisCodecConfigs {
		if hz := s.BisCodecConfigs[i].SamplingFrequencyHz(); hz > best {
			best = hz
		}
	}
	return best
}

// QosConfig is the retransmission/latency pair of a configuration.
type QosConfig struct {
	RetransmissionNumber uint8
	MaxTransportLatency  uint16 // ms
}

// IsoDataPathConfig describes the codec placement on the ISO data path.
type IsoDataPathConfig struct {
	Codec             announce.CodecID
	IsTransparent     bool
	ControllerDelayUs uint32
	Configuration     []byte
}

// DataPathConfig selects and parameterizes the controller data path.
type DataPathConfig struct {
	DataPathID     uint8
	DataPathConfig []byte
	IsoDataPath    IsoDataPathConfig
}

// Configuration is everything needed to set up a BIG and its streams.
type Configuration struct {
	Subgroups     []SubgroupConfig
	Qos           QosConfig
	DataPath      DataPathConfig
	SduIntervalUs uint32
	MaxSduOctets  uint16
	Phy           uint8
	Packing       uint8
	Framing       uint8
}

// NumBisTotal returns the stream count over all subgroups.
func (c *Configuration) NumBisTotal() uint8 {
	var n uint8
	for i := range c.Subgroups {
		n += c.Subgroups[i].NumBis()
	}
	return n
}

// NumChannelsMax returns the largest per-subgroup channel total.
func (c *Configuration) NumChannelsMax() uint8 {
	var best uint8
	for i := range c.Subgroups {
		if n := c.Subgroups[i].NumChannelsTotal(); n > best {
			best = n
		}
	}
	return best
}

// MaxSamplingFrequencyHz returns the highest sampling rate across all
// subgroups.
func (c *Configuration) MaxSamplingFrequencyHz() uint32 {
	var best uint32
	for i := range c.Subgroups {
		if hz := c.Subgroups[i].MaxSamplingFrequencyHz(); hz > best {
			best = hz
		}
	}
	return best
}

// AudioFormat is the PCM layout the audio source must deliver for a
// configuration.
type AudioFormat struct {
	NumChannels    uint8
	SampleRateHz   uint32
	BitsPerSample  uint8
	DataIntervalUs uint32
}

// AudioFormat derives the source PCM layout: widest channel layout, highest
// sampling rate, 16-bit samples, one buffer per SDU interval.
func (c *Configuration) AudioFormat() AudioFormat {
	return AudioFormat{
		NumChannels:    c.NumChannelsMax(),
		SampleRateHz:   c.MaxSamplingFrequencyHz(),
		BitsPerSample:  16,
		DataIntervalUs: c.SduIntervalUs,
	}
}

// samplingFreqToHz maps a sampling frequency parameter value to Hertz.
func samplingFreqToHz(value uint8) uint32 {
	switch value {
	case announce.SamplingFreq8000Hz:
		return 8000
	case 0x02:
		return 11025
	case announce.SamplingFreq16000Hz:
		return 16000
	case 0x04:
		return 22050
	case announce.SamplingFreq24000Hz:
		return 24000
	case announce.SamplingFreq32000Hz:
		return 32000
	case announce.SamplingFreq44100Hz:
		return 44100
	case announce.SamplingFreq48000Hz:
		return 48000
	case 0x09:
		return 88200
	case 0x0a:
		return 96000
	case 0x0b:
		return 176400
	case 0x0c:
		return 192000
	case 0x0d:
		return 384000
	default:
		return 0
	}
}

func findUint8(m *ltv.Map, typ uint8) uint8 {
	v, ok := m.Find(typ)
	if !ok || len(v) != 1 {
		return 0
	}
	return v[0]
}

func findUint16(m *ltv.Map, typ uint8) uint16 {
	v, ok := m.Find(typ)
	if !ok || len(v) != 2 {
		return 0
	}
	return uint16(v[0]) | uint16(v[1])<<8
}
