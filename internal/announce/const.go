package announce

// Advertising data structure types (Bluetooth Assigned Numbers, Core
// Specification Supplement).
const (
	ADTypeServiceData16 uint8 = 0x16 // Service Data - 16-bit UUID
	ADTypeBroadcastName uint8 = 0x30 // Broadcast_Name
)

// 16-bit service UUIDs defined by the Public Broadcast and Basic Audio
// profiles. Serialized little-endian inside service data structures.
const (
	UUIDBasicAudioAnnouncement      uint16 = 0x1851
	UUIDBroadcastAudioAnnouncement  uint16 = 0x1852
	UUIDPublicBroadcastAnnouncement uint16 = 0x1856
)

// Codec coding formats (Bluetooth Assigned Numbers, Host Controller
// Interface).
const (
	CodingFormatLC3            uint8 = 0x06
	CodingFormatVendorSpecific uint8 = 0xFF
)

// Codec_Specific_Configuration LTV types (Generic Audio assigned numbers).
const (
	CodecTypeSamplingFrequency      uint8 = 0x01
	CodecTypeFrameDuration          uint8 = 0x02
	CodecTypeAudioChannelAllocation uint8 = 0x03
	CodecTypeOctetsPerCodecFrame    uint8 = 0x04
	CodecTypeFrameBlocksPerSDU      uint8 = 0x05
)

// Sampling_Frequency values for CodecTypeSamplingFrequency.
const (
	SamplingFreq8000Hz  uint8 = 0x01
	SamplingFreq16000Hz uint8 = 0x03
	SamplingFreq24000Hz uint8 = 0x05
	SamplingFreq32000Hz uint8 = 0x06
	SamplingFreq44100Hz uint8 = 0x07
	SamplingFreq48000Hz uint8 = 0x08
)

// Frame_Duration values for CodecTypeFrameDuration.
const (
	FrameDuration7500Us  uint8 = 0x00
	FrameDuration10000Us uint8 = 0x01
)

// Audio_Channel_Allocation bits for CodecTypeAudioChannelAllocation.
// A zero allocation means mono with no fixed location.
const (
	AudioLocationNotAllowed uint32 = 0x00000000
	AudioLocationFrontLeft  uint32 = 0x00000001
	AudioLocationFrontRight uint32 = 0x00000002
)

// Metadata LTV types (Generic Audio assigned numbers).
const (
	MetadataTypePreferredAudioContext uint8 = 0x01
	MetadataTypeStreamingAudioContext uint8 = 0x02
	MetadataTypeProgramInfo           uint8 = 0x03
	MetadataTypeLanguage              uint8 = 0x04
	MetadataTypeCcidList              uint8 = 0x05
)

// Public Broadcast Announcement feature bits.
const (
	PublicFeatureEncrypted       uint8 = 0x01
	PublicFeatureStandardQuality uint8 = 0x02
	PublicFeatureHighQuality     uint8 = 0x04
)

// AudioContext is a bitmask of audio context types carried in announcement
// metadata and used to pick a broadcast configuration.
type AudioContext uint16

// Audio context type bits (Generic Audio assigned numbers).
const (
	ContextUnspecified    AudioContext = 0x0001
	ContextConversational AudioContext = 0x0002
	ContextMedia          AudioContext = 0x0004
	ContextGame           AudioContext = 0x0008
	ContextInstructional  AudioContext = 0x0010
	ContextVoiceAssistant AudioContext = 0x0020
	ContextLive           AudioContext = 0x0040
	ContextSoundEffects   AudioContext = 0x0080
	ContextNotifications  AudioContext = 0x0100
	ContextRingtone       AudioContext = 0x0200
	ContextAlerts         AudioContext = 0x0400
	ContextEmergencyAlarm AudioContext = 0x0800
)

// HasAny reports whether any bit of mask is set in c.
func (c AudioContext) HasAny(mask AudioContext) bool {
	return c&mask != 0
}

// Bytes returns the two-octet little-endian encoding used in metadata LTVs.
func (c AudioContext) Bytes() []byte {
	return []byte{byte(c), byte(c >> 8)}
}
