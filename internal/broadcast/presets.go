package broadcast

import (
	"sort"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/announce"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/hci"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/ltv"
)

// QoS presets, named by retransmission number and max transport latency.
var (
	qos2_10 = QosConfig{RetransmissionNumber: 2, MaxTransportLatency: 10}
	qos4_50 = QosConfig{RetransmissionNumber: 4, MaxTransportLatency: 50}
	qos4_60 = QosConfig{RetransmissionNumber: 4, MaxTransportLatency: 60}
	qos4_65 = QosConfig{RetransmissionNumber: 4, MaxTransportLatency: 65}
)

// lc3Subgroup builds a subgroup in which every stream shares one LC3
// parameter set.
func lc3Subgroup(numBis, samplingFreq, frameDuration uint8, octetsPerFrame uint16) SubgroupConfig {
	return SubgroupConfig{
		Codec: announce.LC3,
		BisCodecConfigs: []BisCodecConfig{{
			NumBis: numBis,
			CodecSpecific: ltv.New().
				AddUint8(announce.CodecTypeSamplingFrequency, samplingFreq).
				AddUint8(announce.CodecTypeFrameDuration, frameDuration).
				AddUint16(announce.CodecTypeOctetsPerCodecFrame, octetsPerFrame),
		}},
		BitsPerSample: 16,
	}
}

// lc3DataPath is the transparent HCI data path all LC3 presets use: the
// host hands encoded SDUs to the controller, which forwards them untouched.
func lc3DataPath() DataPathConfig {
	return DataPathConfig{
		DataPathID: hci.DataPathHCI,
		IsoDataPath: IsoDataPathConfig{
			Codec:         announce.LC3,
			IsTransparent: true,
		},
	}
}

func lc3Config(subgroup SubgroupConfig, qos QosConfig, maxSduOctets uint16) Configuration {
	return Configuration{
		Subgroups:     []SubgroupConfig{subgroup},
		Qos:           qos,
		DataPath:      lc3DataPath(),
		SduIntervalUs: 10000,
		MaxSduOctets:  maxSduOctets,
		Phy:           hci.Phy2M,
		Packing:       0, // sequential
		Framing:       0, // unframed
	}
}

func presetMono16_2_1() Configuration {
	return lc3Config(lc3Subgroup(1, announce.SamplingFreq16000Hz, announce.FrameDuration10000Us, 40), qos2_10, 40)
}

func presetMono16_2_2() Configuration {
	return lc3Config(lc3Subgroup(1, announce.SamplingFreq16000Hz, announce.FrameDuration10000Us, 40), qos4_60, 40)
}

func presetStereo16_2_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq16000Hz, announce.FrameDuration10000Us, 40), qos4_60, 80)
}

func presetStereo24_2_1() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq24000Hz, announce.FrameDuration10000Us, 60), qos2_10, 120)
}

func presetStereo24_2_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq24000Hz, announce.FrameDuration10000Us, 60), qos4_60, 120)
}

func presetStereo48_1_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq48000Hz, announce.FrameDuration7500Us, 75), qos4_50, 150)
}

func presetStereo48_2_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq48000Hz, announce.FrameDuration10000Us, 100), qos4_65, 200)
}

func presetStereo48_3_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq48000Hz, announce.FrameDuration7500Us, 90), qos4_50, 180)
}

func presetStereo48_4_2() Configuration {
	return lc3Config(lc3Subgroup(2, announce.SamplingFreq48000Hz, announce.FrameDuration10000Us, 120), qos4_65, 240)
}

// presets maps BAP-style configuration names to builders. Each call returns
// a fresh Configuration so sessions never share mutable parameter maps.
var presets = map[string]func() Configuration{
	"lc3_mono_16_2_1":   presetMono16_2_1,
	"lc3_mono_16_2_2":   presetMono16_2_2,
	"lc3_stereo_16_2_2": presetStereo16_2_2,
	"lc3_stereo_24_2_1": presetStereo24_2_1,
	"lc3_stereo_24_2_2": presetStereo24_2_2,
	"lc3_stereo_48_1_2": presetStereo48_1_2,
	"lc3_stereo_48_2_2": presetStereo48_2_2,
	"lc3_stereo_48_3_2": presetStereo48_3_2,
	"lc3_stereo_48_4_2": presetStereo48_4_2,
}

// PresetByName looks a configuration up by its BAP-style name.
func PresetByName(name string) (Configuration, bool) {
	build, ok := presets[name]
	if !ok {
		return Configuration{}, false
	}
	return build(), true
}

// PresetNames returns the known configuration names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigForContext selects a configuration for an audio context mask.
// Latency-sensitive contexts get the low-retransmission variants, speech
// and alert contexts stay mono, media gets stereo with full reliability.
func ConfigForContext(ctx announce.AudioContext) Configuration {
	switch {
	case ctx.HasAny(announce.ContextGame | announce.ContextLive):
		return presetStereo24_2_1()
	case ctx.HasAny(announce.ContextInstructional):
		return presetMono16_2_1()
	case ctx.HasAny(announce.ContextSoundEffects | announce.ContextUnspecified):
		return presetStereo16_2_2()
	case ctx.HasAny(announce.ContextAlerts | announce.ContextNotifications | announce.ContextEmergencyAlarm):
		return presetMono16_2_2()
	case ctx.HasAny(announce.ContextMedia):
		return presetStereo24_2_2()
	default:
		return presetMono16_2_2()
	}
}

// DominantContext picks the single most significant context from a mixed
// mask, for decisions that need exactly one context type.
func DominantContext(ctx announce.AudioContext) announce.AudioContext {
	priority := []announce.AudioContext{
		announce.ContextLive,
		announce.ContextGame,
		announce.ContextMedia,
		announce.ContextEmergencyAlarm,
		announce.ContextAlerts,
		announce.ContextInstructional,
		announce.ContextNotifications,
		announce.ContextSoundEffects,
	}
	for _, c := range priority {
		if ctx.HasAny(c) {
			return c
		}
	}
	return announce.ContextMedia
}
