package announce

// EncodeBasicAudioAnnouncement serializes the announcement body carried in
// periodic advertising service data.
// Layout:
//   - Presentation_Delay (3 bytes, little-endian, microseconds)
//   - Num_Subgroups (1 byte)
//   - per subgroup: Num_BIS (1 byte), Codec_ID (5 bytes: format, company,
//     vendor codec), Codec_Specific_Configuration_Length (1 byte) and value,
//     Metadata_Length (1 byte) and value, then per BIS: BIS_index (1 byte),
//     Codec_Specific_Configuration_Length (1 byte) and value.
func EncodeBasicAudioAnnouncement(a *BasicAudioAnnouncement) []byte {
	w := newDataWriter(16)
	w.writeUint24(a.PresentationDelayUs)
	w.writeUint8(uint8(len(a.Subgroups)))
	for i := range a.Subgroups {
		encodeSubgroup(w, &a.Subgroups[i])
	}
	return w.bytes()
}

func encodeSubgroup(w *dataWriter, s *Subgroup) {
	w.writeUint8(uint8(len(s.BisConfigs)))
	w.writeUint8(s.Codec.CodingFormat)
	w.writeUint16(s.Codec.VendorCompanyID)
	w.writeUint16(s.Codec.VendorCodecID)
	// Vendor codec bytes replace the structured parameters when present.
	if s.VendorCodecConfig != nil {
		w.writeUint8(uint8(len(s.VendorCodecConfig)))
		w.writeBytes(s.VendorCodecConfig)
	} else {
		writeLtv(w, s.CodecConfig.RawBytes())
	}
	writeLtv(w, s.Metadata.RawBytes())
	for i := range s.BisConfigs {
		w.writeUint8(s.BisConfigs[i].Index)
		writeLtv(w, s.BisConfigs[i].CodecConfig.RawBytes())
	}
}

// writeLtv writes a length octet followed by the raw LTV bytes. An empty
// map still gets its zero length octet.
func writeLtv(w *dataWriter, raw []byte) {
	w.writeUint8(uint8(len(raw)))
	w.writeBytes(raw)
}

// EncodeAdvertisingData serializes the extended advertising payload.
// Layout:
//   - Broadcast Audio Announcement: length 0x06, AD type 0x16, the 0x1852
//     service UUID (little-endian) and the 3-byte broadcast ID.
//   - for public broadcasts: a Public Broadcast Announcement structure
//     (AD type 0x16, service UUID 0x1856, features octet, metadata length
//     and metadata) with its length octet backfilled, followed by a
//     Broadcast_Name structure when the name is non-empty.
func EncodeAdvertisingData(broadcastID uint32, isPublic bool, name string, pub PublicBroadcastAnnouncement) []byte {
	w := newDataWriter(7 + 5 + pub.Metadata.Size() + 2 + len(name))
	w.writeUint8(6)
	w.writeUint8(ADTypeServiceData16)
	w.writeUint16(UUIDBroadcastAudioAnnouncement)
	w.writeUint24(broadcastID)
	if isPublic {
		at := w.reserveLength()
		w.writeUint8(ADTypeServiceData16)
		w.writeUint16(UUIDPublicBroadcastAnnouncement)
		w.writeUint8(pub.Features)
		writeLtv(w, pub.Metadata.RawBytes())
		w.backfillLength(at)
		if name != "" {
			w.writeUint8(uint8(len(name) + 1))
			w.writeUint8(ADTypeBroadcastName)
			w.writeBytes([]byte(name))
		}
	}
	return w.bytes()
}

// EncodePeriodicData serializes the periodic advertising payload: a single
// service data structure with the 0x1851 UUID wrapping the Basic Audio
// Announcement, its length octet backfilled after the body is written.
func EncodePeriodicData(a *BasicAudioAnnouncement) []byte {
	body := EncodeBasicAudioAnnouncement(a)
	w := newDataWriter(4 + len(body))
	at := w.reserveLength()
	w.writeUint8(ADTypeServiceData16)
	w.writeUint16(UUIDBasicAudioAnnouncement)
	w.writeBytes(body)
	w.backfillLength(at)
	return w.bytes()
}
