package announce

// dataWriter accumulates advertising payload bytes. Multi-octet values are
// little-endian. Length octets that cover data not yet written are reserved
// first and backfilled once the covered bytes are in place.
type dataWriter struct {
	buf []byte
}

func newDataWriter(capacity int) *dataWriter {
	return &dataWriter{buf: make([]byte, 0, capacity)}
}

func (w *dataWriter) writeUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *dataWriter) writeUint16(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

// writeUint24 writes the low three octets of v.
func (w *dataWriter) writeUint24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *dataWriter) writeBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// reserveLength appends a placeholder length octet and returns its offset
// for a later backfillLength call.
func (w *dataWriter) reserveLength() int {
	w.buf = append(w.buf, 0)
	return len(w.buf) - 1
}

// backfillLength sets the octet at offset to the number of bytes written
// after it.
func (w *dataWriter) backfillLength(offset int) {
	w.buf[offset] = byte(len(w.buf) - offset - 1)
}

func (w *dataWriter) len() int {
	return len(w.buf)
}

func (w *dataWriter) bytes() []byte {
	return w.buf
}
