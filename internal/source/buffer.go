package source

import "sync"

// Buffer accumulates raw PCM bytes between packet arrival and frame delivery.
// When more than max bytes are held the oldest audio is trimmed away, keeping
// delivery near real time at the cost of a dropout. Trimming happens in
// multiples of align so sample and channel interleaving stay intact.
type Buffer struct {
	data    []byte
	max     int
	align   int
	trimmed uint64

	mu sync.Mutex
}

// NewBuffer creates a PCM buffer holding at most max bytes. align is the size
// of one interleaved sample across all channels.
func NewBuffer(max, align int) *Buffer {
	if align < 1 {
		align = 1
	}
	return &Buffer{
		data:  make([]byte, 0, max),
		max:   max,
		align: align,
	}
}

// Write appends PCM bytes, discarding the oldest audio when the buffer would
// exceed its capacity. It returns the number of bytes trimmed.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)

	over := len(b.data) - b.max
	if over <= 0 {
		return 0
	}

	if r := over % b.align; r != 0 {
		over += b.align - r
	}
	if over > len(b.data) {
		over = len(b.data)
	}

	copy(b.data, b.data[over:])
	b.data = b.data[:len(b.data)-over]
	b.trimmed += uint64(over)

	return over
}

// ReadFrame removes and returns exactly n bytes of the oldest audio, or nil
// when fewer than n bytes are buffered.
func (b *Buffer) ReadFrame(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.data) < n {
		return nil
	}

	frame := make([]byte, n)
	copy(frame, b.data[:n])
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]

	return frame
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Trimmed returns the total number of bytes discarded by overflow trimming.
func (b *Buffer) Trimmed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trimmed
}

// Reset discards all buffered audio.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
