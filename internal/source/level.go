package source

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Meter tracks the RMS level of the PCM signal and flags sustained silence.
// Levels are normalized to 0.0-1.0 of int16 full scale and smoothed so a
// single quiet frame does not flap the silence state.
type Meter struct {
	threshold float64
	hold      time.Duration
	smoothing float64

	level    float64
	frames   uint64
	lastLoud time.Time
	silent   bool

	mu sync.Mutex
}

// NewMeter creates a level meter that reports silence once the smoothed level
// stays below threshold for the hold duration.
func NewMeter(threshold float64, hold time.Duration) *Meter {
	return &Meter{
		threshold: threshold,
		hold:      hold,
		smoothing: 0.25,
		lastLoud:  time.Now(),
	}
}

// Process folds one frame of little-endian 16-bit PCM into the meter and
// returns the smoothed level.
func (m *Meter) Process(pcm []byte) float64 {
	rms := rmsLevel(pcm)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frames == 0 {
		m.level = rms
	} else {
		m.level = m.smoothing*rms + (1-m.smoothing)*m.level
	}
	m.frames++

	now := time.Now()
	if m.level >= m.threshold {
		m.lastLoud = now
		m.silent = false
	} else if !m.silent && now.Sub(m.lastLoud) >= m.hold {
		m.silent = true
	}

	return m.level
}

// Level returns the current smoothed level.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Silent returns whether the signal has stayed below the threshold for at
// least the hold duration.
func (m *Meter) Silent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silent
}

// rmsLevel computes the RMS of little-endian 16-bit samples normalized to
// full scale.
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var energy float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(sample) / 32768.0
		energy += v * v
	}

	return math.Sqrt(energy / float64(n))
}
