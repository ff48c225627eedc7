package source

import (
	"encoding/binary"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/config"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testAudioConfig() *config.AudioConfig {
	return &config.AudioConfig{
		ListenAddress:   "127.0.0.1:0",
		ReadBufferBytes: 65536,
		QueueSize:       64,
		BufferMaxMs:     500,
		// Threshold zero keeps the silence detector from ever tripping.
		SilenceThreshold: 0,
		SilenceHold:      60,
	}
}

func stereoFormat() broadcast.AudioFormat {
	return broadcast.AudioFormat{
		NumChannels:    2,
		SampleRateHz:   24000,
		BitsPerSample:  16,
		DataIntervalUs: 10000,
	}
}

// frameCollector records delivered frames.
type frameCollector struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *frameCollector) deliver(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, pcm)
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *frameCollector) frame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func startSource(t *testing.T, cfg *config.AudioConfig, format broadcast.AudioFormat) (*UDPSource, *frameCollector, *net.UDPConn) {
	t.Helper()

	src := NewUDPSource(cfg, testLogger(), nil)
	collector := &frameCollector{}

	require.NoError(t, src.Start(format, collector.deliver))
	t.Cleanup(src.Stop)

	addr := src.Addr()
	require.NotNil(t, addr)

	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return src, collector, conn
}

func TestFrameBytes(t *testing.T) {
	tests := []struct {
		name   string
		format broadcast.AudioFormat
		want   int
	}{
		{"mono 16 kHz", broadcast.AudioFormat{NumChannels: 1, SampleRateHz: 16000, BitsPerSample: 16, DataIntervalUs: 10000}, 320},
		{"stereo 24 kHz", broadcast.AudioFormat{NumChannels: 2, SampleRateHz: 24000, BitsPerSample: 16, DataIntervalUs: 10000}, 960},
		{"stereo 48 kHz", broadcast.AudioFormat{NumChannels: 2, SampleRateHz: 48000, BitsPerSample: 16, DataIntervalUs: 10000}, 1920},
		{"7.5 ms interval", broadcast.AudioFormat{NumChannels: 1, SampleRateHz: 16000, BitsPerSample: 16, DataIntervalUs: 7500}, 240},
		{"zero format", broadcast.AudioFormat{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frameBytes(tt.format))
		})
	}
}

func TestUDPSourceRejectsEmptyFormat(t *testing.T) {
	src := NewUDPSource(testAudioConfig(), testLogger(), nil)

	err := src.Start(broadcast.AudioFormat{}, func([]byte) {})
	require.Error(t, err)
	assert.Nil(t, src.Addr())
}

func TestUDPSourceDeliversFrames(t *testing.T) {
	_, collector, conn := startSource(t, testAudioConfig(), stereoFormat())

	frame := make([]byte, 960)
	for i := range frame {
		frame[i] = byte(i % 251)
	}

	_, err := conn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() >= 1 }, waitFor, tick)
	assert.Equal(t, frame, collector.frame(0))
}

func TestUDPSourceReframesSmallPackets(t *testing.T) {
	_, collector, conn := startSource(t, testAudioConfig(), stereoFormat())

	// Six 320-byte datagrams hold exactly two 960-byte frames.
	payload := make([]byte, 1920)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	for off := 0; off < len(payload); off += 320 {
		_, err := conn.Write(payload[off : off+320])
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return collector.count() >= 2 }, waitFor, tick)
	assert.Equal(t, payload[:960], collector.frame(0))
	assert.Equal(t, payload[960:1920], collector.frame(1))
}

func TestUDPSourceDropsMisalignedPackets(t *testing.T) {
	src, collector, conn := startSource(t, testAudioConfig(), stereoFormat())

	// Three bytes are not a whole stereo sample and must not enter the stream.
	_, err := conn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return src.GetStatistics().PacketsReceived >= 1
	}, waitFor, tick)

	frame := make([]byte, 960)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() >= 1 }, waitFor, tick)
	assert.Equal(t, frame, collector.frame(0))
}

func TestUDPSourceStatistics(t *testing.T) {
	src, collector, conn := startSource(t, testAudioConfig(), stereoFormat())

	_, err := conn.Write(make([]byte, 960))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return collector.count() >= 1 }, waitFor, tick)

	stats := src.GetStatistics()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(0), stats.PacketsDropped)
	assert.Equal(t, uint64(1), stats.FramesDelivered)

	src.Stop()
	assert.False(t, src.GetStatistics().Running)
}

func TestUDPSourceStopIdempotentAndRestartable(t *testing.T) {
	src := NewUDPSource(testAudioConfig(), testLogger(), nil)
	collector := &frameCollector{}

	require.NoError(t, src.Start(stereoFormat(), collector.deliver))
	require.Error(t, src.Start(stereoFormat(), collector.deliver), "second start must be refused")

	src.Stop()
	src.Stop()

	require.NoError(t, src.Start(stereoFormat(), collector.deliver))
	src.Stop()
}

func TestUDPSourceCaptureWritesWAV(t *testing.T) {
	cfg := testAudioConfig()
	cfg.CaptureDir = t.TempDir()

	src, collector, conn := startSource(t, cfg, stereoFormat())

	_, err := conn.Write(make([]byte, 960))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return collector.count() >= 1 }, waitFor, tick)

	src.Stop()

	// The capture is finalized when the delivery goroutine drains; the data
	// chunk size is backfilled last.
	var path string
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.CaptureDir)
		if err != nil || len(entries) != 1 {
			return false
		}
		path = filepath.Join(cfg.CaptureDir, entries[0].Name())
		data, err := os.ReadFile(path)
		return err == nil && len(data) == 44+960 &&
			binary.LittleEndian.Uint32(data[40:44]) == 960
	}, waitFor, tick)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".wav"))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(960), binary.LittleEndian.Uint32(data[40:44]))
}
