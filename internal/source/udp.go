package source

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/broadcast"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/config"
	"github.com/LineageOS/android-packages-modules-Bluetooth-sub002/internal/metrics"
)

// UDPSource feeds broadcast audio from a UDP PCM stream. Senders transmit
// interleaved little-endian 16-bit samples matching the active broadcast
// configuration; the source reframes arbitrary datagram sizes into one
// SDU-interval frame per delivery.
type UDPSource struct {
	config  *config.AudioConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	session *session

	// Statistics
	packetsReceived uint64
	packetsDropped  uint64
	framesDelivered uint64
	statsMu         sync.RWMutex
}

// session is one Start/Stop cycle. Stop only cancels the session; its
// goroutines drain on their own, so Stop never blocks behind an in-flight
// delivery.
type session struct {
	conn    *net.UDPConn
	ctx     context.Context
	cancel  context.CancelFunc
	packets chan []byte
}

// SourceStatistics is a snapshot of ingest counters.
type SourceStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	FramesDelivered uint64 `json:"frames_delivered"`
	Running         bool   `json:"running"`
}

var _ broadcast.AudioSource = (*UDPSource)(nil)

// NewUDPSource creates a UDP audio source with the given configuration.
// Metrics may be nil.
func NewUDPSource(cfg *config.AudioConfig, logger *slog.Logger, m *metrics.Metrics) *UDPSource {
	return &UDPSource{
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// Start binds the ingest socket and begins delivering frames of the given
// layout. deliver is called from a dedicated goroutine, one complete frame
// per call, never from within Start itself.
func (s *UDPSource) Start(format broadcast.AudioFormat, deliver func(pcm []byte)) error {
	frameSize := frameBytes(format)
	if frameSize == 0 {
		return fmt.Errorf("audio format yields empty frames: %d Hz, %d channels, %d us interval",
			format.SampleRateHz, format.NumChannels, format.DataIntervalUs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return fmt.Errorf("audio source already started")
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.config.ListenAddress, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address %s: %w", s.config.ListenAddress, err)
	}

	if s.config.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferBytes); err != nil {
			s.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("requested_size", s.config.ReadBufferBytes),
				slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		packets: make(chan []byte, s.config.QueueSize),
	}
	s.session = sess

	var capture *Capture
	if s.config.CaptureDir != "" {
		capture, err = s.openCapture(format)
		if err != nil {
			s.logger.Warn("Audio capture disabled",
				slog.String("error", err.Error()))
		}
	}

	go s.receiveLoop(sess)
	go s.deliverLoop(sess, format, frameSize, deliver, capture)

	s.logger.Info("UDP audio source started",
		slog.String("listen_address", conn.LocalAddr().String()),
		slog.Int("frame_bytes", frameSize),
		slog.Int("sample_rate", int(format.SampleRateHz)),
		slog.Int("channels", int(format.NumChannels)))

	return nil
}

// Stop ceases delivery. It only signals the session to end and never waits
// for an in-flight delivery to return, so callers may hold locks that the
// delivery path also takes. Stopping a stopped source is a no-op.
func (s *UDPSource) Stop() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}

	sess.cancel()
	sess.conn.Close()

	s.logger.Info("UDP audio source stopped")
}

// Addr returns the bound listen address, or nil when the source is stopped.
// Useful when the configured address carries port 0.
func (s *UDPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	return s.session.conn.LocalAddr()
}

// GetStatistics returns current ingest statistics.
func (s *UDPSource) GetStatistics() SourceStatistics {
	s.statsMu.RLock()
	stats := SourceStatistics{
		PacketsReceived: s.packetsReceived,
		PacketsDropped:  s.packetsDropped,
		FramesDelivered: s.framesDelivered,
	}
	s.statsMu.RUnlock()

	s.mu.Lock()
	stats.Running = s.session != nil
	s.mu.Unlock()

	return stats
}

// receiveLoop reads datagrams and queues them for framing. It owns the
// packets channel and closes it when the session ends.
func (s *UDPSource) receiveLoop(sess *session) {
	defer close(sess.packets)

	buf := make([]byte, 65536)
	for {
		select {
		case <-sess.ctx.Done():
			return
		default:
		}

		sess.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, _, err := sess.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if sess.ctx.Err() != nil {
				return
			}
			s.logger.Error("UDP read error",
				slog.String("error", err.Error()))
			continue
		}

		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		select {
		case sess.packets <- packet:
			s.statsMu.Lock()
			s.packetsReceived++
			s.statsMu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordPacketReceived()
			}
		default:
			s.statsMu.Lock()
			s.packetsDropped++
			s.statsMu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordPacketDropped()
			}
			s.logger.Warn("Packet queue full, dropping packet",
				slog.Int("size", n))
		}
	}
}

// deliverLoop reframes queued packets and hands complete frames downstream.
func (s *UDPSource) deliverLoop(sess *session, format broadcast.AudioFormat, frameSize int, deliver func(pcm []byte), capture *Capture) {
	defer func() {
		if capture == nil {
			return
		}
		if err := capture.Close(); err != nil {
			s.logger.Warn("Failed to finalize audio capture",
				slog.String("file", capture.Name()),
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("Audio capture written",
				slog.String("file", capture.Name()))
		}
	}()

	sampleBytes := int(format.NumChannels) * int(format.BitsPerSample) / 8
	maxBytes := int(format.SampleRateHz) * sampleBytes * s.config.BufferMaxMs / 1000

	buffer := NewBuffer(maxBytes, sampleBytes)
	meter := NewMeter(s.config.SilenceThreshold, s.config.GetSilenceHold())
	wasSilent := false

	for packet := range sess.packets {
		if len(packet)%sampleBytes != 0 {
			s.logger.Warn("Discarding misaligned packet",
				slog.Int("size", len(packet)),
				slog.Int("sample_bytes", sampleBytes))
			continue
		}

		if trimmed := buffer.Write(packet); trimmed > 0 {
			s.logger.Warn("Audio buffer overflow, trimming oldest audio",
				slog.Int("trimmed_bytes", trimmed))
		}

		for {
			frame := buffer.ReadFrame(frameSize)
			if frame == nil {
				break
			}

			if sess.ctx.Err() != nil {
				return
			}

			level := meter.Process(frame)
			if s.metrics != nil {
				s.metrics.SetInputLevel(level)
			}

			if silent := meter.Silent(); silent != wasSilent {
				wasSilent = silent
				if silent {
					s.logger.Warn("Audio input went silent",
						slog.Float64("threshold", s.config.SilenceThreshold))
				} else {
					s.logger.Info("Audio input signal restored",
						slog.Float64("level", level))
				}
			}

			if capture != nil {
				if err := capture.Write(frame); err != nil {
					s.logger.Warn("Audio capture write failed, disabling capture",
						slog.String("error", err.Error()))
					capture.Close()
					capture = nil
				}
			}

			deliver(frame)

			s.statsMu.Lock()
			s.framesDelivered++
			s.statsMu.Unlock()
		}

		if s.metrics != nil {
			s.metrics.SetSourceBufferBytes(buffer.Len())
		}
	}
}

// openCapture creates a timestamped WAV file in the configured capture
// directory.
func (s *UDPSource) openCapture(format broadcast.AudioFormat) (*Capture, error) {
	if err := os.MkdirAll(s.config.CaptureDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}

	name := fmt.Sprintf("broadcast_%d.wav", time.Now().UnixMilli())
	return NewCapture(filepath.Join(s.config.CaptureDir, name), format.NumChannels, format.SampleRateHz)
}

// frameBytes returns the size of one SDU-interval frame of interleaved PCM.
func frameBytes(format broadcast.AudioFormat) int {
	samples := int(format.SampleRateHz) * int(format.DataIntervalUs) / 1000000
	return samples * int(format.NumChannels) * int(format.BitsPerSample) / 8
}
