package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP control API configuration
type ServerConfig struct {
	Address         string `yaml:"address"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig contains UDP audio ingest configuration
type AudioConfig struct {
	ListenAddress    string  `yaml:"listen_address"`
	ReadBufferBytes  int     `yaml:"read_buffer_bytes"`
	QueueSize        int     `yaml:"queue_size"`
	BufferMaxMs      int     `yaml:"buffer_max_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SilenceHold      float64 `yaml:"silence_hold"` // seconds
	CaptureDir       string  `yaml:"capture_dir"`
}

// BroadcastConfig contains broadcast session parameters
type BroadcastConfig struct {
	Preset            string `yaml:"preset"`
	StreamingPhy      string `yaml:"streaming_phy"`
	PaIntervalMin     uint16 `yaml:"pa_interval_min"` // 1.25 ms units
	PaIntervalMax     uint16 `yaml:"pa_interval_max"` // 1.25 ms units
	CompletionDelayMs int    `yaml:"completion_delay_ms"`
}

// NotifyConfig contains webhook notification configuration
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
	QueueSize  int    `yaml:"queue_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Broadcast.Validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ListenAddress == "" {
		return fmt.Errorf("listen_address cannot be empty")
	}

	if a.ReadBufferBytes < 0 {
		return fmt.Errorf("read_buffer_bytes cannot be negative, got %d", a.ReadBufferBytes)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.BufferMaxMs < 20 {
		return fmt.Errorf("buffer_max_ms must be at least 20 ms, got %d", a.BufferMaxMs)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.SilenceHold <= 0 {
		return fmt.Errorf("silence_hold must be positive, got %f", a.SilenceHold)
	}

	return nil
}

// Validate validates broadcast configuration
func (b *BroadcastConfig) Validate() error {
	validPhys := map[string]bool{"": true, "1m": true, "2m": true, "coded": true}
	if !validPhys[b.StreamingPhy] {
		return fmt.Errorf("streaming_phy must be one of [1m, 2m, coded], got '%s'", b.StreamingPhy)
	}

	// A zero interval pair means the built-in defaults apply.
	if b.PaIntervalMin != 0 || b.PaIntervalMax != 0 {
		if b.PaIntervalMin < 0x0006 {
			return fmt.Errorf("pa_interval_min must be at least 0x0006, got 0x%04X", b.PaIntervalMin)
		}

		if b.PaIntervalMax < b.PaIntervalMin {
			return fmt.Errorf("pa_interval_max (0x%04X) must not be below pa_interval_min (0x%04X)",
				b.PaIntervalMax, b.PaIntervalMin)
		}
	}

	if b.CompletionDelayMs < 0 {
		return fmt.Errorf("completion_delay_ms cannot be negative, got %d", b.CompletionDelayMs)
	}

	return nil
}

// Validate validates notify configuration
func (n *NotifyConfig) Validate() error {
	if n.WebhookURL == "" {
		// Notifications are optional.
		return nil
	}

	if n.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", n.Timeout)
	}

	if n.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", n.MaxRetries)
	}

	if n.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", n.QueueSize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetShutdownTimeout returns the server shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetSilenceHold returns the silence hold window as a time.Duration
func (a *AudioConfig) GetSilenceHold() time.Duration {
	return time.Duration(a.SilenceHold * float64(time.Second))
}

// GetBufferMax returns the ring buffer capacity as a time.Duration
func (a *AudioConfig) GetBufferMax() time.Duration {
	return time.Duration(a.BufferMaxMs) * time.Millisecond
}

// GetCompletionDelay returns the virtual controller latency as a time.Duration
func (b *BroadcastConfig) GetCompletionDelay() time.Duration {
	return time.Duration(b.CompletionDelayMs) * time.Millisecond
}

// GetTimeout returns the webhook request timeout as a time.Duration
func (n *NotifyConfig) GetTimeout() time.Duration {
	return time.Duration(n.Timeout) * time.Second
}
