// Package broadcast implements broadcast audio source sessions. A manager
// owns per-broadcast state machines that drive announcement bring-up, BIG
// creation and sequential ISO data path setup, selects codec configurations
// from streaming contexts or named presets, and fans interleaved PCM out to
// the active streams.
package broadcast
