// Package source feeds broadcast audio from a UDP PCM ingest socket.
// It reframes arbitrary datagram sizes into fixed SDU-interval frames, trims
// its buffer under overflow to stay near real time, tracks the input signal
// level with a silence detector, and optionally captures the outgoing audio
// to WAV files for debugging.
package source
