package source

import (
	"encoding/binary"
	"fmt"
	"os"
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Capture writes delivered PCM frames to a WAV file for debugging. The size
// fields in the header are backfilled on Close, so an interrupted capture
// needs repair before standard tools accept it.
type Capture struct {
	file      *os.File
	dataBytes uint32
}

// NewCapture creates path and writes a WAV header for interleaved 16-bit PCM
// with the given layout.
func NewCapture(path string, numChannels uint8, sampleRateHz uint32) (*Capture, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(numChannels),
		SampleRate:    sampleRateHz,
		ByteRate:      sampleRateHz * uint32(numChannels) * 2,
		BlockAlign:    uint16(numChannels) * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: 0,
	}

	if err := binary.Write(file, binary.LittleEndian, header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &Capture{file: file}, nil
}

// Write appends PCM bytes to the capture file.
func (c *Capture) Write(pcm []byte) error {
	n, err := c.file.Write(pcm)
	c.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write capture data: %w", err)
	}
	return nil
}

// Name returns the path of the capture file.
func (c *Capture) Name() string {
	return c.file.Name()
}

// Close backfills the RIFF and data chunk sizes and closes the file.
func (c *Capture) Close() error {
	defer c.file.Close()

	var sizes [4]byte

	binary.LittleEndian.PutUint32(sizes[:], 36+c.dataBytes)
	if _, err := c.file.WriteAt(sizes[:], 4); err != nil {
		return fmt.Errorf("failed to backfill RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(sizes[:], c.dataBytes)
	if _, err := c.file.WriteAt(sizes[:], 40); err != nil {
		return fmt.Errorf("failed to backfill data size: %w", err)
	}

	return nil
}
