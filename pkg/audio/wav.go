package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the fixed size of the RIFF/WAVE header this package writes.
// Every multi-byte field is little-endian and lives at a fixed offset, so
// consumers may parse the header without a full RIFF chunk walk.
const HeaderSize = 44

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // data size + 36
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32  // SampleRate * NumChannels * 2
	BlockAlign    uint16  // NumChannels * 2
	BitsPerSample uint16  // 16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // PCM byte length
}

// EncodeWAV packages raw 16-bit little-endian PCM into a WAV container.
// The PCM payload is written verbatim after the 44-byte header.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("wav: cannot encode empty PCM payload")
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return nil, fmt.Errorf("wav: channel count must be positive, got %d", format.Channels)
	}
	if len(pcm)%(format.Channels*2) != 0 {
		return nil, fmt.Errorf("wav: PCM length %d is not frame-aligned for %d channels", len(pcm), format.Channels)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.Channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeHeader parses and validates the 44-byte WAV header, returning the
// declared format and PCM payload length without touching the audio data.
func DecodeHeader(data []byte) (Format, int, error) {
	if len(data) < HeaderSize {
		return Format{}, 0, fmt.Errorf("wav: data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return Format{}, 0, fmt.Errorf("wav: read header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return Format{}, 0, fmt.Errorf("wav: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("wav: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return Format{}, 0, fmt.Errorf("wav: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return Format{}, 0, fmt.Errorf("wav: missing data chunk")
	}
	if header.AudioFormat != 1 {
		return Format{}, 0, fmt.Errorf("wav: unsupported audio format %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return Format{}, 0, fmt.Errorf("wav: unsupported bit depth %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels == 0 {
		return Format{}, 0, fmt.Errorf("wav: zero channel count")
	}
	if header.SampleRate == 0 {
		return Format{}, 0, fmt.Errorf("wav: zero sample rate")
	}

	format := Format{
		SampleRate: int(header.SampleRate),
		Channels:   int(header.NumChannels),
	}
	return format, int(header.Subchunk2Size), nil
}

// DecodeWAV returns the raw PCM payload and its format. Any sample rate and
// channel count the header declares is accepted; only the 16-bit PCM encoding
// itself is required. The payload is clipped to the bytes actually present
// when the header over-declares (a file still being written).
func DecodeWAV(data []byte) ([]byte, Format, error) {
	format, dataSize, err := DecodeHeader(data)
	if err != nil {
		return nil, Format{}, err
	}

	avail := len(data) - HeaderSize
	if dataSize > avail {
		dataSize = avail
	}
	if dataSize <= 0 {
		return nil, Format{}, fmt.Errorf("wav: no audio data present")
	}

	// Truncate to whole frames.
	frameBytes := format.Channels * 2
	dataSize -= dataSize % frameBytes

	pcm := make([]byte, dataSize)
	copy(pcm, data[HeaderSize:HeaderSize+dataSize])
	return pcm, format, nil
}

// WAVDuration returns the audio duration declared by a WAV file's header.
func WAVDuration(data []byte) (time.Duration, error) {
	format, dataSize, err := DecodeHeader(data)
	if err != nil {
		return 0, err
	}
	seconds := float64(dataSize) / float64(format.BytesPerSecond())
	return time.Duration(seconds * float64(time.Second)), nil
}

// TrimTrailing returns the last window of PCM audio, in the stream's own
// format. When the stream is shorter than the window the whole stream is
// returned. The slice start is frame-aligned.
func TrimTrailing(pcm []byte, format Format, window time.Duration) []byte {
	bps := format.BytesPerSecond()
	if bps <= 0 || window <= 0 {
		return pcm
	}
	want := int(window.Seconds() * float64(bps))
	if want >= len(pcm) {
		return pcm
	}
	start := len(pcm) - want
	frameBytes := format.Channels * 2
	start -= start % frameBytes
	return pcm[start:]
}
