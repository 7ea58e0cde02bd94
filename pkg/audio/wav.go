// Package audio plays synthesized WAV artifacts through the system
// audio device.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format describes PCM audio parameters.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ErrNotWAV is returned when a file is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a WAV file")

// DecodeWAV parses a canonical WAV file and returns its format and raw
// PCM payload. Only uncompressed 16-bit PCM is supported, which is what
// every speech backend here produces.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var format Format
	var pcm []byte
	haveFmt := false

	// Walk the chunk list; fmt and data can appear in any order and
	// other chunks (LIST, fact) may sit between them.
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			// Tolerate a truncated final data chunk from a streaming
			// writer; anything else is corrupt.
			if chunkID == "data" {
				chunkSize = len(data) - body
			} else {
				return Format{}, nil, fmt.Errorf("audio: corrupt chunk %q", chunkID)
			}
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Format{}, nil, fmt.Errorf("audio: short fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported encoding %d, want PCM", audioFormat)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return Format{}, nil, fmt.Errorf("audio: missing fmt chunk")
	}
	if pcm == nil {
		return Format{}, nil, fmt.Errorf("audio: missing data chunk")
	}
	if format.BitsPerSample != 16 {
		return Format{}, nil, fmt.Errorf("audio: unsupported bit depth %d, want 16", format.BitsPerSample)
	}
	if format.Channels < 1 || format.Channels > 2 {
		return Format{}, nil, fmt.Errorf("audio: unsupported channel count %d", format.Channels)
	}
	return format, pcm, nil
}

// Duration returns the playback duration of a PCM payload in this
// format, in seconds.
func (f Format) Duration(pcmBytes int) float64 {
	bytesPerSecond := f.SampleRate * f.Channels * f.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(pcmBytes) / float64(bytesPerSecond)
}
