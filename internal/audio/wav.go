// Package audio frames raw PCM returned by the realtime provider.
package audio

import (
	"encoding/binary"
	"time"
)

// Realtime provider output format: 16-bit little-endian mono at 24 kHz.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
)

// HeaderSize is the length of a canonical RIFF/WAVE header.
const HeaderSize = 44

// FrameWAV prefixes pcm with a canonical 44-byte RIFF/WAVE header.
// bitsPerSample must be a multiple of 8. pcm is copied, not modified.
func FrameWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, HeaderSize, HeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitsPerSample))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))

	return append(out, pcm...)
}

// FramePCM16 frames pcm in the realtime provider's native format.
func FramePCM16(pcm []byte) []byte {
	return FrameWAV(pcm, SampleRate, Channels, BitsPerSample)
}

// Duration returns how long pcmLen bytes play for in the given format.
func Duration(pcmLen, sampleRate, channels, bitsPerSample int) time.Duration {
	bytesPerSecond := sampleRate * channels * bitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(pcmLen) * int64(time.Second) / int64(bytesPerSecond))
}

// Format describes a PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseWAV walks the RIFF chunks of data and returns the PCM payload of the
// data chunk with the format from the fmt chunk. ok is false when data is not
// an uncompressed RIFF/WAVE file; callers then treat data as raw PCM.
func ParseWAV(data []byte) (pcm []byte, format Format, ok bool) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, false
	}
	haveFormat := false
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Streaming recorders leave the data size unset; take the rest.
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 || binary.LittleEndian.Uint16(data[body:body+2]) != 1 {
				return nil, Format{}, false
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, Format{}, false
			}
			return data[body:end], format, true
		}
		// Chunks are word aligned.
		off = end + size%2
	}
	return nil, Format{}, false
}
