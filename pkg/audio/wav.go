package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrInvalidWAV is returned by [DecodeWAV] for payloads that are not 16-bit PCM
// RIFF/WAVE data.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// EncodeWAV wraps raw 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f PCMFormat) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV parses a RIFF/WAVE payload and returns its PCM data and format.
// Chunks other than "fmt " and "data" are skipped. Only uncompressed 16-bit
// PCM is supported.
func DecodeWAV(data []byte) ([]byte, PCMFormat, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, PCMFormat{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       PCMFormat
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Streaming encoders sometimes leave the data size unset.
			if id == "data" && haveFmt {
				return data[body:], f, nil
			}
			return nil, PCMFormat{}, fmt.Errorf("%w: chunk %q overruns payload", ErrInvalidWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, PCMFormat{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != bitsPerSample {
				return nil, PCMFormat{}, fmt.Errorf("%w: unsupported encoding (format=%d bits=%d)", ErrInvalidWAV, audioFormat, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, PCMFormat{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			return data[body : body+size], f, nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}
	return nil, PCMFormat{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}
