package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMFormat describes the sample rate and channel count of signed 16-bit
// little-endian PCM data.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "24000Hz mono".
func (f PCMFormat) String() string {
	switch {
	case f.Channels == 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// frameSize returns the number of bytes in one interleaved sample frame.
func (f PCMFormat) frameSize() int { return 2 * f.Channels }

// StereoToMono averages L+R per stereo frame and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, (l+r)/2)
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count from
// srcRate to dstRate using linear interpolation per channel. Non-positive rates
// or equal rates return pcm unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := 2 * channels
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, n int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[n*2:]))
}

func putSample(pcm []byte, n int, v int32) {
	binary.LittleEndian.PutUint16(pcm[n*2:], uint16(clamp16(v)))
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
