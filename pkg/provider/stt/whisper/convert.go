package whisper

import (
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// wavToSamples decodes a 16-bit PCM WAV payload into the 16 kHz mono float32
// samples whisper.cpp expects.
func wavToSamples(wav []byte) ([]float32, error) {
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("whisper: invalid channel count %d", f.Channels)
	}
	channels := f.Channels
	if channels == 2 {
		pcm = audio.StereoToMono(pcm)
		channels = 1
	}
	pcm = audio.Resample16(pcm, channels, f.SampleRate, defaultSampleRate)
	return pcmToFloat32Mono(pcm, channels), nil
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 in
// [-1.0, 1.0] by averaging all channels per frame.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:idx+2]))) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
