package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSpeed is returned by [ChangeSpeed] for non-positive or non-finite
// multipliers.
var ErrInvalidSpeed = errors.New("audio: speed must be a positive finite number")

// ChangeSpeed returns a WAV payload that plays speed times faster than the input.
//
// The samples are reinterpreted as if recorded at rate*speed and then resampled
// back to the original rate, so duration scales by 1/speed and pitch shifts with
// it. A speed of exactly 1.0 returns wav unchanged.
func ChangeSpeed(wav []byte, speed float64) ([]byte, error) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return nil, ErrInvalidSpeed
	}
	if speed == 1.0 {
		return wav, nil
	}

	pcm, f, err := DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("audio: change speed: %w", err)
	}
	relabelled := int(float64(f.SampleRate) * speed)
	if relabelled <= 0 {
		return nil, ErrInvalidSpeed
	}
	out := Resample16(pcm, f.Channels, relabelled, f.SampleRate)
	return EncodeWAV(out, f), nil
}
