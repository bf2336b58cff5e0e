package audio_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestChangeSpeed(t *testing.T) {
	f := audio.PCMFormat{SampleRate: 24000, Channels: 1}
	wav := audio.EncodeWAV(make([]byte, 24000*2), f)

	tests := []struct {
		speed      float64
		wantFrames int
	}{
		{speed: 2.0, wantFrames: 12000},
		{speed: 0.5, wantFrames: 48000},
		{speed: 1.5, wantFrames: 16000},
		{speed: 0.8, wantFrames: 30000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("speed %.1f", tt.speed), func(t *testing.T) {
			out, err := audio.ChangeSpeed(wav, tt.speed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			pcm, gotFormat, err := audio.DecodeWAV(out)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotFormat != f {
				t.Errorf("format changed: got %s, want %s", gotFormat, f)
			}
			if got := len(pcm) / 2; got != tt.wantFrames {
				t.Errorf("speed %.1f: got %d frames, want %d", tt.speed, got, tt.wantFrames)
			}
		})
	}
}

func TestChangeSpeed_Unity(t *testing.T) {
	wav := audio.EncodeWAV(samplesToBytes([]int16{1, 2, 3}), audio.PCMFormat{SampleRate: 8000, Channels: 1})
	out, err := audio.ChangeSpeed(wav, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, wav) {
		t.Error("speed 1.0 should return input unchanged")
	}
}

func TestChangeSpeed_Errors(t *testing.T) {
	wav := audio.EncodeWAV(nil, audio.PCMFormat{SampleRate: 8000, Channels: 1})
	for _, speed := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := audio.ChangeSpeed(wav, speed); !errors.Is(err, audio.ErrInvalidSpeed) {
			t.Errorf("speed %v: got err %v, want ErrInvalidSpeed", speed, err)
		}
	}
	if _, err := audio.ChangeSpeed([]byte("not a wav"), 2.0); !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("got err %v, want ErrInvalidWAV", err)
	}
}
