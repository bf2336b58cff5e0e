package whisper

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPcmToFloat32Mono(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		channels int
		want     []float32
	}{
		{name: "empty", pcm: nil, channels: 1, want: nil},
		{name: "max negative", pcm: pcm16(-32768), channels: 1, want: []float32{-1.0}},
		{name: "mid positive", pcm: pcm16(16384), channels: 1, want: []float32{0.5}},
		{name: "stereo average", pcm: pcm16(16384, -16384, 16384, 16384), channels: 2, want: []float32{0, 0.5}},
		{name: "zero channels treated as mono", pcm: pcm16(16384), channels: 0, want: []float32{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pcmToFloat32Mono(tt.pcm, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d = %f; want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWavToSamples_ResamplesTo16k(t *testing.T) {
	wav := audio.EncodeWAV(make([]byte, 48000*2*2), audio.PCMFormat{SampleRate: 48000, Channels: 2})
	samples, err := wavToSamples(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 16000 {
		t.Errorf("samples: got %d, want 16000", len(samples))
	}
}

func TestWavToSamples_Invalid(t *testing.T) {
	if _, err := wavToSamples([]byte("ID3 not a wav")); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestWavToSamples_DownmixesStereo(t *testing.T) {
	pcm := pcm16(16384, 16384, 16384, -16384)
	wav := audio.EncodeWAV(pcm, audio.PCMFormat{SampleRate: defaultSampleRate, Channels: 2})
	samples, err := wavToSamples(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{0.5, 0}
	if len(samples) != len(want) {
		t.Fatalf("samples: got %d, want %d", len(samples), len(want))
	}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %f; want %f", i, samples[i], want[i])
		}
	}
}
