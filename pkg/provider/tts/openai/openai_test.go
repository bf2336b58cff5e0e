package openai

import (
	"context"
	"testing"

	"github.com/MrWong99/parley/pkg/types"
)

func TestBuildParams_DefaultVoice(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := p.buildParams("Hello there", types.VoiceProfile{})
	if string(params.Voice) != DefaultVoice {
		t.Errorf("voice: got %q, want %q", params.Voice, DefaultVoice)
	}
	if string(params.Model) != DefaultModel {
		t.Errorf("model: got %q, want %q", params.Model, DefaultModel)
	}
	if params.Input != "Hello there" {
		t.Errorf("input: got %q", params.Input)
	}

	params = p.buildParams("Hi", types.VoiceProfile{ID: "nova"})
	if string(params.Voice) != "nova" {
		t.Errorf("voice: got %q, want nova", params.Voice)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestListVoices(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, v := range voices {
		if v.Provider != "openai" {
			t.Errorf("voice %q: provider %q", v.ID, v.Provider)
		}
		if v.ID == DefaultVoice {
			found = true
		}
	}
	if !found {
		t.Errorf("default voice %q missing from catalogue", DefaultVoice)
	}
}
