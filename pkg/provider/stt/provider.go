// Package stt defines the Provider interface for batch speech-to-text backends.
//
// A provider receives one complete recording and returns one transcript.
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Request is a single transcription job.
type Request struct {
	// Audio is the full encoded recording.
	Audio []byte

	// Filename is forwarded to providers that infer the format from it.
	Filename string

	// Container is the recording's container format.
	Container audio.Container

	// Language is the BCP-47 language hint (e.g. "en"). Empty lets the
	// provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends req to the backend and waits for the transcript.
	// Network, authentication, and quota failures are returned as errors.
	Transcribe(ctx context.Context, req Request) (types.Transcript, error)
}
