package audio

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnknownContainer is returned when a file extension does not map to any
// known audio container.
var ErrUnknownContainer = errors.New("audio: unknown container")

// Container identifies an audio file container format by its canonical
// extension (without the leading dot).
type Container string

const (
	WAV Container = "wav"
	MP3 Container = "mp3"
	M4A Container = "m4a"
	OGG Container = "ogg"
)

// UploadContainers lists the containers accepted for learner recordings.
var UploadContainers = []Container{WAV, MP3, M4A, OGG}

// IsValid reports whether c is a recognised container.
func (c Container) IsValid() bool {
	switch c {
	case WAV, MP3, M4A, OGG:
		return true
	}
	return false
}

// Ext returns the file extension for c including the leading dot.
func (c Container) Ext() string { return "." + string(c) }

// ContentType returns the MIME type used when serving a file of this container.
func (c Container) ContentType() string {
	switch c {
	case WAV:
		return "audio/wav"
	case MP3:
		return "audio/mpeg"
	case M4A:
		return "audio/mp4"
	case OGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// ContainerFromPath derives the container from the extension of name. The
// match is case-insensitive. Unknown extensions yield [ErrUnknownContainer].
func ContainerFromPath(name string) (Container, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	c := Container(ext)
	if !c.IsValid() {
		return "", ErrUnknownContainer
	}
	return c, nil
}
