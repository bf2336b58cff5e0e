package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrTranscoderUnavailable signals that no transcoding capability is present.
// Callers treat it as a fallback trigger, never as a hard failure.
var ErrTranscoderUnavailable = errors.New("audio: transcoder unavailable")

// Transcoder converts audio payloads between containers.
//
// Available is resolved once at construction time. Implementations must be
// safe for concurrent use.
type Transcoder interface {
	// Available reports whether Transcode can be expected to work.
	Available() bool

	// Transcode decodes data from src and re-encodes it as dst.
	Transcode(ctx context.Context, data []byte, src, dst Container) ([]byte, error)
}

// Unavailable is a [Transcoder] that never transcodes.
type Unavailable struct{}

var _ Transcoder = Unavailable{}

// Available always returns false.
func (Unavailable) Available() bool { return false }

// Transcode always returns [ErrTranscoderUnavailable].
func (Unavailable) Transcode(context.Context, []byte, Container, Container) ([]byte, error) {
	return nil, ErrTranscoderUnavailable
}

// FFmpeg transcodes by piping audio through an ffmpeg process.
type FFmpeg struct {
	path string
}

var _ Transcoder = (*FFmpeg)(nil)

// NewFFmpeg resolves the ffmpeg binary. An empty bin searches $PATH for
// "ffmpeg". When the binary cannot be found the returned transcoder reports
// Available() == false.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return &FFmpeg{}
	}
	return &FFmpeg{path: path}
}

// Available reports whether an ffmpeg binary was found.
func (f *FFmpeg) Available() bool { return f.path != "" }

// Path returns the resolved binary path, or "" when unavailable.
func (f *FFmpeg) Path() string { return f.path }

// Transcode implements [Transcoder]. WAV output is forced to 16-bit PCM so
// [DecodeWAV] can read it.
func (f *FFmpeg) Transcode(ctx context.Context, data []byte, src, dst Container) ([]byte, error) {
	if !f.Available() {
		return nil, ErrTranscoderUnavailable
	}
	if src == dst {
		return data, nil
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", demuxerName(src), "-i", "pipe:0"}
	if dst == WAV {
		args = append(args, "-acodec", "pcm_s16le")
	}
	args = append(args, "-f", muxerName(dst), "pipe:1")

	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg %s->%s: %w: %s", src, dst, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("audio: ffmpeg %s->%s produced no output", src, dst)
	}
	return stdout.Bytes(), nil
}

func demuxerName(c Container) string {
	if c == M4A {
		return "mov"
	}
	return string(c)
}

func muxerName(c Container) string {
	if c == M4A {
		return "ipod"
	}
	return string(c)
}
