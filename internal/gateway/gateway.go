// Package gateway moves learner recordings and synthesized replies between
// the HTTP layer, the file system and the transcoder.
//
// Capabilities (live capture, transcoding) are resolved once in [New]. Every
// operation that depends on an optional capability has a defined fallback:
// a missing transcoder yields a [Notice], never an error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrNotReady reports that no input was supplied in this cycle. It is a
	// suspension signal, not a failure.
	ErrNotReady = errors.New("gateway: input not ready")

	// ErrUnsupportedFormat is returned for uploads whose container is not in
	// [audio.UploadContainers].
	ErrUnsupportedFormat = errors.New("gateway: unsupported audio format")

	// ErrCaptureUnavailable is returned for live-capture input when live
	// capture is disabled. The learner must upload a file instead.
	ErrCaptureUnavailable = errors.New("gateway: live capture unavailable")
)

// Source identifies how a recording was acquired.
type Source string

const (
	SourceUpload  Source = "upload"
	SourceCapture Source = "capture"
)

// ParseSource maps a request value to a [Source]. Empty means upload.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case "", SourceUpload:
		return SourceUpload, nil
	case SourceCapture:
		return SourceCapture, nil
	default:
		return "", fmt.Errorf("gateway: unknown source %q", s)
	}
}

// PendingInput is a recording supplied for a single cycle.
type PendingInput struct {
	Data     []byte
	Filename string
	Source   Source
}

// Capabilities are the optional features resolved at startup.
type Capabilities struct {
	LiveCapture bool `json:"live_capture"`
	Transcoding bool `json:"transcoding"`
}

// Artifact is an audio file written by the gateway.
type Artifact struct {
	// Name is the file name, unique per artifact.
	Name string `json:"name"`

	// Path is the absolute location on disk.
	Path string `json:"-"`

	// Container is the actual format on disk. It differs from the requested
	// format when transcoding fell back.
	Container audio.Container `json:"container"`

	// Speed is the playback multiplier baked into the file.
	Speed float64 `json:"speed"`
}

// ContentType returns the MIME type of the artifact's container.
func (a Artifact) ContentType() string { return a.Container.ContentType() }

// NoticeCode names a non-fatal degradation.
type NoticeCode string

// NoticeTranscodingDegraded reports that format or speed conversion was
// skipped and the original artifact is used.
const NoticeTranscodingDegraded NoticeCode = "transcoding_degraded"

// Notice is a non-fatal degradation surfaced to the learner.
type Notice struct {
	Code    NoticeCode `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

// Gateway owns the input and output audio directories.
type Gateway struct {
	inputDir   string
	outputDir  string
	transcoder audio.Transcoder
	caps       Capabilities
	metrics    *observe.Metrics
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithTranscoder sets the transcoder. Default: [audio.Unavailable].
func WithTranscoder(t audio.Transcoder) Option {
	return func(g *Gateway) { g.transcoder = t }
}

// WithLiveCapture enables acceptance of [SourceCapture] input.
func WithLiveCapture(enabled bool) Option {
	return func(g *Gateway) { g.caps.LiveCapture = enabled }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates both directories and resolves capabilities.
func New(inputDir, outputDir string, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		inputDir:   inputDir,
		outputDir:  outputDir,
		transcoder: audio.Unavailable{},
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("gateway: create %s: %w", dir, err)
		}
	}
	g.caps.Transcoding = g.transcoder.Available()
	if !g.caps.Transcoding {
		slog.Warn("audio transcoder unavailable, replies will keep their original format")
	}
	return g, nil
}

// Capabilities returns the capabilities resolved at startup.
func (g *Gateway) Capabilities() Capabilities { return g.caps }

// AcquireRecording validates in and writes it to a uniquely named file in
// the input directory. The caller owns the returned path and must delete it
// after transcription.
//
// Choosing live capture on a host without it yields [ErrCaptureUnavailable]
// whether or not bytes were sent. Otherwise a nil or empty input yields
// [ErrNotReady].
func (g *Gateway) AcquireRecording(ctx context.Context, in *PendingInput) (string, error) {
	if in != nil && in.Source == SourceCapture && !g.caps.LiveCapture {
		return "", ErrCaptureUnavailable
	}
	if in == nil || len(in.Data) == 0 {
		return "", ErrNotReady
	}

	var c audio.Container
	switch in.Source {
	case SourceCapture:
		// Capture widgets emit WAV unless they say otherwise.
		c = audio.WAV
		if in.Filename != "" {
			if fc, err := audio.ContainerFromPath(in.Filename); err == nil {
				c = fc
			}
		}
	default:
		fc, err := audio.ContainerFromPath(in.Filename)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(in.Filename))
		}
		c = fc
	}

	path := filepath.Join(g.inputDir, "input_"+uuid.NewString()+c.Ext())
	if err := os.WriteFile(path, in.Data, 0o600); err != nil {
		return "", fmt.Errorf("gateway: write recording: %w", err)
	}
	observe.Logger(ctx).Debug("recording acquired", "path", path, "source", in.Source, "bytes", len(in.Data))
	return path, nil
}

// SaveReply writes synthesized audio under owner's output directory,
// converting it to WAV when a transcoder is available. When conversion is
// unavailable or fails the original container is kept and a
// [NoticeTranscodingDegraded] is returned; the artifact's Container always
// matches what is on disk.
func (g *Gateway) SaveReply(ctx context.Context, owner string, data []byte, src audio.Container) (Artifact, []Notice, error) {
	var notices []Notice
	out, c := data, src
	if src != audio.WAV {
		converted, err := g.transcode(ctx, data, src, audio.WAV)
		if err != nil {
			notices = append(notices, g.degraded(ctx, fmt.Sprintf("reply kept as %s", src), err))
		} else {
			out, c = converted, audio.WAV
		}
	}

	a, err := g.write(owner, out, c, 1.0)
	if err != nil {
		return Artifact{}, notices, err
	}
	return a, notices, nil
}

// AdjustSpeed returns a copy of a played at speed times the original rate
// and discards a. A speed of 1 returns a unchanged. If the artifact cannot
// be decoded the original is returned together with a notice.
func (g *Gateway) AdjustSpeed(ctx context.Context, a Artifact, speed float64) (Artifact, []Notice, error) {
	if speed == 1.0 || speed == a.Speed {
		return a, nil, nil
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return a, nil, fmt.Errorf("gateway: read artifact: %w", err)
	}
	if a.Container != audio.WAV {
		data, err = g.transcode(ctx, data, a.Container, audio.WAV)
		if err != nil {
			return a, []Notice{g.degraded(ctx, "playback speed unchanged", err)}, nil
		}
	}
	faster, err := audio.ChangeSpeed(data, speed)
	if err != nil {
		return a, []Notice{g.degraded(ctx, "playback speed unchanged", err)}, nil
	}

	owner := filepath.Base(filepath.Dir(a.Path))
	adjusted, err := g.write(owner, faster, audio.WAV, speed)
	if err != nil {
		return a, nil, err
	}
	g.Discard(a)
	return adjusted, nil, nil
}

// Discard deletes a's file. Missing files are ignored.
func (g *Gateway) Discard(a Artifact) {
	if a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to delete audio artifact", "path", a.Path, "error", err)
	}
}

// DiscardOwner removes every artifact written for owner.
func (g *Gateway) DiscardOwner(owner string) {
	dir, err := g.ownerDir(owner)
	if err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to delete session audio", "owner", owner, "error", err)
	}
}

func (g *Gateway) transcode(ctx context.Context, data []byte, src, dst audio.Container) ([]byte, error) {
	if !g.caps.Transcoding {
		return nil, audio.ErrTranscoderUnavailable
	}
	ctx, span := observe.StartSpan(ctx, "gateway.transcode")
	start := time.Now()
	out, err := g.transcoder.Transcode(ctx, data, src, dst)
	g.metrics.TranscodeDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		observe.Attr("from", string(src)), observe.Attr("to", string(dst)),
	))
	observe.EndSpan(span, err)
	return out, err
}

func (g *Gateway) degraded(ctx context.Context, msg string, err error) Notice {
	observe.Logger(ctx).Warn("audio conversion degraded", "detail", msg, "error", err)
	g.metrics.RecordNotice(ctx, string(NoticeTranscodingDegraded))
	return Notice{Code: NoticeTranscodingDegraded, Message: msg, Err: err}
}

func (g *Gateway) ownerDir(owner string) (string, error) {
	if owner == "" || owner != filepath.Base(owner) || owner == "." || owner == ".." {
		return "", fmt.Errorf("gateway: invalid owner %q", owner)
	}
	return filepath.Join(g.outputDir, owner), nil
}

func (g *Gateway) write(owner string, data []byte, c audio.Container, speed float64) (Artifact, error) {
	dir, err := g.ownerDir(owner)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Artifact{}, fmt.Errorf("gateway: create output dir: %w", err)
	}
	name := "output_" + uuid.NewString() + c.Ext()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Artifact{}, fmt.Errorf("gateway: write artifact: %w", err)
	}
	return Artifact{Name: name, Path: path, Container: c, Speed: speed}, nil
}
