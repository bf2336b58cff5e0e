package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/types"
)

// ContextEntries is the number of recent free-conversation log entries sent
// as completion context.
const ContextEntries = 10

// NoticeNoSpeech reports a recording whose transcript was empty.
const NoticeNoSpeech gateway.NoticeCode = "no_speech"

// AudioGateway acquires recordings and stores rendered audio.
type AudioGateway interface {
	AcquireRecording(ctx context.Context, in *gateway.PendingInput) (string, error)
	SaveReply(ctx context.Context, owner string, data []byte, src audio.Container) (gateway.Artifact, []gateway.Notice, error)
	AdjustSpeed(ctx context.Context, a gateway.Artifact, speed float64) (gateway.Artifact, []gateway.Notice, error)
	Discard(a gateway.Artifact)
}

// SpeechBridge wraps the remote speech services.
type SpeechBridge interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
}

// ResponseGenerator produces tutor text.
type ResponseGenerator interface {
	Converse(ctx context.Context, level, input string, history []types.Message) string
	GenerateProblem(ctx context.Context, level string) (string, error)
	GenerateEvaluation(ctx context.Context, reference, answer string) string
}

// Input is everything the learner supplied in one cycle. Nil pointers leave
// the corresponding setting unchanged.
type Input struct {
	Mode            *Mode
	Speed           *float64
	Level           *Level
	ShowTranslation *bool

	// Start sets the session active.
	Start bool

	// NextRound asks for a new practice round once the previous one is done.
	NextRound bool

	// Reset clears the session; every other field is ignored.
	Reset bool

	// Recording is the learner's audio for this cycle, if any.
	Recording *gateway.PendingInput

	// Answer is the typed dictation answer, if any.
	Answer string
}

// Status is the outcome of a cycle.
type Status string

const (
	// StatusIdle means the session is not active and nothing ran.
	StatusIdle Status = "idle"

	// StatusReset means the session was cleared.
	StatusReset Status = "reset"

	// StatusAwaitingRecording means the cycle suspended waiting for audio.
	StatusAwaitingRecording Status = "awaiting_recording"

	// StatusAwaitingAnswer means the cycle suspended waiting for a typed answer.
	StatusAwaitingAnswer Status = "awaiting_answer"

	// StatusReplied means a free-conversation turn completed.
	StatusReplied Status = "replied"

	// StatusRoundCompleted means a practice round was evaluated.
	StatusRoundCompleted Status = "round_completed"

	// StatusAwaitingNextRound means the last round is done and the learner
	// has not asked for another.
	StatusAwaitingNextRound Status = "awaiting_next_round"
)

// Result describes what a cycle did.
type Result struct {
	Status Status
	Mode   Mode

	// Audio is the artifact to play: the reply or the current problem.
	Audio *gateway.Artifact

	// Appended holds the log entries added by this cycle.
	Appended []Message

	Notices []gateway.Notice
}

// Orchestrator advances sessions. It holds no per-session state and is safe
// for concurrent use on distinct sessions.
type Orchestrator struct {
	gateway AudioGateway
	speech  SpeechBridge
	tutor   ResponseGenerator
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an [Orchestrator].
func NewOrchestrator(g AudioGateway, sp SpeechBridge, t ResponseGenerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{gateway: g, speech: sp, tutor: t, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// NewSession creates a session stamped with the orchestrator's clock.
func (o *Orchestrator) NewSession(id string) *Session {
	return New(id, o.now())
}

// Cycle runs one interaction cycle against s.
//
// Settings and mode selection are applied first; a mode change resets all
// progress. If the session is active the current mode's pipeline then runs
// until it completes or suspends for input. Suspension is reported through
// the status, never as an error. Errors leave the round where it was, so
// the learner can retry the same action.
func (o *Orchestrator) Cycle(ctx context.Context, s *Session, in Input) (res Result, err error) {
	ctx, span := observe.StartSpan(ctx, "session.cycle",
		trace.WithAttributes(attribute.String("session.id", s.ID)))
	start := time.Now()
	defer func() {
		status := string(res.Status)
		if err != nil {
			status = "error"
		}
		span.SetAttributes(attribute.String("session.mode", string(s.Mode)), attribute.String("cycle.status", status))
		o.metrics.RecordCycle(ctx, string(s.Mode), status, time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	if in.Reset {
		o.discard(s.Reset())
		s.UpdatedAt = o.now()
		return Result{Status: StatusReset, Mode: s.Mode}, nil
	}
	if err := validate(s, in); err != nil {
		return Result{Mode: s.Mode}, err
	}

	if in.Speed != nil {
		s.Speed = *in.Speed
	}
	if in.Level != nil {
		s.Level = *in.Level
	}
	if in.ShowTranslation != nil {
		s.ShowTranslation = *in.ShowTranslation
	}
	if in.Mode != nil {
		o.discard(s.SwitchMode(*in.Mode))
	}
	if in.Start {
		s.Active = true
	}
	s.UpdatedAt = o.now()

	if !s.Active {
		return Result{Status: StatusIdle, Mode: s.Mode}, nil
	}
	if s.Mode == ModeFreeConversation {
		res, err = o.conversation(ctx, s, in)
	} else {
		res, err = o.practice(ctx, s, in)
	}
	res.Mode = s.Mode
	return res, err
}

// validate checks in against s without modifying anything.
func validate(s *Session, in Input) error {
	if in.Mode != nil && !slices.Contains(Modes, *in.Mode) {
		return &ValidationError{Field: "mode", Reason: "unknown mode " + string(*in.Mode)}
	}
	if in.Level != nil && !slices.Contains(Levels, *in.Level) {
		return &ValidationError{Field: "level", Reason: "unknown level " + string(*in.Level)}
	}
	if in.Speed != nil {
		if err := ValidateSpeed(*in.Speed); err != nil {
			return err
		}
	}
	if strings.TrimSpace(in.Answer) != "" {
		switching := in.Mode != nil && *in.Mode != s.Mode
		if switching || s.Mode != ModeDictation || !s.AnswerChannelOpen {
			return ErrAnswerChannelClosed
		}
	}
	return nil
}

func (o *Orchestrator) conversation(ctx context.Context, s *Session, in Input) (Result, error) {
	path, err := o.gateway.AcquireRecording(ctx, in.Recording)
	if errors.Is(err, gateway.ErrNotReady) {
		return Result{Status: StatusAwaitingRecording, Audio: s.Reply}, nil
	}
	if err != nil {
		return Result{Status: StatusAwaitingRecording}, err
	}

	text, err := o.speech.Transcribe(ctx, path)
	if err != nil {
		return Result{Status: StatusAwaitingRecording}, err
	}
	if text == "" {
		return Result{Status: StatusAwaitingRecording, Audio: s.Reply, Notices: noSpeech()}, nil
	}

	reply := o.tutor.Converse(ctx, string(s.Level), text, s.History(ContextEntries))
	art, notices, err := o.render(ctx, s, reply)
	if err != nil {
		return Result{Status: StatusAwaitingRecording}, err
	}

	if s.Reply != nil {
		o.gateway.Discard(*s.Reply)
	}
	s.Reply = &art
	msgs := []Message{
		{Role: RoleUser, Text: text, Mode: ModeFreeConversation},
		{Role: RoleAssistant, Text: reply, Mode: ModeFreeConversation},
	}
	s.appendLog(msgs...)
	return Result{Status: StatusReplied, Audio: &art, Appended: msgs, Notices: notices}, nil
}

func (o *Orchestrator) practice(ctx context.Context, s *Session, in Input) (Result, error) {
	p := s.Progress(s.Mode)
	waiting := StatusAwaitingRecording
	if s.Mode == ModeDictation {
		waiting = StatusAwaitingAnswer
	}

	if !p.InRound() {
		if p.CycleCount > 0 && !in.NextRound {
			return Result{Status: StatusAwaitingNextRound}, nil
		}
		problem, err := o.tutor.GenerateProblem(ctx, string(s.Level))
		if err != nil {
			return Result{Status: StatusAwaitingNextRound}, err
		}
		art, notices, err := o.render(ctx, s, problem)
		if err != nil {
			return Result{Status: StatusAwaitingNextRound}, err
		}
		p.CurrentProblem = problem
		p.CurrentProblemAudio = &art
		p.IsFirstCycle = false
		p.AwaitingRecording = true
		if s.Mode == ModeDictation {
			s.AnswerChannelOpen = true
		}
		// Input sent alongside the request for a new round cannot answer
		// a problem the learner has not heard yet.
		return Result{Status: waiting, Audio: &art, Notices: notices}, nil
	}

	var answer string
	if s.Mode == ModeDictation {
		answer = strings.TrimSpace(in.Answer)
		if answer == "" {
			return Result{Status: waiting, Audio: p.CurrentProblemAudio}, nil
		}
	} else {
		path, err := o.gateway.AcquireRecording(ctx, in.Recording)
		if errors.Is(err, gateway.ErrNotReady) {
			return Result{Status: waiting, Audio: p.CurrentProblemAudio}, nil
		}
		if err != nil {
			return Result{Status: waiting, Audio: p.CurrentProblemAudio}, err
		}
		if answer, err = o.speech.Transcribe(ctx, path); err != nil {
			return Result{Status: waiting, Audio: p.CurrentProblemAudio}, err
		}
		if answer == "" {
			return Result{Status: waiting, Audio: p.CurrentProblemAudio, Notices: noSpeech()}, nil
		}
	}

	evaluation := o.tutor.GenerateEvaluation(ctx, p.CurrentProblem, answer)
	msgs := []Message{
		{Role: RoleAssistant, Text: p.CurrentProblem, Mode: s.Mode},
		{Role: RoleUser, Text: answer, Mode: s.Mode},
		{Role: RoleAssistant, Text: evaluation, Mode: s.Mode},
		{Role: RoleSeparator, Mode: s.Mode},
	}
	s.appendLog(msgs...)

	if p.CurrentProblemAudio != nil {
		o.gateway.Discard(*p.CurrentProblemAudio)
	}
	p.CycleCount++
	p.CurrentProblem = ""
	p.CurrentProblemAudio = nil
	p.AwaitingRecording = false
	s.AnswerChannelOpen = false
	o.metrics.RecordRound(ctx, string(s.Mode))
	return Result{Status: StatusRoundCompleted, Appended: msgs}, nil
}

func noSpeech() []gateway.Notice {
	return []gateway.Notice{{Code: NoticeNoSpeech, Message: "no speech detected in the recording"}}
}

// render synthesizes text, stores it and applies the session's playback
// speed. Transcoding problems come back as notices.
func (o *Orchestrator) render(ctx context.Context, s *Session, text string) (gateway.Artifact, []gateway.Notice, error) {
	a, err := o.speech.Synthesize(ctx, text)
	if err != nil {
		return gateway.Artifact{}, nil, err
	}
	art, notices, err := o.gateway.SaveReply(ctx, s.ID, a.Data, a.Container)
	if err != nil {
		return gateway.Artifact{}, notices, err
	}
	if s.Speed != DefaultSpeed {
		adjusted, more, err := o.gateway.AdjustSpeed(ctx, art, s.Speed)
		notices = append(notices, more...)
		if err != nil {
			o.gateway.Discard(art)
			return gateway.Artifact{}, notices, err
		}
		art = adjusted
	}
	return art, notices, nil
}

func (o *Orchestrator) discard(artifacts []gateway.Artifact) {
	for _, a := range artifacts {
		o.gateway.Discard(a)
	}
}
