package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/tutor"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// wavTranscoder converts anything into 0.5s of 8 kHz mono silence.
type wavTranscoder struct{}

func (wavTranscoder) Available() bool { return true }

func (wavTranscoder) Transcode(context.Context, []byte, audio.Container, audio.Container) ([]byte, error) {
	return audio.EncodeWAV(make([]byte, 8000), audio.PCMFormat{SampleRate: 8000, Channels: 1}), nil
}

type harness struct {
	root string
	orch *Orchestrator
	gw   *gateway.Gateway
	stt  *sttmock.Provider
	tts  *ttsmock.Provider
	llm  *llmmock.Provider
}

func newHarness(t *testing.T, tc audio.Transcoder) *harness {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	root := t.TempDir()
	gw, err := gateway.New(filepath.Join(root, "in"), filepath.Join(root, "out"),
		gateway.WithTranscoder(tc), gateway.WithMetrics(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := &harness{
		root: root,
		gw:   gw,
		stt:  &sttmock.Provider{Text: "I went to the park yesterday."},
		tts:  &ttsmock.Provider{},
		llm:  &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "That sounds lovely!"}},
	}
	gen, err := tutor.New(h.llm, tutor.WithMetrics(m))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bridge := speech.New(h.stt, h.tts, speech.WithMetrics(m))
	h.orch = NewOrchestrator(gw, bridge, gen, WithMetrics(m))
	return h
}

func (h *harness) cycle(t *testing.T, s *Session, in Input) Result {
	t.Helper()
	res, err := h.orch.Cycle(context.Background(), s, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func recording() *gateway.PendingInput {
	return &gateway.PendingInput{Data: []byte("RIFFfake"), Filename: "answer.wav", Source: gateway.SourceUpload}
}

func ptr[T any](v T) *T { return &v }

func startIn(t *testing.T, h *harness, m Mode) *Session {
	t.Helper()
	s := h.orch.NewSession("learner-1")
	h.cycle(t, s, Input{Mode: ptr(m), Start: true})
	return s
}

func TestCycle_IdleUntilStarted(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := h.orch.NewSession("s")

	res := h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusIdle {
		t.Errorf("status = %s, want idle", res.Status)
	}
	if h.stt.CallCount() != 0 || len(h.llm.Calls()) != 0 {
		t.Error("pipeline ran before start")
	}
}

func TestCycle_FreeConversation(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := startIn(t, h, ModeFreeConversation)

	res := h.cycle(t, s, Input{})
	if res.Status != StatusAwaitingRecording {
		t.Fatalf("status = %s, want awaiting_recording", res.Status)
	}

	res = h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusReplied {
		t.Fatalf("status = %s, want replied", res.Status)
	}
	want := []Message{
		{Role: RoleUser, Text: "I went to the park yesterday.", Mode: ModeFreeConversation},
		{Role: RoleAssistant, Text: "That sounds lovely!", Mode: ModeFreeConversation},
	}
	if !reflect.DeepEqual(s.Log, want) {
		t.Errorf("log = %+v, want %+v", s.Log, want)
	}
	if res.Audio == nil || res.Audio.Container != audio.WAV || s.Reply == nil || *s.Reply != *res.Audio {
		t.Fatalf("reply artifact = %+v, session reply = %+v", res.Audio, s.Reply)
	}
	first := *res.Audio

	h.cycle(t, s, Input{Recording: recording()})
	if _, err := os.Stat(first.Path); !os.IsNotExist(err) {
		t.Error("previous reply artifact was not replaced")
	}
	if len(s.Log) != 4 {
		t.Errorf("log length = %d, want 4", len(s.Log))
	}
}

func TestCycle_FreeConversationNoSpeech(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.stt.Text = "   "
	s := startIn(t, h, ModeFreeConversation)

	res := h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusAwaitingRecording || len(res.Notices) != 1 || res.Notices[0].Code != NoticeNoSpeech {
		t.Errorf("result = %+v", res)
	}
	if len(s.Log) != 0 || len(h.llm.Calls()) != 0 {
		t.Error("empty transcript must not reach the tutor")
	}
}

// Mode exclusivity: no residual problem survives a mode round trip.
func TestProperty_ModeExclusivity(t *testing.T) {
	for _, m := range []Mode{ModeShadowing, ModeDictation} {
		t.Run(string(m), func(t *testing.T) {
			h := newHarness(t, wavTranscoder{})
			s := startIn(t, h, m)
			if !s.Progress(m).InRound() {
				t.Fatal("round 0 did not start")
			}
			problemAudio := *s.Progress(m).CurrentProblemAudio

			for _, next := range []Mode{ModeFreeConversation, ModeShadowing, ModeDictation, m} {
				if next == s.Mode {
					continue
				}
				h.cycle(t, s, Input{Mode: ptr(next)})
				for _, p := range []*ModeProgress{&s.Shadowing, &s.Dictation} {
					if p.CurrentProblem != "" || p.CycleCount != 0 || p.AwaitingRecording || p.CurrentProblemAudio != nil {
						t.Fatalf("after switch to %s progress = %+v", next, *p)
					}
				}
				if s.AnswerChannelOpen || s.Active {
					t.Fatalf("after switch to %s channel=%v active=%v", next, s.AnswerChannelOpen, s.Active)
				}
			}
			if s.Mode != m {
				t.Fatalf("mode = %s, want %s", s.Mode, m)
			}
			if _, err := os.Stat(problemAudio.Path); !os.IsNotExist(err) {
				t.Error("abandoned problem audio still on disk")
			}
			if res := h.cycle(t, s, Input{}); res.Status != StatusIdle {
				t.Errorf("status = %s, want idle until restarted", res.Status)
			}
		})
	}
}

// Suspension idempotence: cycles without input never regenerate the problem.
func TestProperty_SuspensionIdempotence(t *testing.T) {
	tests := []struct {
		mode Mode
		want Status
	}{
		{ModeShadowing, StatusAwaitingRecording},
		{ModeDictation, StatusAwaitingAnswer},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			h := newHarness(t, wavTranscoder{})
			h.llm.Responses = []string{"The weather is nice today."}
			s := startIn(t, h, tt.mode)
			p := s.Progress(tt.mode)
			problem, audioRef := p.CurrentProblem, *p.CurrentProblemAudio

			for i := range 5 {
				in := Input{}
				if i%2 == 1 {
					in.NextRound = true
				}
				res := h.cycle(t, s, in)
				if res.Status != tt.want {
					t.Fatalf("cycle %d status = %s, want %s", i, res.Status, tt.want)
				}
				if res.Audio == nil || *res.Audio != audioRef {
					t.Fatalf("cycle %d audio = %+v, want current problem", i, res.Audio)
				}
			}
			if p.CurrentProblem != problem || *p.CurrentProblemAudio != audioRef || p.CycleCount != 0 {
				t.Errorf("progress changed: %+v", *p)
			}
			if n := len(h.llm.Calls()); n != 1 {
				t.Errorf("completion calls = %d, want 1", n)
			}
			if n := h.tts.CallCount(); n != 1 {
				t.Errorf("synthesis calls = %d, want 1", n)
			}
		})
	}
}

// History bound: only the latest ten free-conversation entries are sent.
func TestProperty_HistoryBound(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := startIn(t, h, ModeFreeConversation)

	for i := range 7 {
		h.stt.Text = fmt.Sprintf("learner %d", i)
		h.llm.Responses = []string{fmt.Sprintf("tutor %d", i)}
		h.cycle(t, s, Input{Recording: recording()})
	}

	calls := h.llm.Calls()
	last := calls[len(calls)-1].Req.Messages
	if len(last) != 1+ContextEntries+1 {
		t.Fatalf("messages = %d, want %d", len(last), ContextEntries+2)
	}
	if last[1].Content != "learner 1" || last[10].Content != "tutor 5" || last[11].Content != "learner 6" {
		t.Errorf("window = %q .. %q, input %q", last[1].Content, last[10].Content, last[11].Content)
	}
	for i, c := range calls {
		if n := len(c.Req.Messages); n > ContextEntries+2 {
			t.Errorf("call %d sent %d messages", i, n)
		}
	}
}

// Transcoding fallback: without a transcoder the reply stays mp3 and every
// reference carries the mp3 extension.
func TestProperty_TranscodingFallback(t *testing.T) {
	for _, speed := range []float64{1.0, 1.5} {
		t.Run(fmt.Sprintf("speed %v", speed), func(t *testing.T) {
			h := newHarness(t, audio.Unavailable{})
			s := h.orch.NewSession("s")
			h.cycle(t, s, Input{Speed: ptr(speed), Start: true})

			res := h.cycle(t, s, Input{Recording: recording()})
			if res.Status != StatusReplied {
				t.Fatalf("status = %s, want replied", res.Status)
			}
			a := res.Audio
			if a == nil || a.Container != audio.MP3 || filepath.Ext(a.Path) != ".mp3" || filepath.Ext(a.Name) != ".mp3" {
				t.Fatalf("artifact = %+v, want mp3", a)
			}
			if a.ContentType() != "audio/mpeg" {
				t.Errorf("content type = %q", a.ContentType())
			}
			data, err := os.ReadFile(a.Path)
			if err != nil || string(data) != "ID3mock" {
				t.Errorf("artifact payload = %q, %v", data, err)
			}
			wantNotices := 1
			if speed != 1.0 {
				wantNotices = 2
			}
			if len(res.Notices) != wantNotices {
				t.Fatalf("notices = %+v, want %d", res.Notices, wantNotices)
			}
			for _, n := range res.Notices {
				if n.Code != gateway.NoticeTranscodingDegraded {
					t.Errorf("notice = %+v", n)
				}
			}
		})
	}
}

// Round completion: a dictation round adds four entries and counts one round.
func TestProperty_RoundCompletion(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.Responses = []string{"The cat sat on the mat.", "Almost perfect, you missed the full stop."}
	s := h.orch.NewSession("s")

	res := h.cycle(t, s, Input{Mode: ptr(ModeDictation), Start: true})
	if res.Status != StatusAwaitingAnswer {
		t.Fatalf("status = %s, want awaiting_answer", res.Status)
	}
	p := &s.Dictation
	if p.CurrentProblem == "" || p.CurrentProblemAudio == nil || p.CurrentProblemAudio.Path == "" {
		t.Fatalf("round 0 progress = %+v", *p)
	}
	if !s.AnswerChannelOpen || !p.AwaitingRecording || p.IsFirstCycle {
		t.Errorf("flags: channel=%v awaiting=%v first=%v", s.AnswerChannelOpen, p.AwaitingRecording, p.IsFirstCycle)
	}
	before := len(s.Log)

	res = h.cycle(t, s, Input{Answer: "The cat sat on the mat"})
	if res.Status != StatusRoundCompleted {
		t.Fatalf("status = %s, want round_completed", res.Status)
	}
	want := []Message{
		{Role: RoleAssistant, Text: "The cat sat on the mat.", Mode: ModeDictation},
		{Role: RoleUser, Text: "The cat sat on the mat", Mode: ModeDictation},
		{Role: RoleAssistant, Text: "Almost perfect, you missed the full stop.", Mode: ModeDictation},
		{Role: RoleSeparator, Mode: ModeDictation},
	}
	if got := s.Log[before:]; !reflect.DeepEqual(got, want) {
		t.Errorf("appended = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(res.Appended, want) {
		t.Errorf("result appended = %+v", res.Appended)
	}
	if p.CycleCount != 1 || p.InRound() || s.AnswerChannelOpen {
		t.Errorf("after round: progress=%+v channel=%v", *p, s.AnswerChannelOpen)
	}

	if res := h.cycle(t, s, Input{}); res.Status != StatusAwaitingNextRound {
		t.Errorf("status = %s, want awaiting_next_round", res.Status)
	}
	if res := h.cycle(t, s, Input{NextRound: true}); res.Status != StatusAwaitingAnswer {
		t.Errorf("status = %s, want a new round", res.Status)
	}
}

func TestCycle_ShadowingRound(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.Responses = []string{"Could you open the window?", "Good pronunciation."}
	h.stt.Text = "Could you open a window"
	s := startIn(t, h, ModeShadowing)

	// A recording sent with the request that created the problem is ignored.
	if h.stt.CallCount() != 0 {
		t.Fatal("transcribed before the learner heard the problem")
	}
	res := h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusRoundCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if len(s.Log) != 4 || s.Log[1].Text != "Could you open a window" {
		t.Errorf("log = %+v", s.Log)
	}
	if s.Shadowing.CycleCount != 1 {
		t.Errorf("cycle count = %d", s.Shadowing.CycleCount)
	}
	if entries, _ := os.ReadDir(filepath.Join(h.root, "in")); len(entries) != 0 {
		t.Errorf("%d recordings left in input dir", len(entries))
	}
}

func TestCycle_ShadowingNoSpeech(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.Responses = []string{"Could you open the window?", "Good pronunciation."}
	h.stt.Text = "   "
	s := startIn(t, h, ModeShadowing)
	problemAudio := *s.Shadowing.CurrentProblemAudio

	res := h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusAwaitingRecording || len(res.Notices) != 1 || res.Notices[0].Code != NoticeNoSpeech {
		t.Fatalf("result = %+v", res)
	}
	if res.Audio == nil || *res.Audio != problemAudio {
		t.Errorf("audio = %+v, want the current problem audio", res.Audio)
	}
	if len(s.Log) != 0 || s.Shadowing.CycleCount != 0 || s.Shadowing.CurrentProblem != "Could you open the window?" {
		t.Fatalf("round changed: log = %+v, progress = %+v", s.Log, s.Shadowing)
	}
	if len(h.llm.Calls()) != 1 {
		t.Errorf("llm calls = %d, want only the problem generation", len(h.llm.Calls()))
	}
	if _, err := os.Stat(problemAudio.Path); err != nil {
		t.Errorf("problem audio removed: %v", err)
	}

	h.stt.Text = "Could you open the window"
	if res := h.cycle(t, s, Input{Recording: recording()}); res.Status != StatusRoundCompleted {
		t.Fatalf("status = %s, want round_completed", res.Status)
	}

	var buf bytes.Buffer
	if err := h.orch.Export(&buf, s, FormatJSON); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh := h.orch.NewSession("learner-2")
	if err := h.orch.Import(fresh, buf.Bytes(), FormatJSON); err != nil {
		t.Fatalf("re-import of own export: %v", err)
	}
	if !reflect.DeepEqual(fresh.Log, s.Log) {
		t.Errorf("imported log = %+v, want %+v", fresh.Log, s.Log)
	}
}

// Reset completeness.
func TestProperty_ResetCompleteness(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.Responses = []string{"p1", "e1", "p2"}
	s := startIn(t, h, ModeDictation)
	h.cycle(t, s, Input{Answer: "p one"})
	h.cycle(t, s, Input{NextRound: true})
	if !s.AnswerChannelOpen || s.Dictation.CycleCount != 1 || len(s.Log) == 0 {
		t.Fatalf("setup failed: %+v", s.Dictation)
	}
	problemAudio := *s.Dictation.CurrentProblemAudio

	res := h.cycle(t, s, Input{Reset: true, Answer: "ignored"})
	if res.Status != StatusReset {
		t.Fatalf("status = %s", res.Status)
	}
	if len(s.Log) != 0 {
		t.Errorf("log = %+v, want empty", s.Log)
	}
	if s.Shadowing.CycleCount != 0 || s.Dictation.CycleCount != 0 || s.Dictation.InRound() {
		t.Errorf("progress = %+v / %+v", s.Shadowing, s.Dictation)
	}
	if s.AnswerChannelOpen || s.Active {
		t.Error("answer channel or active flag survived reset")
	}
	if _, err := os.Stat(problemAudio.Path); !os.IsNotExist(err) {
		t.Error("problem audio survived reset")
	}
}

// Import validation: a payload without messages changes nothing.
func TestProperty_ImportValidation(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.Responses = []string{"p1", "e1"}
	s := startIn(t, h, ModeDictation)
	h.cycle(t, s, Input{Answer: "answer"})

	before := *s
	before.Log = slices.Clone(s.Log)

	payloads := []struct {
		format Format
		data   string
	}{
		{FormatJSON, `{"version":1,"mode":"dictation","speed":1.2}`},
		{FormatJSON, `{"messages":null}`},
		{FormatYAML, "version: 1\nlevel: advanced\n"},
		{FormatJSON, `not json`},
		{FormatJSON, `{"messages":[{"role":"robot","text":"x"}]}`},
	}
	for _, p := range payloads {
		err := h.orch.Import(s, []byte(p.data), p.format)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Import(%s) err = %v, want ValidationError", p.data, err)
		}
		if !reflect.DeepEqual(*s, before) {
			t.Fatalf("Import(%s) mutated the session", p.data)
		}
	}
}

func TestCycle_AnswerChannelClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness) *Session
		in    Input
	}{
		{
			name:  "free conversation",
			setup: func(t *testing.T, h *harness) *Session { return startIn(t, h, ModeFreeConversation) },
			in:    Input{Answer: "hello"},
		},
		{
			name:  "shadowing",
			setup: func(t *testing.T, h *harness) *Session { return startIn(t, h, ModeShadowing) },
			in:    Input{Answer: "hello"},
		},
		{
			name:  "dictation not started",
			setup: func(t *testing.T, h *harness) *Session { return h.orch.NewSession("s") },
			in:    Input{Mode: ptr(ModeDictation), Answer: "hello"},
		},
		{
			name:  "switching away from open dictation",
			setup: func(t *testing.T, h *harness) *Session { return startIn(t, h, ModeDictation) },
			in:    Input{Mode: ptr(ModeShadowing), Answer: "hello"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, wavTranscoder{})
			s := tt.setup(t, h)
			before := *s
			_, err := h.orch.Cycle(context.Background(), s, tt.in)
			if !errors.Is(err, ErrAnswerChannelClosed) {
				t.Fatalf("err = %v, want ErrAnswerChannelClosed", err)
			}
			if !reflect.DeepEqual(*s, before) {
				t.Error("rejected answer mutated the session")
			}
		})
	}
}

func TestCycle_InvalidSettingsRejected(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := h.orch.NewSession("s")
	before := *s

	for _, in := range []Input{
		{Speed: ptr(1.1)},
		{Level: ptr(Level("native"))},
		{Mode: ptr(Mode("karaoke")), Start: true},
	} {
		_, err := h.orch.Cycle(context.Background(), s, in)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("err = %v, want ValidationError", err)
		}
	}
	if !reflect.DeepEqual(*s, before) {
		t.Error("invalid settings mutated the session")
	}
}

func TestCycle_UploadErrorsKeepRound(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := startIn(t, h, ModeShadowing)
	problem := s.Shadowing.CurrentProblem

	_, err := h.orch.Cycle(context.Background(), s, Input{Recording: &gateway.PendingInput{Data: []byte("x"), Filename: "a.flac"}})
	if !errors.Is(err, gateway.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	_, err = h.orch.Cycle(context.Background(), s, Input{Recording: &gateway.PendingInput{Data: []byte("x"), Source: gateway.SourceCapture}})
	if !errors.Is(err, gateway.ErrCaptureUnavailable) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}

	h.stt.Err = errors.New("503 service unavailable")
	_, err = h.orch.Cycle(context.Background(), s, Input{Recording: recording()})
	var rse *speech.RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
	if s.Shadowing.CurrentProblem != problem || !s.Shadowing.AwaitingRecording || len(s.Log) != 0 {
		t.Errorf("failed cycle changed the round: %+v", s.Shadowing)
	}

	h.stt.Err = nil
	if res := h.cycle(t, s, Input{Recording: recording()}); res.Status != StatusRoundCompleted {
		t.Errorf("retry status = %s", res.Status)
	}
}

func TestCycle_ProblemGenerationFailure(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.CompleteErr = errors.New("invalid api key")
	s := h.orch.NewSession("s")

	_, err := h.orch.Cycle(context.Background(), s, Input{Mode: ptr(ModeDictation), Start: true})
	var rse *speech.RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
	if s.Dictation.InRound() || s.AnswerChannelOpen || !s.Dictation.IsFirstCycle {
		t.Errorf("failed generation left state behind: %+v", s.Dictation)
	}
	if h.tts.CallCount() != 0 {
		t.Error("synthesized after failed generation")
	}
}

func TestCycle_SynthesisFailureAbortsTurn(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.tts.Err = errors.New("quota exceeded")
	s := startIn(t, h, ModeFreeConversation)

	_, err := h.orch.Cycle(context.Background(), s, Input{Recording: recording()})
	var rse *speech.RemoteServiceError
	if !errors.As(err, &rse) || rse.Op != "synthesize" {
		t.Fatalf("err = %v, want synthesize RemoteServiceError", err)
	}
	if len(s.Log) != 0 || s.Reply != nil {
		t.Error("failed turn was logged")
	}
}

func TestCycle_CompletionFailureApologises(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	h.llm.CompleteErr = errors.New("timeout")
	s := startIn(t, h, ModeFreeConversation)

	res := h.cycle(t, s, Input{Recording: recording()})
	if res.Status != StatusReplied {
		t.Fatalf("status = %s", res.Status)
	}
	if s.Log[1].Text != tutor.DefaultApology {
		t.Errorf("reply = %q, want apology", s.Log[1].Text)
	}
}

func TestCycle_SettingsAndClock(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return now }
	s := h.orch.NewSession("s")

	now = now.Add(time.Minute)
	h.cycle(t, s, Input{Speed: ptr(0.8), Level: ptr(LevelIntermediate), ShowTranslation: ptr(false)})
	if s.Speed != 0.8 || s.Level != LevelIntermediate || s.ShowTranslation {
		t.Errorf("settings = %v/%s/%v", s.Speed, s.Level, s.ShowTranslation)
	}
	if !s.UpdatedAt.Equal(now) || s.CreatedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v", s.CreatedAt, s.UpdatedAt)
	}
}

func TestCycle_SpeedAppliedToProblemAudio(t *testing.T) {
	h := newHarness(t, wavTranscoder{})
	s := h.orch.NewSession("s")
	res := h.cycle(t, s, Input{Mode: ptr(ModeShadowing), Speed: ptr(2.0), Start: true})
	if res.Audio == nil || res.Audio.Speed != 2.0 {
		t.Fatalf("audio = %+v, want speed 2.0", res.Audio)
	}
	pcm, _, err := audio.DecodeWAV(mustRead(t, res.Audio.Path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcm) > 4100 {
		t.Errorf("pcm = %d bytes, want about 4000", len(pcm))
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return data
}
