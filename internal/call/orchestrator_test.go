package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callpilot/internal/backend"
	backendmock "github.com/MrWong99/callpilot/internal/backend/mock"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	transportmock "github.com/MrWong99/callpilot/internal/transport/mock"
	"github.com/MrWong99/callpilot/internal/turn"
	turnmock "github.com/MrWong99/callpilot/internal/turn/mock"
	"github.com/MrWong99/callpilot/pkg/audio"
	audiomock "github.com/MrWong99/callpilot/pkg/audio/mock"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
	sttmock "github.com/MrWong99/callpilot/pkg/provider/stt/mock"
	"github.com/MrWong99/callpilot/pkg/telephony"
	telmock "github.com/MrWong99/callpilot/pkg/telephony/mock"
)

// ---- helpers ----

const (
	testPoll     = time.Hour
	testInterval = 5 * time.Second
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// captureDevice hands out an unbuffered frame channel so a test knows a frame
// has been posted to the loop once the following send completes.
type captureDevice struct {
	*audiomock.Device

	mu     sync.Mutex
	frames chan audio.AudioFrame
}

func (d *captureDevice) StartCapture(ctx context.Context) (<-chan audio.AudioFrame, error) {
	if _, err := d.Device.StartCapture(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == nil {
		d.frames = make(chan audio.AudioFrame)
	}
	return d.frames, nil
}

func (d *captureDevice) StopCapture() error {
	_ = d.Device.StopCapture()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames != nil {
		close(d.frames)
		d.frames = nil
	}
	return nil
}

func (d *captureDevice) emit(t *testing.T, f audio.AudioFrame) {
	t.Helper()
	d.mu.Lock()
	ch := d.frames
	d.mu.Unlock()
	if ch == nil {
		t.Fatal("capture not running")
	}
	for _, x := range []audio.AudioFrame{f, {}} {
		select {
		case ch <- x:
		case <-time.After(3 * time.Second):
			t.Fatal("frame not consumed")
		}
	}
}

// recSink records call lifecycle records.
type recSink struct {
	mu      sync.Mutex
	started []CallRecord
	turns   []Turn
	ended   []CallRecord
}

func (s *recSink) CallStarted(_ context.Context, r CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, r)
}

func (s *recSink) TurnRecorded(_ context.Context, _ string, t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

func (s *recSink) CallEnded(_ context.Context, r CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, r)
}

func (s *recSink) endedRecords() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.ended...)
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	src   *telmock.Source
	dev   *captureDevice
	clock *fakeClock
	sink  *recSink
	start time.Time

	mu     sync.Mutex
	procs  []*turnmock.Processor
	hosts  []turn.Host
	owners []Owner
	builds int
}

type harnessOption func(*harness, *Config, *Deps)

func withFactory(f turn.Factory) harnessOption {
	return func(_ *harness, _ *Config, d *Deps) { d.Factory = f }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *harness, c *Config, _ *Deps) { fn(c) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		src:   &telmock.Source{},
		dev:   &captureDevice{Device: audiomock.NewDevice()},
		clock: newFakeClock(),
		sink:  &recSink{},
	}
	cfg := Config{
		Mode:          turn.ModeBatched,
		AutoAnswer:    true,
		PollInterval:  testPoll,
		ChunkInterval: testInterval,
	}
	deps := Deps{
		Source:  h.src,
		Device:  h.dev,
		Clock:   h.clock,
		Sink:    h.sink,
		Metrics: observe.DefaultMetrics(),
		OnOwnerChange: func(o Owner) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.owners = append(h.owners, o)
		},
		Factory: turn.FactoryFunc(func(_ turn.Mode, host turn.Host, _ transport.Handler) (turn.Processor, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			p := &turnmock.Processor{}
			h.procs = append(h.procs, p)
			h.hosts = append(h.hosts, host)
			h.builds++
			return p, nil
		}),
	}
	for _, opt := range opts {
		opt(h, &cfg, &deps)
	}

	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	h.start = h.clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The initial poll must settle before tests push anything, otherwise its
	// late idle result could race a pushed transition.
	eventually(t, "initial poll", func() bool { return h.clock.armed(h.start.Add(testPoll)) })
	return h
}

func (h *harness) waitState(st State) {
	h.t.Helper()
	eventually(h.t, "state "+st.String(), func() bool { return h.o.Snapshot().CallState == st })
}

func (h *harness) proc(i int) *turnmock.Processor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.procs) {
		return nil
	}
	return h.procs[i]
}

func (h *harness) host(i int) turn.Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosts[i]
}

func (h *harness) buildCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.builds
}

func (h *harness) ownerTrace() []Owner {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Owner(nil), h.owners...)
}

// activate pushes ringing then active and waits for Recording.
func (h *harness) activate() time.Time {
	h.t.Helper()
	h.src.Push(telephony.StateRinging)
	h.waitState(StateIncoming)
	h.src.Push(telephony.StateActive)
	h.waitState(StateRecording)
	return h.clock.Now()
}

func loudFrame(n int) audio.AudioFrame {
	pcm := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		pcm[i+1] = 0x20
	}
	return audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1}
}

// ---- construction ----

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, Deps{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"source", "device", "factory"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	c := Config{Mode: "bogus"}.withDefaults()
	if c.Mode != turn.ModeBatched || c.PollInterval != DefaultPollInterval ||
		c.ChunkInterval != DefaultChunkInterval || c.IncomingTimeout != DefaultIncomingTimeout ||
		c.HistoryLimit != DefaultHistoryLimit || c.Capture.SampleRate != audio.DefaultSampleRate {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.o.Run(t.Context()); err == nil {
		t.Fatal("second Run should fail")
	}
}

// ---- telephony reconciliation ----

func TestScenarioA_CallWithoutBoundaryLeavesNoTurns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.activate()
	if got := h.src.Answers(); got != 1 {
		t.Fatalf("answers = %d, want 1", got)
	}
	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)

	p := h.proc(0)
	eventually(t, "processor closed", func() bool { return p.CloseCount() == 1 })
	eventually(t, "capture stopped", func() bool { return !h.dev.Capturing() })
	if p.ChunkCount() != 0 {
		t.Fatalf("chunks = %d, want 0", p.ChunkCount())
	}
	snap := h.o.Snapshot()
	if len(snap.History) != 0 || snap.CallID != "" {
		t.Fatalf("snapshot after idle = %+v", snap)
	}
	ended := h.sink.endedRecords()
	if len(ended) != 1 || ended[0].Turns != 0 || ended[0].Outcome != "completed" {
		t.Fatalf("ended = %+v", ended)
	}

	// A second idle is a no-op.
	h.clock.Advance(testPoll)
	eventually(t, "next poll", func() bool { return h.clock.pendingAfter(h.clock.Now()) })
	if n := len(h.sink.endedRecords()); n != 1 {
		t.Fatalf("ended records = %d after second idle", n)
	}
}

func TestIdempotentActive_StartsOneSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.src.Push(telephony.StateActive)
		}()
	}
	wg.Wait()
	h.waitState(StateRecording)

	// The poll sees active as well.
	h.clock.Advance(testPoll)
	eventually(t, "next poll", func() bool { return h.clock.armed(h.start.Add(2 * testPoll)) })

	if n := h.buildCount(); n != 1 {
		t.Fatalf("processors built = %d, want 1", n)
	}
	if n := h.proc(0).StartCount(); n != 1 {
		t.Fatalf("Start calls = %d, want 1", n)
	}
}

func TestNoDoubleAnswer(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t)
	h.src.AnswerHook = func() { <-release }

	h.src.Push(telephony.StateRinging)
	eventually(t, "answer issued", func() bool { return h.src.Answers() == 1 })

	h.src.Push(telephony.StateRinging)
	h.clock.Advance(testPoll)
	eventually(t, "next poll", func() bool { return h.clock.armed(h.start.Add(2 * testPoll)) })
	close(release)

	// A successful answer moves the next poll to the settle delay.
	eventually(t, "settle poll", func() bool {
		return h.clock.armed(h.clock.Now().Add(DefaultAnswerSettleDelay))
	})
	if n := h.src.Answers(); n != 1 {
		t.Fatalf("answers = %d, want 1", n)
	}
}

func TestAnswerPermissionDenied_SurfacedAndStaysIncoming(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.src.AnswerErr = telephony.ErrPermissionDenied

	h.src.Push(telephony.StateRinging)
	eventually(t, "permission error", func() bool {
		return strings.Contains(h.o.Snapshot().Error, "permission")
	})
	if st := h.o.Snapshot().CallState; st != StateIncoming {
		t.Fatalf("state = %v, want incoming", st)
	}
}

func TestIncomingTimeout_ClearsToIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withConfig(func(c *Config) { c.AutoAnswer = false }))

	h.src.Push(telephony.StateRinging)
	h.waitState(StateIncoming)
	if h.src.Answers() != 0 {
		t.Fatal("answered with auto-answer off")
	}
	h.clock.Advance(DefaultIncomingTimeout)
	h.waitState(StateIdle)
	eventually(t, "missed record", func() bool {
		ended := h.sink.endedRecords()
		return len(ended) == 1 && ended[0].Outcome == "missed"
	})
}

func TestPollError_TreatedAsIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate()

	h.src.StateErr = errors.New("binder died")
	h.clock.Advance(testPoll)
	h.waitState(StateIdle)
}

// ---- chunk loop ----

func TestScenarioB_TwelveSecondsYieldTwoChunks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	start := h.activate()
	p := h.proc(0)

	h.clock.Advance(testInterval)
	eventually(t, "first chunk", func() bool { return p.ChunkCount() == 1 })
	eventually(t, "re-armed", func() bool { return h.clock.armed(start.Add(2 * testInterval)) })

	h.clock.Advance(testInterval)
	eventually(t, "second chunk", func() bool { return p.ChunkCount() == 2 })
	eventually(t, "re-armed", func() bool { return h.clock.armed(start.Add(3 * testInterval)) })

	h.clock.Advance(2 * time.Second)
	if n := p.ChunkCount(); n != 2 {
		t.Fatalf("chunks after 12s = %d, want 2", n)
	}
}

func TestChunk_CarriesCapturedFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate()
	p := h.proc(0)

	h.dev.emit(t, loudFrame(640))
	h.dev.emit(t, loudFrame(640))
	h.clock.Advance(testInterval)
	eventually(t, "chunk", func() bool { return p.ChunkCount() == 1 })

	c := p.Chunks[0]
	if len(c.Data) != 1280 || c.SampleRate != 16000 || c.Channels != 1 {
		t.Fatalf("chunk = %d bytes @ %d/%d", len(c.Data), c.SampleRate, c.Channels)
	}
}

func TestIntervalPausesWhileSpeaking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var ownerAtPlayback Owner
	h := newHarness(t)
	h.dev.OnStopPlayback = func() {
		<-release
		ownerAtPlayback = h.ownerTrace()[len(h.ownerTrace())-1]
	}
	start := h.activate()
	p := h.proc(0)

	h.clock.Advance(2 * time.Second)

	errc := make(chan error, 1)
	go func() {
		errc <- h.host(0).Speak(context.Background(), turn.Speech{Text: "hold on", Audio: make([]byte, 3200), SampleRate: 16000})
	}()
	h.waitState(StateAISpeaking)
	if h.clock.armed(start.Add(testInterval)) {
		t.Fatal("interval still armed while speaking")
	}

	h.clock.Advance(3 * time.Second)
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Speak: %v", err)
	}
	h.waitState(StateRecording)

	// 2s accrued before speaking, 3s spent speaking: boundary at +8s.
	eventually(t, "re-armed after speaking", func() bool { return h.clock.armed(start.Add(8 * time.Second)) })
	h.clock.Advance(2900 * time.Millisecond)
	if p.ChunkCount() != 0 {
		t.Fatal("boundary fired before the paused time was made up")
	}
	h.clock.Advance(100 * time.Millisecond)
	eventually(t, "chunk", func() bool { return p.ChunkCount() == 1 })

	if ownerAtPlayback != OwnerPlayback {
		t.Fatalf("owner during playback = %v", ownerAtPlayback)
	}
	want := []Owner{OwnerCapture, OwnerPlayback, OwnerCapture}
	got := h.ownerTrace()
	if len(got) != len(want) {
		t.Fatalf("owner trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("owner trace = %v, want %v", got, want)
		}
	}
	snap := h.o.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Role != RoleAssistant || snap.History[0].Text != "hold on" {
		t.Fatalf("history = %+v", snap.History)
	}
	if h.dev.WrittenBytes() != 3200 {
		t.Fatalf("played %d bytes", h.dev.WrittenBytes())
	}
}

func TestPlayback_DiscardsCapturedFrames(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t)
	h.dev.OnStopPlayback = func() { <-release }
	h.activate()
	p := h.proc(0)

	h.dev.emit(t, loudFrame(640))

	errc := make(chan error, 1)
	go func() {
		errc <- h.host(0).Speak(context.Background(), turn.Speech{Text: "one moment", Audio: make([]byte, 3200), SampleRate: 16000})
	}()
	h.waitState(StateAISpeaking)
	h.dev.emit(t, loudFrame(1000))
	h.dev.emit(t, loudFrame(1000))
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Speak: %v", err)
	}
	h.waitState(StateRecording)

	h.clock.Advance(testInterval)
	eventually(t, "chunk", func() bool { return p.ChunkCount() == 1 })
	if n := len(p.Chunks[0].Data); n != 640 {
		t.Fatalf("chunk holds %d bytes, want only the 640 captured before playback", n)
	}
}

func TestCallEnd_DoesNotWaitForPlaybackDrain(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h := newHarness(t)
	// A drain that never completes on its own.
	h.dev.OnStopPlayback = func() { <-release }
	h.activate()

	go func() {
		_ = h.host(0).Speak(context.Background(), turn.Speech{Audio: make([]byte, 3200), SampleRate: 16000})
	}()
	h.waitState(StateAISpeaking)

	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)
	eventually(t, "playback aborted", func() bool { return h.dev.Aborts() >= 1 })

	h.activate()
	if n := h.buildCount(); n != 2 {
		t.Fatalf("sessions built = %d, want 2", n)
	}
}

func TestSpeak_AfterSessionEndedFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate()
	host := h.host(0)

	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)
	err := host.Speak(t.Context(), turn.Speech{Audio: make([]byte, 320), SampleRate: 16000})
	if !errors.Is(err, errSessionGone) {
		t.Fatalf("Speak after end = %v", err)
	}
}

func TestCaptureFailure_TearsDownAIPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dev.StartCaptureErr = audio.ErrDeviceUnavailable

	h.src.Push(telephony.StateActive)
	eventually(t, "device error", func() bool { return h.o.Snapshot().Error != "" })
	snap := h.o.Snapshot()
	if snap.CallState != StateActive || snap.IsConnected {
		t.Fatalf("snapshot = %+v", snap)
	}
	p := h.proc(0)
	eventually(t, "processor closed", func() bool { return p.CloseCount() == 1 })
}

// ---- batched processor end to end ----

func batchedFactory(s *sttmock.Provider, r *backendmock.Responder) turn.Factory {
	return turn.NewFactory(turn.Deps{Batched: turn.BatchedConfig{STT: s, Responder: r, SampleRate: 16000}})
}

func TestBatchedTurn_RecordsHistoryAndPlaysReply(t *testing.T) {
	t.Parallel()

	s := &sttmock.Provider{Results: []stt.Transcript{{Text: "I'd like a table for two"}}}
	r := &backendmock.Responder{RespondReply: backend.Reply{Text: "Sure, for when?", Audio: make([]byte, 6400), SampleRate: 16000}}
	h := newHarness(t, withFactory(batchedFactory(s, r)))
	h.activate()

	h.dev.emit(t, loudFrame(2048))
	h.clock.Advance(testInterval)

	eventually(t, "two turns", func() bool { return len(h.o.Snapshot().History) == 2 })
	h.waitState(StateRecording)
	snap := h.o.Snapshot()
	if snap.History[0].Role != RoleCaller || snap.History[0].Text != "I'd like a table for two" {
		t.Fatalf("caller turn = %+v", snap.History[0])
	}
	if snap.History[1].Role != RoleAssistant || snap.History[1].Text != "Sure, for when?" {
		t.Fatalf("assistant turn = %+v", snap.History[1])
	}
	if snap.LastTranscription != "I'd like a table for two" {
		t.Fatalf("last transcription = %q", snap.LastTranscription)
	}
	reqs := r.Requests()
	if len(reqs) != 1 || reqs[0].SessionID != snap.SessionID {
		t.Fatalf("requests = %+v", reqs)
	}
	if h.dev.WrittenBytes() != 6400 {
		t.Fatalf("played %d bytes", h.dev.WrittenBytes())
	}

	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)
	eventually(t, "ended record", func() bool {
		ended := h.sink.endedRecords()
		return len(ended) == 1 && ended[0].Turns == 2
	})
}

func TestScenarioC_EmptyTranscriptionMakesNoRequest(t *testing.T) {
	t.Parallel()

	s := &sttmock.Provider{Results: []stt.Transcript{{Text: ""}}}
	r := &backendmock.Responder{}
	h := newHarness(t, withFactory(batchedFactory(s, r)))
	start := h.activate()

	h.dev.emit(t, loudFrame(2048))
	h.clock.Advance(testInterval)
	eventually(t, "transcription", func() bool { return s.CallCount() == 1 })
	eventually(t, "capture resumed", func() bool { return h.clock.armed(start.Add(2 * testInterval)) })

	if n := len(r.Requests()); n != 0 {
		t.Fatalf("respond calls = %d, want 0", n)
	}
	snap := h.o.Snapshot()
	if len(snap.History) != 0 || snap.CallState != StateRecording {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// ---- streaming ----

func streamingFactory(c *transportmock.Client) turn.Factory {
	return turn.NewFactory(turn.Deps{NewTransport: func(h transport.Handler) transport.Client {
		c.SetHandler(h)
		return c
	}})
}

func TestScenarioD_TransportOpenFailureStaysActive(t *testing.T) {
	t.Parallel()

	client := &transportmock.Client{ConnectErr: transport.ErrReconnectExhausted}
	h := newHarness(t,
		withFactory(streamingFactory(client)),
		withConfig(func(c *Config) { c.Mode = turn.ModeStreaming }),
	)

	snaps, cancel := h.o.Subscribe()
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	var mu sync.Mutex
	var seen []State
	go func() {
		for {
			select {
			case s := <-snaps:
				mu.Lock()
				seen = append(seen, s.CallState)
				mu.Unlock()
			case <-stop:
				return
			}
		}
	}()

	h.src.Push(telephony.StateActive)
	eventually(t, "snapshot error", func() bool {
		return strings.Contains(h.o.Snapshot().Error, "exhausted")
	})
	snap := h.o.Snapshot()
	if snap.CallState != StateActive || snap.IsConnected {
		t.Fatalf("snapshot = %+v", snap)
	}
	if h.dev.CallCountStartCapture != 0 {
		t.Fatal("capture started after a failed open")
	}
	eventually(t, "disconnect", func() bool { return client.Disconnects() == 1 })

	mu.Lock()
	for _, st := range seen {
		if st == StateRecording {
			t.Errorf("reached recording: %v", seen)
		}
	}
	mu.Unlock()

	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)
}

func TestStreaming_FramesForwardedAndRepliesInjected(t *testing.T) {
	t.Parallel()

	client := &transportmock.Client{}
	h := newHarness(t,
		withFactory(streamingFactory(client)),
		withConfig(func(c *Config) { c.Mode = turn.ModeStreaming }),
	)
	h.activate()
	if !h.o.Snapshot().IsConnected {
		t.Fatal("streaming session not connected")
	}

	h.dev.emit(t, loudFrame(2048))
	eventually(t, "chunk sent", func() bool { return len(client.SentChunks()) == 1 })

	client.Deliver(transport.Message{Type: transport.TypeTranscription, Text: "hello?", Final: true})
	client.Deliver(transport.Message{
		Type:   transport.TypeAudio,
		Audio:  make([]byte, 960),
		Format: audio.Format{SampleRate: 24000, Channels: 1},
	})
	eventually(t, "two turns", func() bool { return len(h.o.Snapshot().History) == 2 })
	snap := h.o.Snapshot()
	if snap.History[1].Text != turn.AudioPlaceholder {
		t.Fatalf("assistant turn = %+v", snap.History[1])
	}
	eventually(t, "played", func() bool { return h.dev.WrittenBytes() == 960 })
	h.waitState(StateRecording)
}

func TestStreaming_MessagesDuringConnectAreKept(t *testing.T) {
	t.Parallel()

	client := &transportmock.Client{OnConnect: []transport.Message{
		{Type: transport.TypeConnectionAck},
		{Type: transport.TypeTranscription, Text: "early hello", Final: true},
	}}
	h := newHarness(t,
		withFactory(streamingFactory(client)),
		withConfig(func(c *Config) { c.Mode = turn.ModeStreaming }),
	)
	h.activate()

	eventually(t, "early transcription", func() bool { return h.o.Snapshot().LastTranscription == "early hello" })
	snap := h.o.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Role != RoleCaller || snap.History[0].Text != "early hello" {
		t.Fatalf("history = %+v", snap.History)
	}
}

func TestStreaming_FramesNotForwardedWhilePlaying(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &transportmock.Client{}
	h := newHarness(t,
		withFactory(streamingFactory(client)),
		withConfig(func(c *Config) { c.Mode = turn.ModeStreaming }),
	)
	h.dev.OnStopPlayback = func() { <-release }
	h.activate()

	h.dev.emit(t, loudFrame(2048))
	eventually(t, "chunk sent", func() bool { return len(client.SentChunks()) == 1 })

	client.Deliver(transport.Message{
		Type:   transport.TypeAudio,
		Audio:  make([]byte, 960),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	})
	h.waitState(StateAISpeaking)
	h.dev.emit(t, loudFrame(1000))
	h.dev.emit(t, loudFrame(1000))
	if n := len(client.SentChunks()); n != 1 {
		t.Fatalf("sent %d chunks while playing", n)
	}
	close(release)
	h.waitState(StateRecording)

	h.dev.emit(t, loudFrame(512))
	eventually(t, "chunk after playback", func() bool {
		sent := client.SentChunks()
		return len(sent) > 0 && len(sent[len(sent)-1].Data) == 512
	})
	sent := client.SentChunks()
	if len(sent) != 2 {
		sizes := make([]int, len(sent))
		for i, c := range sent {
			sizes[i] = len(c.Data)
		}
		t.Fatalf("sent chunk sizes = %v, want [2048 512]", sizes)
	}
}

func TestStreaming_TransportFailureKeepsCallActive(t *testing.T) {
	t.Parallel()

	client := &transportmock.Client{}
	h := newHarness(t,
		withFactory(streamingFactory(client)),
		withConfig(func(c *Config) { c.Mode = turn.ModeStreaming }),
	)
	h.activate()

	client.Fail(transport.ErrReconnectExhausted)
	eventually(t, "exhaustion surfaced", func() bool {
		return strings.Contains(h.o.Snapshot().Error, "exhausted")
	})
	snap := h.o.Snapshot()
	if snap.CallState != StateActive || snap.CallID == "" {
		t.Fatalf("snapshot = %+v", snap)
	}
	eventually(t, "capture stopped", func() bool { return !h.dev.Capturing() })
}

// ---- presentation ----

func TestSubscribe_ReceivesLatest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	snaps, cancel := h.o.Subscribe()
	defer cancel()
	first := <-snaps
	if first.CallState != StateIdle {
		t.Fatalf("first snapshot = %v", first.CallState)
	}

	h.activate()
	eventually(t, "recording snapshot", func() bool {
		select {
		case s := <-snaps:
			return s.CallState == StateRecording
		default:
			return false
		}
	})
	cancel()
	cancel()
}

func TestUpdateConfig_AppliesToNextSession(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var modes []turn.Mode
	h := newHarness(t, withFactory(turn.FactoryFunc(func(m turn.Mode, _ turn.Host, _ transport.Handler) (turn.Processor, error) {
		mu.Lock()
		defer mu.Unlock()
		modes = append(modes, m)
		return &turnmock.Processor{}, nil
	})))

	h.activate()
	h.o.UpdateConfig(Config{Mode: turn.ModeDual, AutoAnswer: true, PollInterval: testPoll, ChunkInterval: testInterval})
	eventually(t, "mode unchanged mid-call", func() bool { return h.o.Snapshot().Mode == turn.ModeBatched })

	h.src.Push(telephony.StateIdle)
	h.waitState(StateIdle)
	eventually(t, "idle snapshot shows new mode", func() bool { return h.o.Snapshot().Mode == turn.ModeDual })
	h.activate()

	mu.Lock()
	defer mu.Unlock()
	if len(modes) != 2 || modes[0] != turn.ModeBatched || modes[1] != turn.ModeDual {
		t.Fatalf("modes = %v", modes)
	}
}
