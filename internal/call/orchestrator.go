// Package call implements the call orchestrator: the state machine that
// notices an incoming call, answers it, runs the capture, transcribe, respond,
// play cycle for as long as the call lasts, and tears everything down when
// the call ends.
//
// All session state lives in a single dispatch loop ([Orchestrator.Run]).
// Telephony callbacks, timers, device frames, processor callbacks and
// transport traffic are posted to the loop as events; blocking work
// (answering, starting the processor, processing chunks, playback) runs in
// goroutines that report back with events tagged by call or session ID, so
// results that arrive after their session ended are simply dropped.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/telephony"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultPollInterval      = 1500 * time.Millisecond
	DefaultChunkInterval     = 5 * time.Second
	DefaultAnswerSettleDelay = time.Second
	DefaultIncomingTimeout   = 45 * time.Second
	DefaultHistoryLimit      = 50

	eventBuffer = 256
)

// Config tunes the orchestrator. It can be replaced at runtime with
// [Orchestrator.UpdateConfig]; changes apply to the next session.
type Config struct {
	Mode              turn.Mode
	AutoAnswer        bool
	PollInterval      time.Duration
	ChunkInterval     time.Duration
	AnswerSettleDelay time.Duration
	IncomingTimeout   time.Duration
	HistoryLimit      int

	// Capture is the format assumed for frames that do not carry one.
	Capture audio.Format

	// PlaybackFrameBytes is the write size used for playback.
	PlaybackFrameBytes int
}

func (c Config) withDefaults() Config {
	if !c.Mode.Valid() {
		c.Mode = turn.ModeBatched
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	if c.AnswerSettleDelay <= 0 {
		c.AnswerSettleDelay = DefaultAnswerSettleDelay
	}
	if c.IncomingTimeout <= 0 {
		c.IncomingTimeout = DefaultIncomingTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Capture.SampleRate <= 0 {
		c.Capture = audio.Format{SampleRate: audio.DefaultSampleRate, Channels: audio.DefaultChannels}
	}
	if c.PlaybackFrameBytes <= 0 {
		c.PlaybackFrameBytes = audio.DefaultFrameBytes
	}
	return c
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Source  telephony.Source
	Device  audio.Device
	Factory turn.Factory

	// Clock defaults to the wall clock.
	Clock Clock

	// Sink receives call records. Optional.
	Sink Sink

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// OnOwnerChange, if set, is called from the loop on every microphone
	// ownership change.
	OnOwnerChange func(Owner)
}

// Orchestrator drives one device's calls.
type Orchestrator struct {
	src      telephony.Source
	dev      audio.Device
	factory  turn.Factory
	clock    Clock
	sink     Sink
	metrics  *observe.Metrics
	onOwner  func(Owner)
	events   chan event
	done     chan struct{}
	feed     feed
	runOnce  sync.Once
	stopOnce sync.Once

	// Loop-owned state below.
	ctx            context.Context
	cfg            Config
	classification telephony.CallState
	call           *CallSession
	pollArmed      bool
	pollInFlight   bool
	pollTimer      Timer
	lastTeardown   chan struct{}
	idleErr        string
}

// New creates an orchestrator. Call [Orchestrator.Run] to start it.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("call: telephony source is required"))
	}
	if deps.Device == nil {
		errs = append(errs, errors.New("call: audio device is required"))
	}
	if deps.Factory == nil {
		errs = append(errs, errors.New("call: processor factory is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	done := make(chan struct{})
	close(done)
	o := &Orchestrator{
		src:          deps.Source,
		dev:          deps.Device,
		factory:      deps.Factory,
		clock:        deps.Clock,
		sink:         deps.Sink,
		metrics:      deps.Metrics,
		onOwner:      deps.OnOwnerChange,
		events:       make(chan event, eventBuffer),
		done:         make(chan struct{}),
		cfg:          cfg.withDefaults(),
		lastTeardown: done,
	}
	o.feed.latest = Snapshot{CallState: StateIdle, Mode: o.cfg.Mode, History: []Turn{}}
	return o, nil
}

// Snapshot returns the latest published state.
func (o *Orchestrator) Snapshot() Snapshot { return o.feed.get() }

// Subscribe returns a channel that receives the current snapshot and every
// later one. Slow readers only see the newest value. The returned func
// unsubscribes.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) { return o.feed.subscribe() }

// UpdateConfig replaces the configuration. Mode and interval changes apply
// to the next session; auto-answer and poll interval apply immediately.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.post(configUpdate{cfg: cfg.withDefaults()})
}

// post delivers ev to the loop. It reports false once the loop has stopped.
func (o *Orchestrator) post(ev event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

// Run executes the dispatch loop until ctx ends. An active session is torn
// down before Run returns. Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	err := errors.New("call: orchestrator already running")
	o.runOnce.Do(func() { err = o.run(ctx) })
	return err
}

func (o *Orchestrator) run(ctx context.Context) error {
	o.ctx = ctx
	defer o.stopOnce.Do(func() { close(o.done) })

	unsubscribe := o.src.Subscribe(func(s telephony.CallState) {
		o.post(telephonyEvent{state: s, source: "push"})
	})
	defer unsubscribe()

	o.post(pollTick{})
	o.pollArmed = true
	observe.Logger(ctx).Info("call orchestrator started", "mode", string(o.cfg.Mode), "auto_answer", o.cfg.AutoAnswer)

	for {
		select {
		case <-ctx.Done():
			if o.pollTimer != nil {
				o.pollTimer.Stop()
			}
			o.endCall("shutdown")
			<-o.lastTeardown
			return ctx.Err()
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case telephonyEvent:
		o.classify(ev.state, ev.source)
	case pollTick:
		o.onPollTick()
	case pollResult:
		o.onPollResult(ev)
	case answerResult:
		o.onAnswerResult(ev)
	case incomingTimeout:
		o.onIncomingTimeout(ev)
	case startResult:
		o.onStartResult(ev)
	case captureStarted:
		o.onCaptureStarted(ev)
	case frameEvent:
		o.onFrame(ev)
	case captureEnded:
		o.onCaptureEnded(ev)
	case chunkBoundary:
		o.onChunkBoundary(ev)
	case speakRequest:
		o.onSpeakRequest(ev)
	case speakDone:
		o.onSpeakDone(ev)
	case transcribed:
		o.onTranscribed(ev)
	case reported:
		o.onReported(ev)
	case streamMessage:
		o.onStreamMessage(ev)
	case streamFailed:
		o.onStreamFailed(ev)
	case configUpdate:
		o.onConfigUpdate(ev)
	}
}

// session returns the call when sessionID names its running AI session.
func (o *Orchestrator) session(sessionID string) *CallSession {
	c := o.call
	if c == nil || !c.inProgress || c.sessionID != sessionID {
		return nil
	}
	return c
}

func (o *Orchestrator) logCtx() context.Context {
	if o.call == nil {
		return o.ctx
	}
	return observe.WithCall(o.ctx, o.call.ID, o.call.sessionID)
}

// ---- telephony ----

func (o *Orchestrator) onPollTick() {
	o.pollArmed = false
	if o.pollInFlight {
		return
	}
	o.pollInFlight = true
	ctx := o.ctx
	go func() {
		st, err := o.src.State(ctx)
		o.post(pollResult{state: st, err: err})
	}()
}

func (o *Orchestrator) onPollResult(ev pollResult) {
	o.pollInFlight = false
	st := ev.state
	if ev.err != nil {
		observe.Logger(o.ctx).Debug("telephony poll failed, treating as idle", "err", ev.err)
		st = telephony.StateIdle
	}
	o.classify(st, "poll")
	if !o.pollArmed {
		o.schedulePoll(o.cfg.PollInterval)
	}
}

func (o *Orchestrator) schedulePoll(d time.Duration) {
	if o.pollTimer != nil {
		o.pollTimer.Stop()
	}
	o.pollArmed = true
	o.pollTimer = o.clock.AfterFunc(d, func() { o.post(pollTick{}) })
}

// classify acts on a telephony state only when it changes the current
// classification, which makes push and poll safe to combine.
func (o *Orchestrator) classify(st telephony.CallState, source string) {
	if st == o.classification {
		return
	}
	prev := o.classification
	o.classification = st
	observe.Logger(o.logCtx()).Info("call state changed", "from", prev.String(), "to", st.String(), "source", source)

	if prev == telephony.StateRinging && o.call != nil {
		o.call.answering = false
	}
	switch st {
	case telephony.StateRinging:
		o.onRinging()
	case telephony.StateActive:
		o.onActive()
	case telephony.StateIdle:
		o.endCall("completed")
	}
}

func (o *Orchestrator) newCall(state State) {
	o.call = &CallSession{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
		State:     state,
		history:   history{limit: o.cfg.HistoryLimit},
	}
	o.idleErr = ""
	o.metrics.CallStarted(o.ctx)
	o.sink.CallStarted(o.ctx, CallRecord{ID: o.call.ID, StartedAt: o.call.StartedAt, Mode: o.cfg.Mode})
}

func (o *Orchestrator) onRinging() {
	if o.call != nil && o.call.inProgress {
		observe.Logger(o.logCtx()).Info("ringing during an active session, ignoring")
		return
	}
	if o.call == nil {
		o.newCall(StateIncoming)
	}
	c := o.call
	c.State = StateIncoming
	callID := c.ID
	if c.incomingStop == nil {
		t := o.clock.AfterFunc(o.cfg.IncomingTimeout, func() { o.post(incomingTimeout{callID: callID}) })
		c.incomingStop = func() { t.Stop() }
	}
	if o.cfg.AutoAnswer && !c.answering {
		c.answering = true
		ctx := o.logCtx()
		go func() {
			err := o.src.Answer(ctx)
			o.post(answerResult{callID: callID, err: err})
		}()
	}
	o.publish()
}

func (o *Orchestrator) onAnswerResult(ev answerResult) {
	o.metrics.RecordAnswer(o.ctx, ev.err)
	c := o.call
	if c == nil || c.ID != ev.callID {
		return
	}
	log := observe.Logger(o.logCtx())
	if ev.err != nil {
		log.Warn("answer failed", "err", ev.err)
		c.answering = false
		if errors.Is(ev.err, telephony.ErrPermissionDenied) {
			c.err = ev.err.Error()
		}
		o.publish()
		return
	}
	log.Info("call answered")
	o.schedulePoll(o.cfg.AnswerSettleDelay)
}

func (o *Orchestrator) onIncomingTimeout(ev incomingTimeout) {
	c := o.call
	if c == nil || c.ID != ev.callID || c.State != StateIncoming {
		return
	}
	observe.Logger(o.logCtx()).Info("incoming call not answered in time, clearing")
	o.endCall("missed")
}

func (o *Orchestrator) onActive() {
	if o.call == nil {
		o.newCall(StateActive)
	}
	c := o.call
	if c.incomingStop != nil {
		c.incomingStop()
		c.incomingStop = nil
	}
	c.answering = false
	if c.State == StateIncoming || c.State == StateIdle {
		c.State = StateActive
	}
	if !c.inProgress {
		o.startSession()
	}
	o.publish()
}

// ---- session lifecycle ----

func (o *Orchestrator) startSession() {
	c := o.call
	c.inProgress = true
	c.sessionID = transport.NewSessionID()
	c.mode = o.cfg.Mode
	c.history.reset()
	c.turns = 0
	c.lastText = ""
	c.err = ""
	c.owner = OwnerNone
	c.ctx, c.cancel = context.WithCancel(observe.WithCall(o.ctx, c.ID, c.sessionID))
	c.bufFormat = o.cfg.Capture
	sessionID := c.sessionID
	c.interval = newIntervalClock(o.clock, o.cfg.ChunkInterval, func(gen uint64) {
		o.post(chunkBoundary{sessionID: sessionID, gen: gen})
	})

	log := observe.Logger(c.ctx)
	host := &sessionHost{o: o, id: sessionID}
	proc, err := o.factory.New(c.mode, host, host)
	if err != nil {
		log.Error("building turn processor failed", "mode", string(c.mode), "err", err)
		c.err = err.Error()
		c.cancel()
		return
	}
	c.proc = proc
	// Messages that arrive while Start is still connecting queue here until
	// onStartResult starts draining.
	c.work = newWorker(proc, c.mode, o.metrics)
	log.Info("starting AI session", "mode", string(c.mode))

	ctx := c.ctx
	go func() {
		err := proc.Start(ctx)
		o.post(startResult{sessionID: sessionID, err: err})
	}()
}

func (o *Orchestrator) onStartResult(ev startResult) {
	c := o.session(ev.sessionID)
	if c == nil || c.proc == nil {
		return
	}
	log := observe.Logger(c.ctx)
	if ev.err != nil {
		log.Error("AI session failed to start", "err", ev.err)
		o.stopAI(ev.err)
		return
	}
	c.started = true
	c.connected = true
	go c.work.run(c.ctx)

	ctx, wait := c.ctx, o.lastTeardown
	sessionID := c.sessionID
	go func() {
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		frames, err := o.dev.StartCapture(ctx)
		o.post(captureStarted{sessionID: sessionID, frames: frames, err: err})
	}()
	o.publish()
}

func (o *Orchestrator) onCaptureStarted(ev captureStarted) {
	c := o.session(ev.sessionID)
	if c == nil || c.proc == nil {
		return
	}
	if ev.err != nil {
		observe.Logger(c.ctx).Error("capture failed to start", "err", ev.err)
		o.stopAI(fmt.Errorf("call: capture: %w", ev.err))
		return
	}
	c.capturing = true
	sessionID, ctx := c.sessionID, c.ctx
	go func() {
		for f := range ev.frames {
			if !o.post(frameEvent{sessionID: sessionID, frame: f}) {
				return
			}
		}
		if ctx.Err() == nil {
			o.post(captureEnded{sessionID: sessionID})
		}
	}()
	if c.owner != OwnerPlayback {
		o.acquireCapture(c)
	}
	o.publish()
}

// acquireCapture hands the microphone to capture, opens a fresh buffer and
// resumes the interval clock.
func (o *Orchestrator) acquireCapture(c *CallSession) {
	o.setOwner(c, OwnerCapture)
	c.State = StateRecording
	if c.mode != turn.ModeStreaming {
		if c.bufStart.IsZero() {
			c.bufStart = o.clock.Now()
		}
		c.interval.resume()
	}
}

func (o *Orchestrator) setOwner(c *CallSession, owner Owner) {
	if c.owner == owner {
		return
	}
	observe.Logger(c.ctx).Debug("mic ownership changed", "from", c.owner.String(), "to", owner.String())
	c.owner = owner
	if o.onOwner != nil {
		o.onOwner(owner)
	}
}

// stopAI tears down the AI path but leaves the call itself alone. cause, when
// non-nil, is surfaced in the snapshot.
func (o *Orchestrator) stopAI(cause error) {
	c := o.call
	if c == nil || !c.inProgress {
		return
	}
	if cause != nil {
		c.err = cause.Error()
	}
	c.cancel()
	if c.interval != nil {
		c.interval.stop()
	}
	if c.owner != OwnerNone {
		o.setOwner(c, OwnerNone)
	}

	proc, capturing, dev := c.proc, c.capturing, o.dev
	done := make(chan struct{})
	prev := o.lastTeardown
	o.lastTeardown = done
	go func() {
		defer close(done)
		<-prev
		if capturing {
			_ = dev.StopCapture()
		}
		_ = dev.AbortPlayback()
		if proc != nil {
			if err := proc.Close(); err != nil {
				observe.Logger(o.ctx).Warn("closing turn processor failed", "err", err)
			}
		}
	}()

	c.inProgress = false
	c.started = false
	c.capturing = false
	c.connected = false
	c.proc = nil
	c.work = nil
	c.buf = nil
	c.bufStart = time.Time{}
	if c.State == StateRecording || c.State == StateAISpeaking {
		c.State = StateActive
	}
	o.publish()
}

// endCall tears down any session and destroys the CallSession. A second call
// is a no-op.
func (o *Orchestrator) endCall(outcome string) {
	c := o.call
	if c == nil {
		return
	}
	if c.incomingStop != nil {
		c.incomingStop()
	}
	o.stopAI(nil)

	now := o.clock.Now()
	observe.Logger(o.logCtx()).Info("call ended", "outcome", outcome, "duration", c.Duration(now), "turns", c.turns)
	o.metrics.CallEnded(o.ctx, outcome)
	o.sink.CallEnded(o.ctx, CallRecord{
		ID:        c.ID,
		StartedAt: c.StartedAt,
		EndedAt:   now,
		Mode:      c.mode,
		Turns:     c.turns,
		Outcome:   outcome,
		Error:     c.err,
	})
	o.idleErr = c.err
	o.call = nil
	o.publish()
}

// ---- capture and chunks ----

func (o *Orchestrator) onFrame(ev frameEvent) {
	c := o.session(ev.sessionID)
	if c == nil || c.owner != OwnerCapture {
		return
	}
	f := ev.frame
	format := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = o.cfg.Capture
	}
	if c.mode == turn.ModeStreaming {
		ch := audio.NewChunk(f.Data, format, o.clock.Now())
		c.work.enqueue(c.ctx, workItem{chunk: &ch})
		return
	}
	if format != c.bufFormat && len(c.buf) > 0 {
		f.Data = audio.Convert(f.Data, format, c.bufFormat)
	} else {
		c.bufFormat = format
	}
	c.buf = append(c.buf, f.Data...)
}

func (o *Orchestrator) onChunkBoundary(ev chunkBoundary) {
	c := o.session(ev.sessionID)
	if c == nil || c.interval == nil || !c.interval.boundary(ev.gen) {
		return
	}
	ch := audio.NewChunk(c.buf, c.bufFormat, c.bufStart)
	c.buf = c.buf[:0]
	c.bufStart = time.Time{}
	observe.Logger(c.ctx).Debug("chunk boundary", "bytes", len(ch.Data), "duration", ch.Duration())
	c.work.enqueue(c.ctx, workItem{chunk: &ch})

	if c.owner == OwnerCapture && o.classification == telephony.StateActive {
		c.bufStart = o.clock.Now()
		c.interval.resume()
	}
}

func (o *Orchestrator) onCaptureEnded(ev captureEnded) {
	c := o.session(ev.sessionID)
	if c == nil {
		return
	}
	observe.Logger(c.ctx).Error("capture stream ended unexpectedly")
	o.stopAI(errors.New("call: capture stream ended"))
}

// ---- playback ----

func (o *Orchestrator) onSpeakRequest(ev speakRequest) {
	c := o.session(ev.sessionID)
	if c == nil {
		ev.reply <- errSessionGone
		return
	}
	if c.owner == OwnerPlayback {
		ev.reply <- errors.New("call: playback already in progress")
		return
	}
	if len(ev.speech.Audio) < 2 || ev.speech.SampleRate <= 0 {
		o.addTurn(c, RoleAssistant, ev.speech.TurnText())
		ev.reply <- nil
		o.publish()
		return
	}

	c.interval.pause()
	o.setOwner(c, OwnerPlayback)
	c.State = StateAISpeaking
	o.publish()

	ctx, dev, frameBytes := c.ctx, o.dev, o.cfg.PlaybackFrameBytes
	go func() {
		err := play(ctx, dev, ev.speech, frameBytes)
		o.post(speakDone{sessionID: ev.sessionID, speech: ev.speech, err: err, reply: ev.reply})
	}()
}

// play streams s to the device and returns once it has finished playing. A
// cancelled or failed playback is aborted rather than drained.
func play(ctx context.Context, dev audio.Device, s turn.Speech, frameBytes int) error {
	ctx, span := observe.StartSpan(ctx, "call.playback")
	defer span.End()
	if err := dev.StartPlayback(ctx, s.SampleRate); err != nil {
		return fmt.Errorf("call: start playback: %w", err)
	}
	for _, f := range audio.Frames(s.Audio, frameBytes) {
		if err := ctx.Err(); err != nil {
			_ = dev.AbortPlayback()
			return err
		}
		if err := dev.WritePlayback(f); err != nil {
			_ = dev.AbortPlayback()
			return fmt.Errorf("call: write playback: %w", err)
		}
	}
	if err := dev.StopPlayback(); err != nil {
		return fmt.Errorf("call: stop playback: %w", err)
	}
	return nil
}

func (o *Orchestrator) onSpeakDone(ev speakDone) {
	ev.reply <- ev.err
	c := o.session(ev.sessionID)
	if c == nil {
		return
	}
	if ev.err != nil {
		if c.ctx.Err() == nil {
			observe.Logger(c.ctx).Error("playback failed", "err", ev.err)
			o.stopAI(ev.err)
		}
		return
	}
	o.addTurn(c, RoleAssistant, ev.speech.TurnText())
	if c.capturing {
		o.acquireCapture(c)
	} else {
		o.setOwner(c, OwnerNone)
		c.State = StateActive
	}
	o.publish()
}

// ---- processor callbacks ----

func (o *Orchestrator) onTranscribed(ev transcribed) {
	c := o.session(ev.sessionID)
	if c == nil || ev.text == "" {
		return
	}
	c.lastText = ev.text
	o.addTurn(c, RoleCaller, ev.text)
	o.publish()
}

func (o *Orchestrator) onReported(ev reported) {
	c := o.session(ev.sessionID)
	if c == nil || ev.err == nil {
		return
	}
	observe.Logger(c.ctx).Warn("AI backend reported an error", "err", ev.err)
	c.err = ev.err.Error()
	o.publish()
}

func (o *Orchestrator) addTurn(c *CallSession, role Role, text string) {
	t := Turn{Role: role, Text: text, Timestamp: o.clock.Now()}
	c.history.add(t)
	c.turns++
	o.sink.TurnRecorded(o.ctx, c.ID, t)
}

// ---- transport ----

func (o *Orchestrator) onStreamMessage(ev streamMessage) {
	c := o.session(ev.sessionID)
	if c == nil || c.work == nil {
		return
	}
	if ev.msg.Type == transport.TypeConnectionAck {
		c.connected = true
		o.publish()
	}
	m := ev.msg
	c.work.enqueue(c.ctx, workItem{msg: &m})
}

func (o *Orchestrator) onStreamFailed(ev streamFailed) {
	c := o.session(ev.sessionID)
	if c == nil {
		return
	}
	observe.Logger(c.ctx).Error("stream transport failed", "err", ev.err)
	o.stopAI(ev.err)
}

func (o *Orchestrator) onConfigUpdate(ev configUpdate) {
	prev := o.cfg
	o.cfg = ev.cfg
	observe.Logger(o.ctx).Info("call config updated", "mode", string(o.cfg.Mode), "auto_answer", o.cfg.AutoAnswer)
	if prev.PollInterval != o.cfg.PollInterval && o.pollArmed {
		o.schedulePoll(o.cfg.PollInterval)
	}
	if o.call == nil {
		o.publish()
	}
}

// ---- presentation ----

func (o *Orchestrator) publish() {
	now := o.clock.Now()
	s := Snapshot{CallState: StateIdle, Mode: o.cfg.Mode, History: []Turn{}, Error: o.idleErr, At: now}
	if c := o.call; c != nil {
		s.CallState = c.State
		s.CallID = c.ID
		s.SessionID = c.sessionID
		s.IsConnected = c.inProgress && c.connected
		s.LastTranscription = c.lastText
		s.History = c.history.snapshot()
		s.CallDuration = c.Duration(now)
		s.Error = c.err
		if c.inProgress {
			s.Mode = c.mode
		}
		if st, ok := c.proc.(interface{ Info() transport.StreamInfo }); ok && c.inProgress {
			s.IsConnected = st.Info().ConnectionState == transport.StateOpen
		}
	}
	o.feed.publish(s)
}
