// Package bridge connects callpilot to the handset that owns the phone line.
//
// The handset app dials GET /v1/device and keeps a single websocket open.
// Over it the handset reports call-state changes and captured audio, and
// executes the commands the server sends (answer, capture, playback). The
// [Bridge] turns that connection into a [telephony.Source] and an
// [audio.Device], so the call orchestrator never knows a network hop exists.
//
// Only one handset is served at a time; a new connection replaces the old one.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/telephony"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultPlaybackTail   = 500 * time.Millisecond
	frameBuffer           = 64
	readLimit             = 1 << 20
)

// ErrRejected wraps a command the handset answered with an error.
var ErrRejected = errors.New("bridge: command rejected by handset")

// Config configures a [Bridge].
type Config struct {
	// Capture is assumed for audio frames that do not state their format.
	Capture audio.Format

	// AuthToken, when set, must be presented as a Bearer token.
	AuthToken string

	// RequestTimeout bounds one command round trip. Defaults to 5s.
	RequestTimeout time.Duration

	// PlaybackTail is waited after the handset reports playback drained,
	// before StopPlayback returns. Defaults to 500ms; negative disables it.
	PlaybackTail time.Duration
}

// Bridge implements telephony.Source and audio.Device over the handset
// websocket. It is safe for concurrent use.
type Bridge struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	connGen uint64
	pending map[string]chan message
	subs    map[int]func(telephony.CallState)
	nextSub int

	frames    chan audio.AudioFrame
	capturing bool
	playing   bool
	rate      int

	// drainCancel ends the wait of a StopPlayback in progress.
	drainCancel context.CancelFunc
}

var (
	_ telephony.Source = (*Bridge)(nil)
	_ audio.Device     = (*Bridge)(nil)
	_ http.Handler     = (*Bridge)(nil)
)

// New returns a bridge with no handset attached.
func New(cfg Config) *Bridge {
	if cfg.Capture.SampleRate <= 0 || cfg.Capture.Channels <= 0 {
		cfg.Capture = audio.Format{SampleRate: audio.DefaultSampleRate, Channels: audio.DefaultChannels}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PlaybackTail == 0 {
		cfg.PlaybackTail = defaultPlaybackTail
	}
	return &Bridge{
		cfg:     cfg,
		pending: make(map[string]chan message),
		subs:    make(map[int]func(telephony.CallState)),
	}
}

// Connected reports whether a handset is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ─── Connection ────────────────────────────────────────────────────────────

// ServeHTTP upgrades the handset connection and serves it until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.cfg.AuthToken != "" && r.Header.Get("Authorization") != "Bearer "+b.cfg.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("bridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	gen := b.attach(conn)
	slog.Info("bridge: handset connected", "remote", r.RemoteAddr)
	defer func() {
		b.detach(gen)
		conn.CloseNow()
		slog.Info("bridge: handset disconnected", "remote", r.RemoteAddr)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if s := websocket.CloseStatus(err); s != websocket.StatusNormalClosure && s != websocket.StatusGoingAway && ctx.Err() == nil {
				slog.Warn("bridge: read failed", "err", err)
			}
			return
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("bridge: ignoring malformed message", "err", err)
			continue
		}
		b.dispatch(m)
	}
}

func (b *Bridge) attach(conn *websocket.Conn) uint64 {
	b.mu.Lock()
	old := b.conn
	b.conn = conn
	b.connGen++
	gen := b.connGen
	b.mu.Unlock()
	if old != nil {
		old.Close(websocket.StatusPolicyViolation, "replaced by a new handset connection")
	}
	return gen
}

// detach drops the connection of generation gen. Pending commands fail, an
// open capture ends and subscribers see the line go idle.
func (b *Bridge) detach(gen uint64) {
	b.mu.Lock()
	if b.connGen != gen || b.conn == nil {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.endCaptureLocked()
	b.playing = false
	b.mu.Unlock()

	b.notify(telephony.StateIdle)
}

func (b *Bridge) dispatch(m message) {
	switch m.Type {
	case typeCallState:
		b.notify(m.callState())
	case typeAudio:
		b.onAudio(m)
	case typeReply:
		b.mu.Lock()
		ch, ok := b.pending[m.ID]
		delete(b.pending, m.ID)
		b.mu.Unlock()
		if ok {
			ch <- m
		}
	default:
		slog.Warn("bridge: unknown message type", "type", m.Type)
	}
}

func (b *Bridge) onAudio(m message) {
	pcm, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		slog.Warn("bridge: bad audio payload", "err", err)
		return
	}
	f := audio.AudioFrame{
		Data:       pcm,
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
		Timestamp:  time.Duration(m.Offset) * time.Millisecond,
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		f.SampleRate, f.Channels = b.cfg.Capture.SampleRate, b.cfg.Capture.Channels
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		return
	}
	select {
	case b.frames <- f:
	default:
		slog.Warn("bridge: capture consumer too slow, dropping frame")
	}
}

// request sends a command and waits for its reply. Without a deadline on ctx
// the configured request timeout applies.
func (b *Bridge) request(ctx context.Context, m message) (message, error) {
	m.ID = uuid.NewString()
	reply := make(chan message, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return message{}, audio.ErrDeviceUnavailable
	}
	b.pending[m.ID] = reply
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.pending, m.ID)
		b.mu.Unlock()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	data, err := json.Marshal(m)
	if err != nil {
		cleanup()
		return message{}, fmt.Errorf("bridge: marshal %s: %w", m.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		cleanup()
		return message{}, fmt.Errorf("bridge: send %s: %w", m.Type, err)
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return message{}, audio.ErrDeviceUnavailable
		}
		if !r.OK {
			return r, replyError(m.Type, r)
		}
		return r, nil
	case <-ctx.Done():
		cleanup()
		return message{}, fmt.Errorf("bridge: %s: %w", m.Type, ctx.Err())
	}
}

func replyError(cmd string, r message) error {
	switch r.ErrorCode {
	case codePermissionDenied:
		return telephony.ErrPermissionDenied
	case codeNotRinging:
		return telephony.ErrNotRinging
	}
	msg := strings.TrimSpace(r.Error)
	if msg == "" {
		msg = "no detail"
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, cmd, msg)
}

// ─── telephony.Source ──────────────────────────────────────────────────────

// State asks the handset for the current call state.
func (b *Bridge) State(ctx context.Context) (telephony.CallState, error) {
	r, err := b.request(ctx, message{Type: cmdQueryState})
	if err != nil {
		return telephony.StateIdle, err
	}
	return r.callState(), nil
}

// Subscribe registers fn for pushed call-state changes.
func (b *Bridge) Subscribe(fn func(telephony.CallState)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

func (b *Bridge) notify(st telephony.CallState) {
	b.mu.Lock()
	fns := make([]func(telephony.CallState), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Answer asks the handset to pick up the ringing call.
func (b *Bridge) Answer(ctx context.Context) error {
	_, err := b.request(ctx, message{Type: cmdAnswer})
	return err
}

// ─── audio.Device ──────────────────────────────────────────────────────────

// StartCapture starts handset capture. A second call returns the same
// channel. The channel closes on StopCapture, when ctx ends or when the
// handset disconnects.
func (b *Bridge) StartCapture(ctx context.Context) (<-chan audio.AudioFrame, error) {
	b.mu.Lock()
	if b.capturing {
		ch := b.frames
		b.mu.Unlock()
		return ch, nil
	}
	b.mu.Unlock()

	if _, err := b.request(ctx, message{Type: cmdCaptureStart, SampleRate: b.cfg.Capture.SampleRate, Channels: b.cfg.Capture.Channels}); err != nil {
		return nil, fmt.Errorf("bridge: start capture: %w", err)
	}

	b.mu.Lock()
	if b.capturing {
		ch := b.frames
		b.mu.Unlock()
		return ch, nil
	}
	frames := make(chan audio.AudioFrame, frameBuffer)
	b.frames = frames
	b.capturing = true
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		still := b.capturing && b.frames == frames
		b.mu.Unlock()
		if still {
			_ = b.StopCapture()
		}
	}()
	return frames, nil
}

// StopCapture stops handset capture. Safe to call when not capturing.
func (b *Bridge) StopCapture() error {
	b.mu.Lock()
	if !b.capturing {
		b.mu.Unlock()
		return nil
	}
	b.endCaptureLocked()
	b.mu.Unlock()

	if _, err := b.request(context.Background(), message{Type: cmdCaptureStop}); err != nil && !errors.Is(err, audio.ErrDeviceUnavailable) {
		return fmt.Errorf("bridge: stop capture: %w", err)
	}
	return nil
}

func (b *Bridge) endCaptureLocked() {
	if b.capturing {
		close(b.frames)
		b.capturing = false
	}
}

// StartPlayback opens the in-call output track. A second call while open is
// a no-op.
func (b *Bridge) StartPlayback(ctx context.Context, sampleRate int) error {
	b.mu.Lock()
	if b.playing {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if _, err := b.request(ctx, message{Type: cmdPlaybackStart, SampleRate: sampleRate, Channels: 1}); err != nil {
		return fmt.Errorf("bridge: start playback: %w", err)
	}
	b.mu.Lock()
	b.playing = true
	b.rate = sampleRate
	b.mu.Unlock()
	return nil
}

// WritePlayback queues pcm on the open track. It returns once the handset
// has accepted the buffer.
func (b *Bridge) WritePlayback(pcm []byte) error {
	b.mu.Lock()
	playing, rate := b.playing, b.rate
	b.mu.Unlock()
	if !playing {
		return audio.ErrPlaybackNotStarted
	}
	_, err := b.request(context.Background(), message{
		Type:       cmdPlaybackWrite,
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: rate,
		Channels:   1,
	})
	if err != nil {
		return fmt.Errorf("bridge: write playback: %w", err)
	}
	return nil
}

// StopPlayback asks the handset to drain and close the track, then waits the
// playback tail. Safe to call when not playing. An [Bridge.AbortPlayback]
// during the drain makes it return at once, without the tail.
func (b *Bridge) StopPlayback() error {
	// Draining takes as long as the queued audio.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b.mu.Lock()
	if !b.playing {
		b.mu.Unlock()
		return nil
	}
	b.playing = false
	b.drainCancel = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.drainCancel = nil
		b.mu.Unlock()
	}()

	if _, err := b.request(ctx, message{Type: cmdPlaybackStop}); err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) || errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("bridge: stop playback: %w", err)
	}
	if b.cfg.PlaybackTail > 0 {
		time.Sleep(b.cfg.PlaybackTail)
	}
	return nil
}

// AbortPlayback tells the handset to drop queued audio and close the track.
// It also releases a StopPlayback that is still waiting for the drain.
func (b *Bridge) AbortPlayback() error {
	b.mu.Lock()
	playing, drain := b.playing, b.drainCancel
	b.playing = false
	b.mu.Unlock()
	if !playing && drain == nil {
		return nil
	}
	if drain != nil {
		drain()
	}

	if _, err := b.request(context.Background(), message{Type: cmdPlaybackStop, Flush: true}); err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return nil
		}
		return fmt.Errorf("bridge: abort playback: %w", err)
	}
	return nil
}
