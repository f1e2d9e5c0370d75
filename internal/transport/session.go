package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Default connection parameters.
const (
	defaultMaxAttempts = 5
	defaultBackoff     = 2 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultReadLimit   = 8 << 20
)

var (
	// ErrReconnectExhausted is surfaced once the connect budget is used up.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")

	// ErrClosed is returned by operations on a disconnected session.
	ErrClosed = errors.New("transport: session closed")

	// ErrNotConnected is returned by Send while a reconnect is in progress.
	ErrNotConnected = errors.New("transport: not connected")
)

// ConnectionState is the lifecycle state of a [Session].
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// StreamInfo describes one transport lifetime.
type StreamInfo struct {
	SessionID        string
	ConnectionState  ConnectionState
	ReconnectAttempt int
	Acknowledged     bool
}

// Handler receives inbound traffic. Both methods are called from the session's
// read goroutine and must not block for long.
type Handler interface {
	// HandleMessage is called for every decodable inbound message.
	HandleMessage(Message)

	// HandleFailure is called at most once, when the reconnect budget is
	// exhausted after an unexpected closure.
	HandleFailure(error)
}

// Client is the contract turn processors depend on. [Session] implements it.
type Client interface {
	Connect(ctx context.Context, sessionID string) error
	Send(ctx context.Context, c audio.Chunk) error
	Disconnect() error
	Info() StreamInfo
}

// Config configures a [Session].
type Config struct {
	// URL is the backend websocket endpoint (ws:// or wss://).
	URL string

	// Header is sent with every dial. May be nil.
	Header http.Header

	// MaxAttempts is the consecutive connect budget. Defaults to 5.
	MaxAttempts int

	// Backoff is the fixed delay between attempts. Defaults to 2s.
	Backoff time.Duration

	// DialTimeout bounds a single dial. Defaults to 10s.
	DialTimeout time.Duration

	// BinaryFormat is the PCM format assumed for binary audio frames.
	// Defaults to 16 kHz mono.
	BinaryFormat audio.Format

	// Metrics records connect attempts. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session is a reconnecting websocket to the AI backend, bound to one call.
//
// All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	handler Handler
	now     func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	info      StreamInfo
	budget    int
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	failOnce  sync.Once
	closeOnce sync.Once
}

var _ Client = (*Session)(nil)

// NewSession returns an unconnected session that delivers inbound traffic to
// h.
func NewSession(cfg Config, h Handler) *Session {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.BinaryFormat.SampleRate <= 0 {
		cfg.BinaryFormat = audio.Format{SampleRate: audio.DefaultSampleRate, Channels: audio.DefaultChannels}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:     cfg,
		handler: h,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		info:    StreamInfo{ConnectionState: StateClosed},
	}
}

// NewSessionID returns a fresh stream session identifier of the form
// "<unix-millis>-<8 hex chars>".
func NewSessionID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

// Info returns a snapshot of the stream state.
func (s *Session) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Connect dials the backend for sessionID, retrying up to the configured
// budget with a fixed backoff. It returns an error wrapping
// ErrReconnectExhausted when every attempt failed, or ctx.Err() if ctx ends
// first.
func (s *Session) Connect(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.info = StreamInfo{SessionID: sessionID, ConnectionState: StateConnecting}
	s.budget = s.cfg.MaxAttempts
	s.mu.Unlock()

	conn, err := s.dialWithRetry(ctx)
	if err != nil {
		s.setState(StateClosed)
		return err
	}
	s.adopt(conn)
	return nil
}

// dialWithRetry performs up to budget consecutive dial attempts. The budget is
// re-read before every attempt so that Disconnect can stop the loop.
func (s *Session) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		budget, closed := s.budget, s.closed
		if attempt <= budget {
			s.info.ReconnectAttempt = attempt
		}
		sessionID := s.info.SessionID
		s.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}
		if attempt > budget {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, budget, lastErr)
		}

		conn, err := s.dial(ctx, sessionID, attempt)
		s.cfg.Metrics.RecordReconnect(ctx, attempt, err)
		if err == nil {
			slog.Info("transport connected",
				"session_id", sessionID,
				"attempt", attempt,
			)
			return conn, nil
		}
		lastErr = err
		slog.Warn("transport connect attempt failed",
			"session_id", sessionID,
			"attempt", attempt,
			"max_attempts", budget,
			"err", err,
		)
		if attempt >= budget {
			continue
		}

		t := time.NewTimer(s.cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-s.ctx.Done():
			t.Stop()
			return nil, ErrClosed
		case <-t.C:
		}
	}
}

func (s *Session) dial(ctx context.Context, sessionID string, attempt int) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	header := s.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Session-ID", sessionID)
	header.Set("X-Reconnect-Attempt", strconv.Itoa(attempt))

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)
	return conn, nil
}

// adopt installs conn as the live connection and starts its read loop. If the
// session was disconnected meanwhile the connection is closed instead.
func (s *Session) adopt(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}
	s.conn = conn
	s.info.ConnectionState = StateOpen
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *Session) setState(st ConnectionState) {
	s.mu.Lock()
	s.info.ConnectionState = st
	s.mu.Unlock()
}

// readLoop decodes inbound frames until conn fails, then hands over to the
// reconnect path unless the session was disconnected on purpose.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			s.onConnLost(conn, err)
			return
		}
		s.dispatch(typ, data)
	}
}

func (s *Session) dispatch(typ websocket.MessageType, data []byte) {
	sessionID := s.Info().SessionID

	if typ == websocket.MessageBinary {
		s.handler.HandleMessage(BinaryMessage(sessionID, data, s.cfg.BinaryFormat, s.now()))
		return
	}

	msg, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			slog.Warn("ignoring unknown transport message", "session_id", sessionID, "type", msg.Type)
		} else {
			slog.Warn("ignoring malformed transport message", "session_id", sessionID, "err", err)
		}
		return
	}
	if msg.HasAudio() && msg.Format.SampleRate <= 0 {
		slog.Debug("reply audio without sample rate, assuming binary format",
			"session_id", sessionID, "sample_rate", s.cfg.BinaryFormat.SampleRate)
		msg.Format.SampleRate = s.cfg.BinaryFormat.SampleRate
	}
	if msg.Type == TypeConnectionAck {
		s.mu.Lock()
		s.info.Acknowledged = true
		s.mu.Unlock()
	}
	s.handler.HandleMessage(msg)
}

func (s *Session) onConnLost(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.info.ConnectionState = StateConnecting
	s.info.Acknowledged = false
	s.budget = s.cfg.MaxAttempts
	sessionID := s.info.SessionID
	s.mu.Unlock()

	conn.CloseNow()
	slog.Warn("transport connection lost, reconnecting",
		"session_id", sessionID,
		"close_status", websocket.CloseStatus(err),
		"err", err,
	)

	newConn, rerr := s.dialWithRetry(s.ctx)
	if rerr != nil {
		if errors.Is(rerr, ErrClosed) || errors.Is(rerr, context.Canceled) {
			return
		}
		s.setState(StateClosed)
		slog.Error("transport reconnect failed", "session_id", sessionID, "err", rerr)
		s.failOnce.Do(func() { s.handler.HandleFailure(rerr) })
		return
	}
	s.adopt(newConn)
}

// Send writes c as an audio-append envelope.
func (s *Session) Send(ctx context.Context, c audio.Chunk) error {
	s.mu.Lock()
	conn, closed, sessionID := s.conn, s.closed, s.info.SessionID
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	env, err := AudioEnvelope(sessionID, c, s.now())
	if err != nil {
		return err
	}
	return writeEnvelope(ctx, conn, env)
}

// SendControl writes a control envelope, e.g. to signal end of input.
func (s *Session) SendControl(ctx context.Context, p ControlPayload) error {
	s.mu.Lock()
	conn, sessionID := s.conn, s.info.SessionID
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	env, err := NewEnvelope(TypeControl, sessionID, p, s.now())
	if err != nil {
		return err
	}
	return writeEnvelope(ctx, conn, env)
}

// Disconnect zeroes the reconnect budget, then closes the connection with a
// normal-closure status. It is idempotent.
func (s *Session) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.budget = 0
		s.closed = true
		conn := s.conn
		s.conn = nil
		s.info.ConnectionState = StateClosed
		s.mu.Unlock()

		// Close before cancelling: cancelling an in-flight Read tears the
		// connection down without a close frame.
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "call ended")
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				err = nil
			}
		}
		s.cancel()
	})
	return err
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", env.Type, err)
	}
	return nil
}
