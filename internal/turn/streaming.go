package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Streaming forwards every captured chunk to a remote backend over a
// [transport.Client] and plays whatever audio comes back.
type Streaming struct {
	host   Host
	client transport.Client

	closeOnce sync.Once
	closeErr  error
}

var _ Processor = (*Streaming)(nil)

// NewStreaming returns a streaming processor that owns client.
func NewStreaming(host Host, client transport.Client) *Streaming {
	return &Streaming{host: host, client: client}
}

// Start connects the transport under the host's session ID.
func (s *Streaming) Start(ctx context.Context) error {
	if err := s.client.Connect(ctx, s.host.SessionID()); err != nil {
		return fmt.Errorf("turn: connect stream: %w", err)
	}
	return nil
}

// HandleChunk sends c as an audio-append message.
func (s *Streaming) HandleChunk(ctx context.Context, c audio.Chunk) error {
	if c.Empty() {
		return nil
	}
	if err := s.client.Send(ctx, c); err != nil {
		return fmt.Errorf("turn: send chunk: %w", err)
	}
	return nil
}

// HandleMessage dispatches one inbound message by type.
func (s *Streaming) HandleMessage(ctx context.Context, m transport.Message) error {
	log := observe.Logger(ctx)
	switch m.Type {
	case transport.TypeTranscription:
		if m.Text != "" {
			s.host.Transcribed(m.Text)
		}
	case transport.TypeResponse, transport.TypeAudio:
		sp := Speech{Text: m.Text}
		if m.HasAudio() && m.Format.SampleRate <= 0 {
			log.Warn("dropping reply audio without a sample rate", "bytes", len(m.Audio))
			if m.Text == "" {
				return nil
			}
		} else if m.HasAudio() {
			pcm := m.Audio
			if m.Format.Channels > 1 {
				pcm = audio.DownmixToMono(pcm, m.Format.Channels)
			}
			sp.Audio = pcm
			sp.SampleRate = m.Format.SampleRate
		}
		if err := s.host.Speak(ctx, sp); err != nil {
			return fmt.Errorf("turn: inject reply: %w", err)
		}
	case transport.TypeError:
		if m.Err != nil {
			s.host.Report(m.Err)
		}
	case transport.TypeControl:
		log.Info("stream control message", "action", m.Control.Action, "reason", m.Control.Reason)
	case transport.TypeConnectionAck:
		log.Debug("stream acknowledged")
	default:
		log.Warn("unhandled stream message", "type", string(m.Type))
	}
	return nil
}

// Close disconnects the transport.
func (s *Streaming) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Disconnect()
	})
	return s.closeErr
}

// Info reports the transport state.
func (s *Streaming) Info() transport.StreamInfo { return s.client.Info() }
