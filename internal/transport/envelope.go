// Package transport implements the Transport Session: one reconnecting
// websocket per call that carries captured audio to the AI backend and
// brings transcriptions and audio replies back.
//
// Every text frame is a JSON [Envelope]. Audio travels as base64 PCM16 inside
// an envelope; inbound audio replies may alternatively arrive as raw binary
// frames. Inbound payloads are decoded into [Message] values and handed to a
// [Handler]. Unknown message types are logged and ignored so that protocol
// additions on the backend side never break a call.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// MessageType is the envelope discriminator.
type MessageType string

const (
	TypeAudioAppend   MessageType = "audio-append"
	TypeTranscription MessageType = "transcription"
	TypeResponse      MessageType = "response"
	TypeControl       MessageType = "control"
	TypeError         MessageType = "error"
	TypeConnectionAck MessageType = "connection-ack"

	// TypeAudio marks a Message decoded from a binary frame. It never appears
	// on the wire.
	TypeAudio MessageType = "binary-audio"
)

// ErrUnknownType is returned by [Decode] for envelopes whose type is not
// part of the protocol.
var ErrUnknownType = errors.New("transport: unknown message type")

// Envelope is the JSON wrapper of every text frame.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// AudioPayload carries base64 PCM with its format.
type AudioPayload struct {
	Audio      string `json:"audio"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

// TranscriptionPayload is the backend's transcription of caller audio.
type TranscriptionPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// ResponsePayload is an assistant reply. Audio fields are optional; a
// text-only reply is valid.
type ResponsePayload struct {
	Text string `json:"text,omitempty"`
	AudioPayload
}

// ControlPayload is a turn-taking or housekeeping signal from the backend.
type ControlPayload struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is a backend-reported error.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string {
	if e.Code == "" {
		return "backend: " + e.Message
	}
	return fmt.Sprintf("backend: %s: %s", e.Code, e.Message)
}

// Message is a decoded inbound payload. Type selects which fields are set.
type Message struct {
	Type      MessageType
	SessionID string
	Timestamp time.Time

	// Text is set for transcription and response messages.
	Text string

	// Final is set for transcription messages.
	Final bool

	// Audio holds decoded PCM for response and binary messages, with its
	// format.
	Audio  []byte
	Format audio.Format

	// Control is set for control messages.
	Control ControlPayload

	// Err is set for error messages.
	Err *ErrorPayload
}

// HasAudio reports whether the message carries playable audio.
func (m Message) HasAudio() bool { return len(m.Audio) >= 2 }

// EncodeAudio returns the standard base64 (unwrapped) form of pcm.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeAudio reverses [EncodeAudio].
func DecodeAudio(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("transport: decode audio: %w", err)
	}
	return b, nil
}

// NewEnvelope marshals payload into an envelope stamped with at.
func NewEnvelope(typ MessageType, sessionID string, payload any, at time.Time) (Envelope, error) {
	env := Envelope{Type: typ, SessionID: sessionID, Timestamp: at.UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("transport: marshal %s payload: %w", typ, err)
		}
		env.Data = data
	}
	return env, nil
}

// AudioEnvelope builds the outbound audio-append envelope for c.
func AudioEnvelope(sessionID string, c audio.Chunk, at time.Time) (Envelope, error) {
	return NewEnvelope(TypeAudioAppend, sessionID, AudioPayload{
		Audio:      EncodeAudio(c.Data),
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Format:     string(c.Encoding),
	}, at)
}

// Decode parses a text frame. Envelopes of unknown type yield a Message with
// only Type and SessionID set, and an error wrapping ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("transport: parse envelope: %w", err)
	}
	msg := Message{
		Type:      env.Type,
		SessionID: env.SessionID,
		Timestamp: time.UnixMilli(env.Timestamp),
	}

	switch env.Type {
	case TypeTranscription:
		var p TranscriptionPayload
		if err := unmarshalData(env, &p); err != nil {
			return msg, err
		}
		msg.Text, msg.Final = p.Text, p.Final

	case TypeResponse:
		var p ResponsePayload
		if err := unmarshalData(env, &p); err != nil {
			return msg, err
		}
		msg.Text = p.Text
		if p.Audio != "" {
			pcm, err := DecodeAudio(p.Audio)
			if err != nil {
				return msg, err
			}
			msg.Audio = pcm
			msg.Format = audio.Format{SampleRate: p.SampleRate, Channels: max(p.Channels, 1)}
		}

	case TypeControl:
		if err := unmarshalData(env, &msg.Control); err != nil {
			return msg, err
		}

	case TypeError:
		var p ErrorPayload
		if err := unmarshalData(env, &p); err != nil {
			return msg, err
		}
		msg.Err = &p

	case TypeConnectionAck:
		// No payload of interest.

	default:
		return msg, fmt.Errorf("%w %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

// BinaryMessage wraps a raw binary frame as an audio reply in format f.
func BinaryMessage(sessionID string, pcm []byte, f audio.Format, at time.Time) Message {
	return Message{
		Type:      TypeAudio,
		SessionID: sessionID,
		Timestamp: at,
		Audio:     pcm,
		Format:    f,
	}
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("transport: parse %s payload: %w", env.Type, err)
	}
	return nil
}
