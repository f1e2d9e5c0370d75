package call

import (
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/telephony"
)

// event is the tagged union delivered to the dispatch loop. Producers never
// touch session state; they only post events.
type event interface{ isEvent() }

type (
	// telephonyEvent is a pushed or polled classification.
	telephonyEvent struct {
		state  telephony.CallState
		source string
	}

	pollTick   struct{}
	pollResult struct {
		state telephony.CallState
		err   error
	}

	answerResult struct {
		callID string
		err    error
	}

	incomingTimeout struct{ callID string }

	startResult struct {
		sessionID string
		err       error
	}

	captureStarted struct {
		sessionID string
		frames    <-chan audio.AudioFrame
		err       error
	}

	frameEvent struct {
		sessionID string
		frame     audio.AudioFrame
	}

	captureEnded struct{ sessionID string }

	chunkBoundary struct {
		sessionID string
		gen       uint64
	}

	speakRequest struct {
		sessionID string
		speech    turn.Speech
		reply     chan error
	}

	speakDone struct {
		sessionID string
		speech    turn.Speech
		err       error
		reply     chan error
	}

	transcribed struct {
		sessionID string
		text      string
	}

	reported struct {
		sessionID string
		err       error
	}

	streamMessage struct {
		sessionID string
		msg       transport.Message
	}

	streamFailed struct {
		sessionID string
		err       error
	}

	configUpdate struct{ cfg Config }
)

func (telephonyEvent) isEvent()  {}
func (pollTick) isEvent()        {}
func (pollResult) isEvent()      {}
func (answerResult) isEvent()    {}
func (incomingTimeout) isEvent() {}
func (startResult) isEvent()     {}
func (captureStarted) isEvent()  {}
func (frameEvent) isEvent()      {}
func (captureEnded) isEvent()    {}
func (chunkBoundary) isEvent()   {}
func (speakRequest) isEvent()    {}
func (speakDone) isEvent()       {}
func (transcribed) isEvent()     {}
func (reported) isEvent()        {}
func (streamMessage) isEvent()   {}
func (streamFailed) isEvent()    {}
func (configUpdate) isEvent()    {}
