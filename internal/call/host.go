package call

import (
	"context"
	"errors"

	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
)

// errSessionGone is returned to a processor whose session has ended.
var errSessionGone = errors.New("call: session ended")

// sessionHost is the processor-facing side of one session. Every callback is
// turned into an event tagged with the session ID.
type sessionHost struct {
	o  *Orchestrator
	id string
}

var (
	_ turn.Host         = (*sessionHost)(nil)
	_ transport.Handler = (*sessionHost)(nil)
)

func (h *sessionHost) SessionID() string { return h.id }

func (h *sessionHost) Transcribed(text string) {
	h.o.post(transcribed{sessionID: h.id, text: text})
}

// Speak blocks until the loop reports the playback finished.
func (h *sessionHost) Speak(ctx context.Context, s turn.Speech) error {
	reply := make(chan error, 1)
	if !h.o.post(speakRequest{sessionID: h.id, speech: s, reply: reply}) {
		return errSessionGone
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *sessionHost) Report(err error) {
	h.o.post(reported{sessionID: h.id, err: err})
}

func (h *sessionHost) HandleMessage(m transport.Message) {
	h.o.post(streamMessage{sessionID: h.id, msg: m})
}

func (h *sessionHost) HandleFailure(err error) {
	h.o.post(streamFailed{sessionID: h.id, err: err})
}
