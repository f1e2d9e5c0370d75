package bridge

import (
	"github.com/MrWong99/callpilot/pkg/telephony"
)

// Message types sent by the handset.
const (
	typeCallState = "call-state"
	typeAudio     = "audio"
	typeReply     = "reply"
)

// Commands sent to the handset. Every command carries an id that the
// handset echoes in its reply.
const (
	cmdQueryState    = "query-state"
	cmdAnswer        = "answer"
	cmdCaptureStart  = "capture-start"
	cmdCaptureStop   = "capture-stop"
	cmdPlaybackStart = "playback-start"
	cmdPlaybackWrite = "playback-write"
	cmdPlaybackStop  = "playback-stop"
)

// Error codes a handset may put in a failed reply.
const (
	codePermissionDenied = "permission-denied"
	codeNotRinging       = "not-ringing"
)

// message is the single JSON frame shape used in both directions.
type message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// call-state and query-state replies. State is the normalised name;
	// Code is the raw platform code and wins when present.
	State string `json:"state,omitempty"`
	Code  *int   `json:"code,omitempty"`

	// audio frames and playback-write. Audio is base64 PCM16.
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// Offset is the capture offset in milliseconds.
	Offset int64 `json:"offset,omitempty"`

	// Flush on playback-stop drops queued audio instead of draining it.
	Flush bool `json:"flush,omitempty"`

	// replies
	OK        bool   `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// callState decodes the state carried by m.
func (m message) callState() telephony.CallState {
	if m.Code != nil {
		return telephony.FromPlatformCode(*m.Code)
	}
	return telephony.ParseCallState(m.State)
}
