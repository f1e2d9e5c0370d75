package turn_test

import (
	"errors"
	"testing"

	backendmock "github.com/MrWong99/callpilot/internal/backend/mock"
	"github.com/MrWong99/callpilot/internal/transport"
	transportmock "github.com/MrWong99/callpilot/internal/transport/mock"
	"github.com/MrWong99/callpilot/internal/turn"
	turnmock "github.com/MrWong99/callpilot/internal/turn/mock"
	sttmock "github.com/MrWong99/callpilot/pkg/provider/stt/mock"
)

func TestFactory_BuildsEachMode(t *testing.T) {
	t.Parallel()

	var handed transport.Handler
	f := turn.NewFactory(turn.Deps{
		Batched: turn.BatchedConfig{STT: &sttmock.Provider{}, Responder: &backendmock.Responder{}},
		Interim: &backendmock.Responder{},
		NewTransport: func(h transport.Handler) transport.Client {
			handed = h
			return &transportmock.Client{}
		},
	})
	host := &turnmock.Host{ID: "s"}
	th := &nopHandler{}

	tests := []struct {
		mode turn.Mode
		want string
	}{
		{turn.ModeBatched, "*turn.Batched"},
		{turn.ModeDual, "*turn.Dual"},
		{turn.ModeStreaming, "*turn.Streaming"},
	}
	for _, tt := range tests {
		p, err := f.New(tt.mode, host, th)
		if err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		if got := typeName(p); got != tt.want {
			t.Errorf("%s: built %s", tt.mode, got)
		}
	}
	if handed != th {
		t.Error("streaming transport did not receive the session handler")
	}
}

func TestFactory_Errors(t *testing.T) {
	t.Parallel()

	f := turn.NewFactory(turn.Deps{})
	if _, err := f.New("carrier-pigeon", &turnmock.Host{}, nil); !errors.Is(err, turn.ErrUnknownMode) {
		t.Errorf("unknown mode err = %v", err)
	}
	if _, err := f.New(turn.ModeStreaming, &turnmock.Host{}, nil); err == nil {
		t.Error("streaming without transport should fail")
	}
	if _, err := f.New(turn.ModeBatched, &turnmock.Host{}, nil); err == nil {
		t.Error("batched without STT should fail")
	}
}

func TestMode_Valid(t *testing.T) {
	t.Parallel()
	for _, m := range []turn.Mode{turn.ModeBatched, turn.ModeDual, turn.ModeStreaming} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if turn.Mode("x").Valid() {
		t.Error("x should be invalid")
	}
}

func TestSpeech_TurnText(t *testing.T) {
	t.Parallel()
	if (turn.Speech{}).TurnText() != turn.AudioPlaceholder {
		t.Error("empty text should use the placeholder")
	}
	if (turn.Speech{Text: "hi"}).TurnText() != "hi" {
		t.Error("text should be kept")
	}
}

type nopHandler struct{}

func (*nopHandler) HandleMessage(transport.Message) {}
func (*nopHandler) HandleFailure(error)             {}

func typeName(p turn.Processor) string {
	switch p.(type) {
	case *turn.Batched:
		return "*turn.Batched"
	case *turn.Dual:
		return "*turn.Dual"
	case *turn.Streaming:
		return "*turn.Streaming"
	}
	return "?"
}
