package calllog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/observe"
)

const maxListLimit = 500

// callJSON is the API shape of a [call.CallRecord].
type callJSON struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Mode      string     `json:"mode"`
	Turns     int        `json:"turns"`
	Outcome   string     `json:"outcome,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func toJSON(rec call.CallRecord) callJSON {
	out := callJSON{
		ID:        rec.ID,
		StartedAt: rec.StartedAt,
		Mode:      string(rec.Mode),
		Turns:     rec.Turns,
		Outcome:   rec.Outcome,
		Error:     rec.Error,
	}
	if !rec.EndedAt.IsZero() {
		out.EndedAt = &rec.EndedAt
	}
	return out
}

// Routes returns the read-only call log API:
//
//	GET /              recent calls, newest first (?limit=N)
//	GET /{id}/turns    the turns of one call
func Routes(s Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxListLimit)
		}
		recs, err := s.RecentCalls(req.Context(), limit)
		if err != nil {
			observe.Logger(req.Context()).Error("list calls", "err", err)
			writeError(w, http.StatusInternalServerError, "list calls failed")
			return
		}
		out := make([]callJSON, len(recs))
		for i, rec := range recs {
			out[i] = toJSON(rec)
		}
		writeJSON(w, http.StatusOK, map[string]any{"calls": out, "count": len(out)})
	})
	r.Get("/{id}/turns", func(w http.ResponseWriter, req *http.Request) {
		turns, err := s.Turns(req.Context(), chi.URLParam(req, "id"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		if err != nil {
			observe.Logger(req.Context()).Error("list turns", "err", err)
			writeError(w, http.StatusInternalServerError, "list turns failed")
			return
		}
		if turns == nil {
			turns = []call.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
