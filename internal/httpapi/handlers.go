package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/parques-online/client-go/internal/session"
)

// statusResponse mirrors session.View for operators poking the client.
type statusResponse struct {
	Connection     string   `json:"connection"`
	UserID         string   `json:"user_id,omitempty"`
	Phase          string   `json:"phase"`
	LastAppliedSeq int64    `json:"last_applied_seq"`
	PendingEvents  int      `json:"pending_events"`
	QueueDepth     int      `json:"queue_depth"`
	Playing        bool     `json:"playing"`
	WinnerID       string   `json:"winner_id,omitempty"`
	FinalRankings  []string `json:"final_rankings,omitempty"`
}

func Status(s *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := s.View()
		resp := statusResponse{
			Connection:     string(v.Link),
			UserID:         v.UserID,
			LastAppliedSeq: v.LastApplied,
			PendingEvents:  v.PendingEvents,
			QueueDepth:     v.QueueDepth,
			Playing:        v.Playing,
			WinnerID:       v.WinnerID,
			FinalRankings:  v.FinalRankings,
		}
		if v.State != nil {
			resp.Phase = v.State.Phase
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
