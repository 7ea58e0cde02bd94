package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgnsrekt/donodeck/pkg/ledger"
	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// response is the uniform JSON envelope for mutating endpoints.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Item    any    `json:"item,omitempty"`
}

// donationRequest accepts the amount as either a JSON number or a
// string, since alert sources disagree on which one they send.
type donationRequest struct {
	Username string      `json:"username"`
	Message  string      `json:"message"`
	Amount   json.Number `json:"amount"`
}

func (s *Server) handleAddDonation(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	amount, err := req.Amount.Float64()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	item, err := s.orch.Add(r.Context(), req.Username, req.Message, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		s.logger.Error("add donation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue donation")
		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: "Donation added to queue",
		Item:    item,
	})
}

func (s *Server) handleProcessNext(w http.ResponseWriter, r *http.Request) {
	item, err := s.orch.ProcessNext(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrQueueEmpty) {
			writeJSON(w, http.StatusOK, response{
				Status:  "empty",
				Message: "No items in queue",
			})
			return
		}
		if errors.Is(err, speech.ErrAllProvidersFailed) {
			s.logger.Error("all speech providers failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
			return
		}
		s.logger.Error("process next failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process item")
		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: "Item processed",
		Item:    item,
	})
}

func (s *Server) handleSkipNext(w http.ResponseWriter, r *http.Request) {
	item, err := s.orch.SkipNext(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrQueueEmpty) {
			writeJSON(w, http.StatusOK, response{
				Status:  "empty",
				Message: "No items in queue",
			})
			return
		}
		s.logger.Error("skip next failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to skip item")
		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: "Item skipped",
		Item:    item,
	})
}

func (s *Server) handleStopTTS(w http.ResponseWriter, _ *http.Request) {
	s.orch.StopSpeech()
	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: "Speech stopped",
	})
}

func (s *Server) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	summary, err := s.orch.Reset(r.Context())
	if err != nil {
		s.logger.Error("reset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset counter")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status  string               `json:"status"`
		Message string               `json:"message"`
		Summary *ledger.ResetSummary `json:"summary"`
	}{
		Status:  "success",
		Message: "Counter reset, history archived",
		Summary: summary,
	})
}

func (s *Server) handleRepairStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Repair(r.Context())
	if err != nil {
		s.logger.Error("repair failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to repair stats")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status  string        `json:"status"`
		Message string        `json:"message"`
		Stats   *ledger.Stats `json:"stats"`
	}{
		Status:  "success",
		Message: "Totals rebuilt from history",
		Stats:   stats,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*ledger.Stats
		Speech speech.Snapshot `json:"speech"`
	}{
		Stats:  stats,
		Speech: s.resolver.Stats().Snapshot(),
	})
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingItems(r.Context(), 0)
	if err != nil {
		s.logger.Error("queue list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	recent, err := s.store.RecentProcessed(r.Context(), 10)
	if err != nil {
		s.logger.Error("queue list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}

	if pending == nil {
		pending = []*ledger.Item{}
	}
	if recent == nil {
		recent = []*ledger.Item{}
	}
	writeJSON(w, http.StatusOK, struct {
		Pending []*ledger.Item `json:"pending"`
		Recent  []*ledger.Item `json:"recent"`
	}{Pending: pending, Recent: recent})
}

func (s *Server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.ResetHistory(r.Context())
	if err != nil {
		s.logger.Error("reset history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read reset history")
		return
	}
	if history == nil {
		history = []*ledger.ResetCycle{}
	}
	writeJSON(w, http.StatusOK, struct {
		Resets []*ledger.ResetCycle `json:"resets"`
	}{Resets: history})
}

// handleTest speaks a canned announcement without touching the ledger,
// for checking the audio path end to end.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	err := s.resolver.Announce(r.Context(), speech.Announcement{
		Username: "Test",
		Message:  "This is a test announcement.",
		Amount:   1.00,
	})
	if err != nil {
		s.logger.Error("test announcement failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "speech synthesis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, response{
		Status:  "success",
		Message: "Test announcement played",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, response{Status: "error", Message: message})
}
