package challenge

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pqtclub/challenge-engine/internal/ledger"
	"github.com/pqtclub/challenge-engine/internal/spending"
	"github.com/pqtclub/challenge-engine/internal/store"
	"github.com/pqtclub/challenge-engine/internal/tables"
)

// maxUploadBytes caps CSV uploads.
const maxUploadBytes = 10 << 20

// Routes mounts the tournament endpoints on r (typically under /api/v1).
func (s *Service) Routes(r chi.Router) {
	r.Route("/tournaments/{tournamentID}", func(r chi.Router) {
		r.Put("/rounds/{round}/prices", s.PublishPricesHandler)
		r.Put("/outcomes", s.PublishOutcomesHandler)
		r.Post("/rounds/{round}/settle", s.SettleHandler)
		r.Get("/rounds/{round}/payouts", s.GetPayouts)
		r.Get("/portfolio", s.GetPortfolio)
		r.Delete("/portfolio", s.ResetPortfolio)
	})
}

// RejectionResponse is the JSON body returned when a trade batch is rejected.
type RejectionResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	PlayerID string `json:"player_id,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
}

// PublishPricesHandler handles PUT /api/v1/tournaments/{tournamentID}/rounds/{round}/prices
func (s *Service) PublishPricesHandler(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}

	prices, err := tables.ReadPrices(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(prices) == 0 {
		writeError(w, "price table is empty", http.StatusBadRequest)
		return
	}

	if err := s.PublishPrices(r.Context(), chi.URLParam(r, "tournamentID"), round, prices); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"round": round, "teams": len(prices)})
}

// PublishOutcomesHandler handles PUT /api/v1/tournaments/{tournamentID}/outcomes
func (s *Service) PublishOutcomesHandler(w http.ResponseWriter, r *http.Request) {
	outcomes, err := tables.ReadAllOutcomes(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.PublishOutcomes(r.Context(), chi.URLParam(r, "tournamentID"), outcomes); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"rounds": len(outcomes)})
}

// SettleHandler handles POST /api/v1/tournaments/{tournamentID}/rounds/{round}/settle
// The trade batch is a CSV body, or a multipart form with a "file" field.
func (s *Service) SettleHandler(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}

	body, closeBody, err := tradeUpload(w, r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer closeBody()

	rows, err := tables.ReadTrades(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.Settle(r.Context(), chi.URLParam(r, "tournamentID"), round, rows)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetPortfolio handles GET /api/v1/tournaments/{tournamentID}/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Portfolio(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResetPortfolio handles DELETE /api/v1/tournaments/{tournamentID}/portfolio
func (s *Service) ResetPortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.Reset(r.Context(), chi.URLParam(r, "tournamentID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPayouts handles GET /api/v1/tournaments/{tournamentID}/rounds/{round}/payouts
// With ?format=csv the payout sheet is returned in the organizers' CSV layout.
func (s *Service) GetPayouts(w http.ResponseWriter, r *http.Request) {
	round, ok := roundParam(w, r)
	if !ok {
		return
	}

	st, err := s.Payouts(r.Context(), chi.URLParam(r, "tournamentID"), round)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=round_"+strconv.Itoa(round)+"_payouts.csv")
		if err := tables.WritePayouts(w, st.Payouts); err != nil {
			slog.Error("write payouts csv", "err", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// --- Helpers ---

func roundParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		writeError(w, "round must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// tradeUpload returns the trade CSV from either a raw body or a multipart
// "file" field.
func tradeUpload(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, err
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errors.New("multipart upload requires a \"file\" field")
	}
	return f, func() { f.Close() }, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	var se *spending.SpendingLimitError
	var pe *ledger.PositionError
	switch {
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadRequest, RejectionResponse{
			Error: err.Error(), Kind: rejectionKind(err), PlayerID: se.PlayerID,
		})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadRequest, RejectionResponse{
			Error: err.Error(), Kind: rejectionKind(err), PlayerID: pe.PlayerID, TeamID: pe.TeamID,
		})
	case errors.Is(err, ErrInvalidRound):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRoundSettled), errors.Is(err, ErrRoundOrder):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNoPrices):
		writeError(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
