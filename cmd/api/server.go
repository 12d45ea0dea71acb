package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"arbflow/arbitrator"
	"arbflow/auth"
	"arbflow/casefile"
	"arbflow/config"
	"arbflow/ledger"
	"arbflow/offer"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	CurrentActor(tokenString string) (auth.Identity, error)
}

type caseService interface {
	FileCase(ctx context.Context, actorID string, respondantID *string, claimLink string, category int) (casefile.CaseFile, error)
	Get(ctx context.Context, caseID int64) (casefile.CaseFile, error)
	Claims(ctx context.Context, caseID int64) ([]casefile.Claim, error)
}

type offerService interface {
	Submit(ctx context.Context, actorID string, caseID, estimatedHours, hourlyRate int64) (offer.Offer, error)
	ListByCase(ctx context.Context, caseID int64) ([]offer.Offer, error)
}

type server struct {
	auth   authService
	cases  caseService
	offers offerService
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCases serves POST /api/cases (file a new case).
func (s *server) handleCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req struct {
		RespondantID *string `json:"respondant_id"`
		ClaimLink    string  `json:"claim_link"`
		Category     int     `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	c, err := s.cases.FileCase(r.Context(), actor.UserID, req.RespondantID, req.ClaimLink, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleCase serves GET /api/cases/{id} plus the /claims and /offers
// sub-resources.
func (s *server) handleCase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/cases/")
	idPart, sub, _ := strings.Cut(rest, "/")
	caseID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || caseID <= 0 {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		c, err := s.cases.Get(r.Context(), caseID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "claims":
		claims, err := s.cases.Claims(r.Context(), caseID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	case "offers":
		offers, err := s.offers.ListByCase(r.Context(), caseID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offers)
	default:
		http.NotFound(w, r)
	}
}

// handleOffers serves POST /api/offers (arbitrator files a rate offer).
func (s *server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := s.authorize(w, r)
	if !ok {
		return
	}
	var req struct {
		CaseID         int64 `json:"case_id"`
		EstimatedHours int64 `json:"estimated_hours"`
		HourlyRate     int64 `json:"hourly_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	o, err := s.offers.Submit(r.Context(), actor.UserID, req.CaseID, req.EstimatedHours, req.HourlyRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// authorize resolves the Bearer token into the acting identity.
func (s *server) authorize(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	actor, err := s.auth.CurrentActor(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	return actor, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, casefile.ErrNotFound) || errors.Is(err, offer.ErrNotFound) ||
		errors.Is(err, arbitrator.ErrNotFound) || errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, casefile.ErrForbidden) || errors.Is(err, offer.ErrForbidden) ||
		errors.Is(err, arbitrator.ErrForbidden) || errors.Is(err, config.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, casefile.ErrBadStatus) || errors.Is(err, offer.ErrBadStatus) ||
		errors.Is(err, arbitrator.ErrBadStatus) || errors.Is(err, offer.ErrCaseClosed) ||
		errors.Is(err, offer.ErrWindowExpired) || errors.Is(err, casefile.ErrDuplicateClaim) ||
		errors.Is(err, offer.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, auth.ErrDuplicateEmail):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
