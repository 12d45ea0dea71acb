package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"arbflow/auth"
	"arbflow/casefile"
	"arbflow/offer"
)

type stubAuth struct {
	identity auth.Identity
	err      error
}

func (s *stubAuth) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: s.identity.UserID}, s.err
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{Token: "tok"}, s.err
}

func (s *stubAuth) CurrentActor(_ string) (auth.Identity, error) {
	return s.identity, s.err
}

type stubCases struct {
	cases  map[int64]casefile.CaseFile
	claims []casefile.Claim
	err    error
}

func (s *stubCases) FileCase(_ context.Context, actorID string, _ *string, _ string, _ int) (casefile.CaseFile, error) {
	if s.err != nil {
		return casefile.CaseFile{}, s.err
	}
	return casefile.CaseFile{ID: 1, Status: casefile.StatusSetup, ClaimantID: actorID, NumberClaims: 1}, nil
}

func (s *stubCases) Get(_ context.Context, caseID int64) (casefile.CaseFile, error) {
	if s.err != nil {
		return casefile.CaseFile{}, s.err
	}
	c, ok := s.cases[caseID]
	if !ok {
		return casefile.CaseFile{}, casefile.ErrNotFound
	}
	return c, nil
}

func (s *stubCases) Claims(_ context.Context, _ int64) ([]casefile.Claim, error) {
	return s.claims, s.err
}

type stubOffers struct {
	offers []offer.Offer
	err    error
}

func (s *stubOffers) Submit(_ context.Context, actorID string, caseID, hours, rate int64) (offer.Offer, error) {
	if s.err != nil {
		return offer.Offer{}, s.err
	}
	return offer.Offer{ID: 7, CaseID: caseID, ArbitratorID: actorID, EstimatedHours: hours, HourlyRate: rate, Status: offer.StatusPending}, nil
}

func (s *stubOffers) ListByCase(_ context.Context, _ int64) ([]offer.Offer, error) {
	return s.offers, s.err
}

func TestHandleCase_Success(t *testing.T) {
	srv := &server{cases: &stubCases{cases: map[int64]casefile.CaseFile{
		42: {ID: 42, Status: casefile.StatusInvestigation, ClaimantID: "u1"},
	}}}

	req := httptest.NewRequest(http.MethodGet, "/api/cases/42", nil)
	rec := httptest.NewRecorder()
	srv.handleCase(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var got casefile.CaseFile
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != 42 || got.Status != casefile.StatusInvestigation {
		t.Fatalf("unexpected case: %+v", got)
	}
}

func TestHandleCase_NotFound(t *testing.T) {
	srv := &server{cases: &stubCases{cases: map[int64]casefile.CaseFile{}}}

	req := httptest.NewRequest(http.MethodGet, "/api/cases/99", nil)
	rec := httptest.NewRecorder()
	srv.handleCase(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleCase_InvalidID(t *testing.T) {
	srv := &server{cases: &stubCases{}}

	req := httptest.NewRequest(http.MethodGet, "/api/cases/abc", nil)
	rec := httptest.NewRecorder()
	srv.handleCase(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCase_WrongMethod(t *testing.T) {
	srv := &server{cases: &stubCases{}}

	req := httptest.NewRequest(http.MethodDelete, "/api/cases/42", nil)
	rec := httptest.NewRecorder()
	srv.handleCase(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleCase_Offers(t *testing.T) {
	srv := &server{
		cases: &stubCases{},
		offers: &stubOffers{offers: []offer.Offer{
			{ID: 1, CaseID: 42, Status: offer.StatusPending},
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cases/42/offers", nil)
	rec := httptest.NewRecorder()
	srv.handleCase(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var got []offer.Offer
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 1 || got[0].CaseID != 42 {
		t.Fatalf("unexpected offers: %+v", got)
	}
}

func TestHandleCases_RequiresToken(t *testing.T) {
	srv := &server{auth: &stubAuth{}, cases: &stubCases{}}

	req := httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.handleCases(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleCases_FilesCase(t *testing.T) {
	srv := &server{
		auth:  &stubAuth{identity: auth.Identity{UserID: "u1", Role: auth.RoleParty}},
		cases: &stubCases{},
	}

	body := `{"claim_link": "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", "category": 6}`
	req := httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	srv.handleCases(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var got casefile.CaseFile
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ClaimantID != "u1" {
		t.Fatalf("claimant = %q, want u1", got.ClaimantID)
	}
}

func TestHandleOffers_ConflictMapping(t *testing.T) {
	srv := &server{
		auth:   &stubAuth{identity: auth.Identity{UserID: "a1", Role: auth.RoleArbitrator}},
		offers: &stubOffers{err: offer.ErrDuplicate},
	}

	body := `{"case_id": 42, "estimated_hours": 10, "hourly_rate": 50000}`
	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	srv.handleOffers(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	file := "listen_addr: \":9999\"\ndatabase_url: postgres://file\njwt_secret: from-file\noracle_rate_num: 2\noracle_rate_den: 1\n"
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("JWT_SECRET", "")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("database_url = %q, want env value", cfg.DatabaseURL)
	}
	if cfg.ListenAddr != ":9999" || cfg.JWTSecret != "from-file" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.OracleRateNum != 2 || cfg.OracleRateDen != 1 {
		t.Fatalf("oracle rate not applied: %+v", cfg)
	}
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s")

	if _, err := loadConfig(""); err == nil {
		t.Fatal("expected error when database_url is absent")
	}
}
