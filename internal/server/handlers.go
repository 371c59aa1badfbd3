package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"dmvwatch/internal/checker"
	"dmvwatch/internal/envutil"
	"dmvwatch/internal/history"
	"dmvwatch/internal/scheduler"
	"dmvwatch/pkg/logx"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"last_run": snap.At,
		"offices":  len(s.cfg.Offices),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Latest())
}

type officeView struct {
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source"`
}

// handleOffices merges configured and discovered offices. The merge is by
// name; a configured URL wins over a discovered one.
func (s *Server) handleOffices(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "all"
	}

	var out []officeView
	seen := map[string]int{}

	if source == "configured" || source == "all" {
		for _, oc := range s.cfg.Offices {
			seen[oc.Name] = len(out)
			out = append(out, officeView{Name: oc.Name, URL: oc.URL, Source: "configured"})
		}
	}
	if source == "discovered" || source == "all" {
		for _, o := range s.discoveredOffices() {
			if idx, ok := seen[o.Name]; ok {
				if out[idx].URL == "" {
					out[idx].URL = o.URL
				}
				continue
			}
			seen[o.Name] = len(out)
			out = append(out, officeView{Name: o.Name, URL: o.URL, Source: "discovered"})
		}
	}
	if source != "configured" && source != "discovered" && source != "all" {
		writeError(w, http.StatusBadRequest, "source must be configured, discovered, or all")
		return
	}

	if out == nil {
		out = []officeView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"offices": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, "history not enabled")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("history query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type subscriptionRequest struct {
	Email   string   `json:"email"`
	Offices []string `json:"offices"`
}

func (s *Server) handleUpsertSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Offices) == 0 {
		writeError(w, http.StatusBadRequest, "offices must be a non-empty list")
		return
	}
	known := s.knownOfficeNames()
	for _, office := range req.Offices {
		if !known[office] {
			writeError(w, http.StatusBadRequest, "unknown office: "+office)
			return
		}
	}
	if err := s.subs.Set(email, req.Offices); err != nil {
		s.log.Error("subscription save failed", logx.String("email", email), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not save subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":   email,
		"offices": s.subs.OfficesFor(email),
	})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.subs.Remove(email); err != nil {
		s.log.Error("subscription delete failed", logx.String("email", email), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": email, "status": "removed"})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": s.subs.Snapshot()})
}

func (s *Server) handleTestSMS(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.SendTestSMS(); err != nil {
		writeError(w, testErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.SendTestEmail(); err != nil {
		writeError(w, testErrStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleDiscoverOffices(w http.ResponseWriter, r *http.Request) {
	if s.disc == nil {
		writeError(w, http.StatusNotFound, "discovery not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
	defer cancel()
	offices, err := s.RefreshOffices(ctx)
	if err != nil {
		s.log.Error("office discovery failed", logx.Err(err))
		writeError(w, http.StatusBadGateway, "discovery failed: "+err.Error())
		return
	}
	if offices == nil {
		offices = []checker.Office{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(offices), "offices": offices})
}

// requireAdmin gates a route on "Authorization: Bearer <token>" matching
// the env var named by admin_token_env. No token configured means the
// admin surface is closed, not open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := envutil.String(s.cfg.AdminTokenEnv)
		if token == "" {
			writeError(w, http.StatusForbidden, "admin API disabled (no token configured)")
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) knownOfficeNames() map[string]bool {
	known := map[string]bool{}
	for _, oc := range s.cfg.Offices {
		known[oc.Name] = true
	}
	for _, o := range s.discoveredOffices() {
		known[o.Name] = true
	}
	return known
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", errors.New("invalid email address")
	}
	return email, nil
}

func testErrStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrChannelDisabled),
		errors.Is(err, scheduler.ErrChannelNotConfigured),
		errors.Is(err, scheduler.ErrNoTestRecipient):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
