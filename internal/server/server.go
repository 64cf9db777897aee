package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"goalpool/internal/contract"
	"goalpool/internal/coordinator"
	"goalpool/internal/receipts"
	"goalpool/internal/tokenex"
	"goalpool/internal/wallet"

	"github.com/sirupsen/logrus"
)

// Orchestrator is the slice of the coordinator the HTTP surface needs.
type Orchestrator interface {
	Snapshot() coordinator.Session
	ClearLastError()
	Connect(ctx context.Context) error
	Register(ctx context.Context) bool
	Stake(ctx context.Context, goalID, amount string) error
	Claim(ctx context.Context, goalID string) error
	RequestVerificationData(ctx context.Context, activityType, goalID string) (*coordinator.DataRequest, error)
}

type Server struct {
	orch        Orchestrator
	journal     receipts.Store
	httpServer  *http.Server
	metrics     *metricsRegistry
	log         *logrus.Entry
	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
}

type Config struct {
	HTTPPort int
}

func NewServer(cfg Config, orch Orchestrator, journal receipts.Store, chain contract.Client, log *logrus.Entry) *Server {
	s := &Server{
		orch:    orch,
		journal: journal,
		metrics: newMetricsRegistry(),
		log:     log,
	}

	if checker, ok := chain.(interface{ Ping(context.Context) error }); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := journal.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", s.handleSession)
	mux.HandleFunc("/api/v1/session/clear-error", s.handleClearError)
	mux.HandleFunc("/api/v1/connect", s.handleConnect)
	mux.HandleFunc("/api/v1/register", s.handleRegister)
	mux.HandleFunc("/api/v1/stake", s.handleStake)
	mux.HandleFunc("/api/v1/claim", s.handleClaim)
	mux.HandleFunc("/api/v1/verification-data", s.handleVerificationData)
	mux.HandleFunc("/api/v1/receipts", s.handleReceipts)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/api/v1/metrics", s.metrics.handler())

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// sessionView is the consumer-facing shape of the session; a null account
// signals disconnected.
type sessionView struct {
	Account      *string `json:"account"`
	IsRegistered bool    `json:"isRegistered"`
	IsLoading    bool    `json:"isLoading"`
	LastError    *string `json:"lastError"`
}

func viewOf(sess coordinator.Session) sessionView {
	view := sessionView{
		IsRegistered: sess.IsRegistered,
		IsLoading:    sess.IsLoading,
	}
	if sess.Account != "" {
		view.Account = &sess.Account
	}
	if sess.LastError != "" {
		view.LastError = &sess.LastError
	}
	return view
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeSession(w, http.StatusOK)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.ClearLastError()
	s.writeSession(w, http.StatusOK)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := s.orch.Connect(r.Context())
	if err != nil {
		s.metrics.incWorkflow("connect", "failed")
		s.writeSession(w, statusForError(err))
		return
	}
	s.metrics.incWorkflow("connect", "ok")
	s.writeSession(w, http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.orch.Register(r.Context()) {
		s.metrics.incWorkflow("register", "failed")
		s.writeSession(w, http.StatusConflict)
		return
	}
	s.metrics.incWorkflow("register", "ok")
	s.writeSession(w, http.StatusOK)
}

type stakeRequest struct {
	GoalID string `json:"goalId"`
	Amount string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.GoalID == "" {
		http.Error(w, "goalId is required", http.StatusBadRequest)
		return
	}

	if err := s.orch.Stake(r.Context(), payload.GoalID, payload.Amount); err != nil {
		s.metrics.incWorkflow("stake", "failed")
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	s.metrics.incWorkflow("stake", "ok")
	s.writeSession(w, http.StatusOK)
}

type claimRequest struct {
	GoalID string `json:"goalId"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload claimRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.GoalID == "" {
		http.Error(w, "goalId is required", http.StatusBadRequest)
		return
	}

	if err := s.orch.Claim(r.Context(), payload.GoalID); err != nil {
		s.metrics.incWorkflow("claim", "failed")
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	s.metrics.incWorkflow("claim", "ok")
	s.writeSession(w, http.StatusOK)
}

type verificationDataRequest struct {
	ActivityType string `json:"activityType"`
	GoalID       string `json:"goalId"`
}

func (s *Server) handleVerificationData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload verificationDataRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	record, err := s.orch.RequestVerificationData(r.Context(), payload.ActivityType, payload.GoalID)
	if err != nil {
		s.metrics.incWorkflow("verification_data", "failed")
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	s.metrics.incWorkflow("verification_data", "ok")
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []receipts.Record{})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.journal.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to read receipts: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []receipts.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status  string      `json:"status"`
		RPC     interface{} `json:"rpc"`
		Journal interface{} `json:"journal"`
		Session sessionView `json:"session"`
	}{
		Status:  status,
		RPC:     rpcInfo,
		Journal: dbInfo,
		Session: viewOf(s.orch.Snapshot()),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeSession(w http.ResponseWriter, status int) {
	sess := s.orch.Snapshot()
	s.metrics.setConnected(sess.Account != "")
	writeJSON(w, status, viewOf(sess))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForError maps workflow failures onto the HTTP surface: gate
// violations are conflicts, validation is the caller's fault, everything
// upstream is a bad gateway, and a declined prompt is forbidden.
func statusForError(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, contract.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, wallet.ErrWalletUnavailable),
		errors.Is(err, contract.ErrInsufficientBalance),
		errors.Is(err, contract.ErrTransactionReverted),
		errors.Is(err, tokenex.ErrExchangeFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
