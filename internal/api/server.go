// Package api serves campaign runs and their payouts over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/payout"
	"reward-distributor/internal/results"
	"reward-distributor/internal/storage"
	"reward-distributor/internal/verification"
)

// Options configures a Server. Checkpoints and Verifier are optional.
type Options struct {
	Runs        storage.RunStore
	Payouts     storage.PayoutStore
	Checkpoints storage.CheckpointStore
	Verifier    verification.Verifier
	Logger      *slog.Logger
}

// Server is the HTTP server for run results.
type Server struct {
	router      *chi.Mux
	runs        storage.RunStore
	payouts     storage.PayoutStore
	checkpoints storage.CheckpointStore
	verifier    verification.Verifier
	logger      *slog.Logger
	srv         *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:      chi.NewRouter(),
		runs:        opts.Runs,
		payouts:     opts.Payouts,
		checkpoints: opts.Checkpoints,
		verifier:    opts.Verifier,
		logger:      logger,
	}

	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // verification replays whole runs
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Handle("/metrics", observability.Handler())

	s.router.Route("/api/runs", func(r chi.Router) {
		r.Get("/latest", s.handleLatestRun)
		r.Get("/{runID}", s.handleGetRun)
		r.Get("/{runID}/payouts", s.handleGetPayouts)
		r.Get("/{runID}/totals", s.handleGetTotals)
		r.Get("/{runID}/checkpoints", s.handleGetCheckpoints)
		r.Get("/{runID}/verify", s.handleVerify)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

type runResponse struct {
	RunID      string `json:"run_id"`
	StartBlock uint64 `json:"start_block"`
	EndBlock   uint64 `json:"end_block"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Programs   int    `json:"programs"`
	Recipients int    `json:"recipients"`
}

func toRunResponse(r *domain.CampaignRun) runResponse {
	return runResponse{
		RunID:      r.RunID,
		StartBlock: r.StartBlock,
		EndBlock:   r.EndBlock,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     string(r.Status),
		Error:      r.Error,
		Programs:   r.Programs,
		Recipients: r.Recipients,
	}
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetLatest(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetByID(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (s *Server) handleGetPayouts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	format := payout.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := payout.ParseFormat(f)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	}

	table, err := s.payouts.GetByRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if token := r.URL.Query().Get("token"); token != "" {
		table = domain.PayoutTable{token: table[token]}
	}

	if format == payout.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := payout.Encode(w, format, runID, table); err != nil {
		s.logger.Error("failed to encode payouts", "run_id", runID, "error", err)
	}
}

type checkpointResponse struct {
	Stream             string `json:"stream"`
	Sequence           int    `json:"sequence"`
	Timestamp          int64  `json:"timestamp"`
	RewardPerWeight    string `json:"reward_per_weight"`
	TotalStakingWeight string `json:"total_staking_weight"`
	TotalEarned        string `json:"total_earned"`
	Accounts           int    `json:"accounts"`
}

func (s *Server) handleGetCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		s.writeError(w, http.StatusNotImplemented, "checkpoints are not stored")
		return
	}
	cps, err := s.checkpoints.GetByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]checkpointResponse, 0, len(cps))
	for _, c := range cps {
		out = append(out, checkpointResponse{
			Stream:             c.Stream,
			Sequence:           c.Sequence,
			Timestamp:          c.Timestamp,
			RewardPerWeight:    c.RewardPerWeight.String(),
			TotalStakingWeight: c.TotalStakingWeight.String(),
			TotalEarned:        c.TotalEarned.String(),
			Accounts:           c.Accounts,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type divergenceResponse struct {
	Token    string `json:"token"`
	Address  string `json:"address"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type verifyResponse struct {
	RunID         string               `json:"run_id"`
	Match         bool                 `json:"match"`
	PayoutsStored int                  `json:"payouts_stored"`
	Divergences   []divergenceResponse `json:"divergences"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		s.writeError(w, http.StatusNotImplemented, "verification is not configured")
		return
	}
	report, err := s.verifier.VerifyRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, verification.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}

	resp := verifyResponse{
		RunID:         report.RunID,
		Match:         report.Match,
		PayoutsStored: report.PayoutsStored,
		Divergences:   make([]divergenceResponse, 0, len(report.Divergences)),
	}
	for _, d := range report.Divergences {
		resp.Divergences = append(resp.Divergences, divergenceResponse{
			Token:    d.Token,
			Address:  d.Address,
			Expected: d.Expected.String(),
			Actual:   d.Actual.String(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	table, err := s.payouts.GetByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make(map[string]string, len(table))
	for token, total := range results.Totals(table) {
		out[token] = total.String()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
