package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/midaseth/dolomite-margin-modules/internal/margin"
	"github.com/midaseth/dolomite-margin-modules/internal/observability"
	"github.com/midaseth/dolomite-margin-modules/internal/query"
	"github.com/midaseth/dolomite-margin-modules/internal/types"
	"github.com/midaseth/dolomite-margin-modules/internal/vaults"
)

// Server is the HTTP/JSON API over the wrapped-collateral layer: vault
// lookups and creation, balance and price reads, conversion quotes, and the
// persisted event journal.
type Server struct {
	svc     *query.Service
	factory *vaults.Factory
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	httpSrv *http.Server
}

func New(addr string, svc *query.Service, factory *vaults.Factory, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		svc:     svc,
		factory: factory,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("http"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for httptest servers.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/vaults", s.handleCreateVault)
		r.Get("/vaults/{owner}", s.handleGetVault)
		r.Get("/accounts/{owner}/{number}/balances/{market}", s.handleGetBalance)
		r.Get("/markets/{market}/price", s.handleGetPrice)
		r.Get("/quotes/unwrap", s.handleUnwrapQuote)
		r.Get("/quotes/wrap", s.handleWrapQuote)
		r.Get("/allow-lists", s.handleAllowLists)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			s.metrics.HTTPRequestDuration.
				WithLabelValues(route, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())
		}
	})
}

type createVaultRequest struct {
	Owner string `json:"owner"`
}

type createVaultResponse struct {
	Owner string `json:"owner"`
	Vault string `json:"vault"`
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.factory.CreateVaultFor(owner)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, createVaultResponse{
		Owner: owner.Hex(),
		Vault: vault.Address().Hex(),
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.svc.GetVault(owner)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	number, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("account number: %w", err))
		return
	}
	marketID, err := strconv.ParseUint(chi.URLParam(r, "market"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("market id: %w", err))
		return
	}
	resp, err := s.svc.GetAccountBalance(owner, number, types.MarketID(marketID))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	marketID, err := strconv.ParseUint(chi.URLParam(r, "market"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("market id: %w", err))
		return
	}
	resp, err := s.svc.GetPrice(types.MarketID(marketID))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnwrapQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.svc.GetUnwrapQuote(amount)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWrapQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.svc.GetWrapQuote(amount)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAllowLists(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.GetAllowLists())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = parsed
	}
	var before *int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("before: %w", err))
			return
		}
		before = &parsed
	}
	events, err := s.svc.GetEvents(r.Context(), limit, before)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("write response failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrVaultNotFound),
		errors.Is(err, margin.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, vaults.ErrInvalidOwner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
