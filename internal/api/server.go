// Package api serves the HTTP control plane: health, status, pause/resume,
// balances and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"launchpilot/internal/events"
	"launchpilot/internal/pipeline"
	"launchpilot/internal/txbuilder"
)

// Target is the running pipeline. *pipeline.Pipeline satisfies it.
type Target interface {
	Control() *pipeline.Control
	Status() pipeline.Status
}

// Balances reads live wallet balances. *trade.Service satisfies it.
type Balances interface {
	Wallet() common.Address
	Balance(ctx context.Context, token common.Address) (events.WalletBalanceSnapshot, error)
}

type Config struct {
	Listen    string
	AuthToken string
	Logger    *zap.Logger
}

type Server struct {
	cfg      Config
	target   Target
	balances Balances
	logger   *zap.Logger
}

func NewServer(cfg Config, target Target, balances Balances) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, target: target, balances: balances, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Get("/status", s.handleStatus)
		r.Post("/control/pause", s.handlePause)
		r.Post("/control/resume", s.handleResume)
		if s.balances != nil {
			r.Get("/balance", s.handleBalance)
		}
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxTimeout)
	}()

	s.logger.Info("api-starting", zap.String("listen", s.cfg.Listen))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			token := r.Header.Get("X-API-Key")
			if token == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					token = strings.TrimSpace(auth[7:])
				}
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.target.Status()
	code, status := http.StatusOK, "ok"
	if st.Listener == pipeline.ListenerStopped {
		code, status = http.StatusServiceUnavailable, "down"
	}
	writeJSON(w, code, map[string]string{"status": status, "listener": st.Listener})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.target.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	changed := s.target.Control().Pause()
	if changed {
		s.logger.Info("selling-paused", zap.String("source", "api"))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"selling_paused": true, "changed": changed})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	changed := s.target.Control().Resume()
	if changed {
		s.logger.Info("selling-resumed", zap.String("source", "api"))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"selling_paused": false, "changed": changed})
}

type balanceResponse struct {
	Wallet   string  `json:"wallet"`
	Token    string  `json:"token"`
	Raw      string  `json:"raw"`
	Decimals uint8   `json:"decimals"`
	Human    float64 `json:"human"`
	Display  string  `json:"display"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.balances.Balance(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Wallet:   s.balances.Wallet().Hex(),
		Token:    token.Hex(),
		Raw:      snap.Raw.String(),
		Decimals: snap.Decimals,
		Human:    snap.Human,
		Display:  txbuilder.FormatUnits(snap.Raw, snap.Decimals),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, errors.New("address is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(value), nil
}
