package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"github.com/NovaDovaDao/doviumV2/internal/tracker"
	"github.com/shopspring/decimal"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// TrackerAPI is the part of *tracker.Tracker the admin server uses.
type TrackerAPI interface {
	GetHealth(ctx context.Context) tracker.HealthStatus
	GetMetrics() tracker.MetricsSnapshot
	TrackedAddresses() []string
	Holdings(address string) (model.WalletHoldings, bool)
	GetWalletStats(address string) (tracker.WalletStats, bool)
	Paused() bool
	Refresh(ctx context.Context, address string) []model.TokenChange
	RefreshAll(ctx context.Context)
	Recover(ctx context.Context) error
}

// Labeler renders an address with its address book label.
type Labeler interface {
	FormatLabel(address string) string
}

// Server provides an HTTP-based admin API over one tracker.
type Server struct {
	tracker TrackerAPI
	labeler Labeler
	logger  *slog.Logger
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithLabeler sets the labeler used in wallet responses.
func WithLabeler(l Labeler) ServerOption {
	return func(s *Server) { s.labeler = l }
}

func NewServer(t TrackerAPI, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		tracker: t,
		logger:  logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/wallets", s.handleListWallets)
	mux.HandleFunc("GET /v1/wallets/{address}", s.handleGetWallet)
	mux.HandleFunc("GET /v1/wallets/{address}/tokens/{mint}", s.handleGetToken)
	mux.HandleFunc("POST /v1/recover", s.handleRecover)
	mux.HandleFunc("POST /v1/refresh", s.handleRefresh)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody decodes an optional JSON request body into v. An empty
// body leaves v untouched. Returns false (and writes an error response)
// if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) label(address string) string {
	if s.labeler == nil {
		return ""
	}
	return s.labeler.FormatLabel(address)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.tracker.GetHealth(r.Context())
	status := http.StatusOK
	if h.Status == tracker.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

type metricsResponse struct {
	tracker.MetricsSnapshot
	Paused bool `json:"paused"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{
		MetricsSnapshot: s.tracker.GetMetrics(),
		Paused:          s.tracker.Paused(),
	})
}

type walletSummary struct {
	Address string               `json:"address"`
	Label   string               `json:"label,omitempty"`
	Cached  bool                 `json:"cached"`
	Stats   *tracker.WalletStats `json:"stats,omitempty"`
}

func (s *Server) handleListWallets(w http.ResponseWriter, _ *http.Request) {
	addresses := s.tracker.TrackedAddresses()
	resp := make([]walletSummary, 0, len(addresses))
	for _, addr := range addresses {
		item := walletSummary{Address: addr, Label: s.label(addr)}
		if stats, ok := s.tracker.GetWalletStats(addr); ok {
			item.Cached = true
			item.Stats = &stats
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	Mint     string          `json:"mint"`
	Amount   string          `json:"amount"`
	Decimals uint8           `json:"decimals"`
	UIAmount decimal.Decimal `json:"ui_amount"`
}

func newTokenResponse(tok model.TokenBalance) tokenResponse {
	amount := "0"
	if tok.Amount != nil {
		amount = tok.Amount.String()
	}
	return tokenResponse{
		Mint:     tok.Mint,
		Amount:   amount,
		Decimals: tok.Decimals,
		UIAmount: tok.UIAmount(),
	}
}

type walletResponse struct {
	Address     string              `json:"address"`
	Label       string              `json:"label,omitempty"`
	LastUpdated time.Time           `json:"last_updated"`
	Stats       tracker.WalletStats `json:"stats"`
	Tokens      []tokenResponse     `json:"tokens"`
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := tracker.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	h, ok := s.tracker.Holdings(address)
	if !ok {
		writeError(w, http.StatusNotFound, "wallet not cached")
		return
	}
	stats, _ := s.tracker.GetWalletStats(address)

	tokens := make([]tokenResponse, 0, len(h.Tokens))
	for _, mint := range h.Mints() {
		tokens = append(tokens, newTokenResponse(h.Tokens[mint]))
	}

	writeJSON(w, http.StatusOK, walletResponse{
		Address:     address,
		Label:       s.label(address),
		LastUpdated: h.LastUpdated,
		Stats:       stats,
		Tokens:      tokens,
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	mint := r.PathValue("mint")
	if err := tracker.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	h, ok := s.tracker.Holdings(address)
	if !ok {
		writeError(w, http.StatusNotFound, "wallet not cached")
		return
	}
	tok, ok := h.Tokens[mint]
	if !ok {
		writeError(w, http.StatusNotFound, "token not held")
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(tok))
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	err := s.tracker.Recover(r.Context())
	switch {
	case errors.Is(err, tracker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "tracker is shut down")
	case err != nil:
		s.logger.Warn("recovery finished with errors", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "partial", "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recovered"})
	}
}

type refreshRequest struct {
	Address string `json:"address"`
}

type changeResponse struct {
	Mint        string          `json:"mint"`
	OldBalance  string          `json:"old_balance"`
	NewBalance  string          `json:"new_balance"`
	OldUIAmount decimal.Decimal `json:"old_ui_amount"`
	NewUIAmount decimal.Decimal `json:"new_ui_amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// handleRefresh refreshes one tracked address when "address" is given,
// otherwise every cached address.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Address == "" {
		s.tracker.RefreshAll(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
		return
	}

	if err := tracker.ValidateAddress(req.Address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if !s.isTracked(req.Address) {
		writeError(w, http.StatusNotFound, "address not tracked")
		return
	}

	changes := s.tracker.Refresh(r.Context(), req.Address)
	resp := make([]changeResponse, 0, len(changes))
	for _, c := range changes {
		resp = append(resp, changeResponse{
			Mint:        c.Mint,
			OldBalance:  c.OldBalance.String(),
			NewBalance:  c.NewBalance.String(),
			OldUIAmount: model.UIAmount(c.OldBalance, c.Decimals),
			NewUIAmount: model.UIAmount(c.NewBalance, c.Decimals),
			Timestamp:   c.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": req.Address, "changes": resp})
}

func (s *Server) isTracked(address string) bool {
	for _, a := range s.tracker.TrackedAddresses() {
		if a == address {
			return true
		}
	}
	return false
}
