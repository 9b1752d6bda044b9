package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"quantbot-core/internal/address"
	"quantbot-core/internal/domain"
	"quantbot-core/internal/monitor"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// assetController is the part of the monitor the HTTP API drives.
type assetController interface {
	AddAsset(ctx context.Context, call domain.AssetCall) (domain.AssetCall, error)
	RemoveAsset(ctx context.Context, key string) error
	Status(ctx context.Context) (monitor.Status, error)
}

type httpServer struct {
	srv      *http.Server
	monitor  assetController
	defaults domain.AssetCall
	started  time.Time
	log      *logrus.Entry
}

func newHTTPServer(addr string, m assetController, defaults domain.AssetCall, log *logrus.Entry) *httpServer {
	s := &httpServer{
		monitor:  m,
		defaults: defaults,
		started:  time.Now(),
		log:      log.WithField("component", "http"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *httpServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /assets", s.handleAddAsset)
	mux.HandleFunc("DELETE /assets/{key}", s.handleRemoveAsset)
	return mux
}

func (s *httpServer) start() {
	s.log.WithField("addr", s.srv.Addr).Info("starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.WithError(err).Error("HTTP server error")
	}
}

func (s *httpServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP shutdown")
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status  string         `json:"status"`
	Uptime  string         `json:"uptime"`
	Started time.Time      `json:"started"`
	Monitor monitor.Status `json:"monitor"`
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.monitor.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Started: s.started,
		Monitor: st,
	})
}

// addAssetRequest is the POST /assets body. Strategy and stop loss fall back
// to the configured backtest defaults.
type addAssetRequest struct {
	AssetKey    string                 `json:"asset_key"`
	Chain       string                 `json:"chain"`
	Symbol      string                 `json:"symbol"`
	Destination string                 `json:"destination"`
	CallPrice   float64                `json:"call_price"`
	Strategy    string                 `json:"strategy"`
	StopLoss    *domain.StopLossConfig `json:"stop_loss"`
}

type assetResponse struct {
	AssetID       string                `json:"asset_id"`
	AssetKey      string                `json:"asset_key"`
	Chain         string                `json:"chain"`
	Symbol        string                `json:"symbol,omitempty"`
	Destination   string                `json:"destination,omitempty"`
	CallPrice     float64               `json:"call_price"`
	CallTimestamp int64                 `json:"call_timestamp"`
	Strategy      string                `json:"strategy"`
	StopLoss      domain.StopLossConfig `json:"stop_loss"`
}

func (s *httpServer) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req addAssetRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	call := s.defaults
	call.AssetKey = req.AssetKey
	call.Symbol = req.Symbol
	call.Destination = req.Destination
	call.CallPrice = req.CallPrice
	if req.Chain != "" {
		call.Chain = req.Chain
	}
	if req.Strategy != "" {
		strategy, err := domain.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, err)
			return
		}
		call.Strategy = strategy
	}
	if req.StopLoss != nil {
		call.StopLoss = *req.StopLoss
	}

	out, err := s.monitor.AddAsset(r.Context(), call)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetResponse{
		AssetID:       out.AssetID,
		AssetKey:      out.AssetKey,
		Chain:         out.Chain,
		Symbol:        out.Symbol,
		Destination:   out.Destination,
		CallPrice:     out.CallPrice,
		CallTimestamp: out.CallTimestamp,
		Strategy:      out.Strategy.String(),
		StopLoss:      out.StopLoss,
	})
}

func (s *httpServer) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.RemoveAsset(r.Context(), r.PathValue("key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps monitor and validation errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrAlreadyTracked):
		code = http.StatusConflict
	case errors.Is(err, monitor.ErrNotTracked):
		code = http.StatusNotFound
	case errors.Is(err, monitor.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, address.ErrInvalidAddress),
		errors.Is(err, address.ErrUnsupportedChain),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyStrategy),
		errors.Is(err, domain.ErrInvalidStep),
		errors.Is(err, domain.ErrPercentSum),
		errors.Is(err, domain.ErrInvalidStopLoss):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
