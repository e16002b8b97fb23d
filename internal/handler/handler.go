package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dhlotto/internal/analyzer"
	"dhlotto/internal/handler/config"
	"dhlotto/internal/logger"
	"dhlotto/internal/lotto"
	"dhlotto/internal/model"
	"dhlotto/internal/resilience"
	"dhlotto/internal/service"
	"dhlotto/internal/session"
)

type handler struct {
	svc    service.Service
	zaplog *zap.Logger
}

func NewRouter(svc service.Service, zaplog *zap.Logger) chi.Router {
	h := &handler{svc: svc, zaplog: zaplog}

	router := chi.NewRouter()
	router.Get("/health", logger.RequestLogMdlw(h.health, zaplog))
	router.Get("/api/balance", logger.RequestLogMdlw(h.balance, zaplog))
	router.Get("/api/stats", logger.RequestLogMdlw(h.stats, zaplog))
	router.Get("/api/draws/latest", logger.RequestLogMdlw(h.latestDraw, zaplog))
	router.Get("/api/purchases", logger.RequestLogMdlw(h.purchases, zaplog))
	router.Post("/api/purchase", logger.RequestLogMdlw(h.purchaseAuto, zaplog))
	router.Post("/api/purchase/numbers", logger.RequestLogMdlw(h.purchaseNumbers, zaplog))
	router.Post("/api/check", logger.RequestLogMdlw(h.checkWin, zaplog))
	router.Post("/api/random", logger.RequestLogMdlw(h.random, zaplog))
	return router
}

// Serve поднимает HTTP-сервер и гасит его по отмене контекста
func Serve(ctx context.Context, cfg config.Config, svc service.Service, zaplog *zap.Logger) error {
	server := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: NewRouter(svc, zaplog),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": h.svc.SessionState(),
	})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Balance(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) latestDraw(w http.ResponseWriter, r *http.Request) {
	draw, err := h.svc.LatestDraw(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draw)
}

func (h *handler) purchases(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.PurchaseHistory(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": records})
}

func (h *handler) purchaseAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	record, err := h.svc.PurchaseAuto(r.Context(), req.Count)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) purchaseNumbers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slots []model.Slot `json:"slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	record, err := h.svc.PurchaseNumbers(r.Context(), req.Slots)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) checkWin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Numbers []int `json:"numbers"`
		Round   int   `json:"round"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CheckWin(r.Context(), req.Numbers, req.Round)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) random(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
		Games int `json:"games"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		req.Count = 6
	}
	if req.Games == 0 {
		req.Games = 1
	}
	games, err := h.svc.RandomGames(req.Count, req.Games)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

// writeError сводит доменные ошибки к HTTP-статусам
func (h *handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, lotto.ErrPurchaseWindowClosed),
		errors.Is(err, lotto.ErrPurchaseQuotaExceeded):
		status = http.StatusConflict
	case errors.Is(err, lotto.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrAuthentication),
		errors.Is(err, session.ErrParse):
		status = http.StatusBadGateway
	case errors.Is(err, lotto.ErrInvalidSlots),
		errors.Is(err, analyzer.ErrInvalidNumbers),
		errors.Is(err, service.ErrInsufficientData):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
