package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/stakeledger/internal/domain"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	defaultBondLimit = 50
	maxBondLimit     = 500
)

// Reader is the read side of the ledger.
type Reader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetStaker(ctx context.Context, stashID string) (*domain.Staker, error)
	ListBonds(ctx context.Context, accountID string, limit int) ([]domain.Bond, error)
	Checkpoint(ctx context.Context) (*domain.Checkpoint, error)
}

type Handler struct {
	store  Reader
	logger *zap.Logger
}

func NewHandler(s Reader, logger *zap.Logger) *Handler {
	return &Handler{store: s, logger: logger}
}

// Register mounts the read endpoints on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	r.HandleFunc("/accounts/{id}/bonds", h.ListBonds).Methods("GET")
	r.HandleFunc("/stakers/{id}", h.GetStaker).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	acc, err := h.store.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	if acc == nil {
		h.respondError(w, http.StatusNotFound, "Not Found", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", endpoint)
}

func (h *Handler) ListBonds(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{id}/bonds"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	limit := defaultBondLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", endpoint)
			return
		}
		limit = min(n, maxBondLimit)
	}

	bonds, err := h.store.ListBonds(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	if bonds == nil {
		bonds = []domain.Bond{}
	}
	h.respondJSON(w, http.StatusOK, bonds, "GET", endpoint)
}

func (h *Handler) GetStaker(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/stakers/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	staker, err := h.store.GetStaker(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	if staker == nil {
		h.respondError(w, http.StatusNotFound, "Not Found", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, staker, "GET", endpoint)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/status"
	cp, err := h.store.Checkpoint(r.Context())
	if err != nil {
		h.internalError(w, err, endpoint)
		return
	}
	if cp == nil {
		// nothing indexed yet
		cp = &domain.Checkpoint{}
	}
	h.respondJSON(w, http.StatusOK, cp, "GET", endpoint)
}

// Helpers
func (h *Handler) internalError(w http.ResponseWriter, err error, endpoint string) {
	h.logger.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "internal error", "GET", endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
