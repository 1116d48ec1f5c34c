package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"go.uber.org/zap"
)

// Handler serves the read-only ledger API used by operators next to the chat console.
type Handler struct {
	ledger *service.Ledger
	logger *zap.Logger
}

func NewHandler(ledger *service.Ledger, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userResponse struct {
	*domain.User
	Withdrawals []*domain.WithdrawalRequest `json:"withdrawals"`
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := h.ledger.User(r.Context(), id)
	if errors.Is(err, domain.ErrUserNotFound) {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	list, err := h.ledger.Withdrawals(r.Context(), store.WithdrawalFilter{UserID: id})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.WithdrawalRequest{}
	}
	respondWithJSON(w, http.StatusOK, userResponse{User: u, Withdrawals: list})
}

func (h *Handler) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	var f store.WithdrawalFilter
	switch status := domain.WithdrawalStatus(r.URL.Query().Get("status")); status {
	case "", domain.WithdrawalPending, domain.WithdrawalApproved, domain.WithdrawalRejected:
		f.Status = status
	default:
		respondWithError(w, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}
	list, err := h.ledger.Withdrawals(r.Context(), f)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.WithdrawalRequest{}
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	wr, err := h.ledger.Withdrawal(r.Context(), id)
	if errors.Is(err, domain.ErrNotPending) {
		respondWithError(w, http.StatusNotFound, "Withdrawal not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("api request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", w.Header().Get(requestIDHeader)),
		zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
