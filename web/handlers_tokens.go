package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/domain/usage"
)

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	bal, err := h.usage.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"userId":        bal.UserID,
		"tokens":        bal.Tokens,
		"freeTrialUsed": bal.FreeTrialUsed,
	})
}

type transactionResponse struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Amount      int64             `json:"amount"`
	Reason      string            `json:"reason"`
	ExternalRef string            `json:"externalRef,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	txs, err := h.usage.History(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		items = append(items, transactionResponse{
			ID:          tx.ID,
			Kind:        string(tx.Kind),
			Amount:      tx.Amount,
			Reason:      tx.Reason,
			ExternalRef: tx.ExternalRef,
			Metadata:    tx.Metadata,
			CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": items,
		"offset":       offset,
	})
}

type trialRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) handleClaimTrial(w http.ResponseWriter, r *http.Request) {
	var req trialRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	tokens, granted, err := h.usage.ClaimFreeTrial(r.Context(), req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}

	if h.metrics != nil && granted {
		h.metrics.FreeTrialGrants.Inc()
		h.metrics.CreditsTotal.WithLabelValues(ledger.ReasonFreeTrial).Inc()
		h.metrics.CreditedTokens.WithLabelValues(ledger.ReasonFreeTrial).Add(float64(tokens))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"granted": granted,
		"tokens":  tokens,
	})
}

type precheckRequest struct {
	UserID string `json:"userId"`
	Cost   int64  `json:"cost"`
	Input  string `json:"input"`
}

// handlePreCheck estimates the cost of an operation and reports whether the
// user's balance covers it. An explicit cost wins over the input heuristic.
func (h *Handler) handlePreCheck(w http.ResponseWriter, r *http.Request) {
	var req precheckRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	cost := req.Cost
	if cost <= 0 {
		cost = usage.EstimateOperation(req.Input)
	}
	if cost <= 0 {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "cost or input is required"})
		return
	}

	err := h.usage.PreCheck(r.Context(), req.UserID, cost)
	if err != nil && !errors.Is(err, ledger.ErrInsufficientTokens) {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"estimatedCost": cost,
		"allowed":       err == nil,
	})
}

type consumeRequest struct {
	UserID string `json:"userId"`
	Cost   int64  `json:"cost"`
}

func (h *Handler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	remaining, err := h.usage.Consume(r.Context(), req.UserID, req.Cost)
	if err != nil {
		if h.metrics != nil && errors.Is(err, ledger.ErrInsufficientTokens) {
			h.metrics.DebitRefusals.Inc()
		}
		respondError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.DebitsTotal.WithLabelValues(ledger.ReasonAIUsage).Inc()
		h.metrics.DebitedTokens.WithLabelValues(ledger.ReasonAIUsage).Add(float64(req.Cost))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": remaining,
	})
}
