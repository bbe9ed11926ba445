package web

import (
	"net/http"
	"time"
)

type planResponse struct {
	Key             string `json:"key"`
	Price           int64  `json:"price"`
	Currency        string `json:"currency"`
	TokensPerPeriod int64  `json:"tokensPerPeriod"`
	Label           string `json:"label"`
}

// handlePlans returns the plan catalog from configuration. Gateway plan ids
// and secrets are never exposed.
func (h *Handler) handlePlans(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Get()

	plans := make([]planResponse, 0, len(cfg.Plans))
	for _, p := range cfg.BillingPlans() {
		plans = append(plans, planResponse{
			Key:             p.Key,
			Price:           p.Price,
			Currency:        p.Currency,
			TokensPerPeriod: p.TokensPerPeriod,
			Label:           p.Label,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"plans":            plans,
		"gatewayPublicKey": h.billingPublicKey(),
	})
}

func (h *Handler) billingPublicKey() string {
	return h.cfg.Get().Gateway.KeyID
}

// handleActiveSubscription returns the user's newest non-cancelled
// subscription, 404 when there is none.
func (h *Handler) handleActiveSubscription(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	sub, err := h.billing.ActiveSubscription(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := map[string]interface{}{
		"subscriptionId":        sub.ID,
		"gatewaySubscriptionId": sub.GatewayID,
		"planKey":               sub.PlanID,
		"status":                string(sub.Status),
		"tokensPerPeriod":       sub.TokensPerPeriod,
	}
	if sub.NextBillingAt != nil {
		resp["nextBillingAt"] = sub.NextBillingAt.UTC().Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, resp)
}

type createSubscriptionRequest struct {
	UserID  string `json:"userId"`
	PlanKey string `json:"planKey"`
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.PlanKey == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and planKey are required"})
		return
	}

	res, err := h.billing.CreateSubscription(r.Context(), req.UserID, req.PlanKey)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"subscriptionId":        res.SubscriptionID,
		"gatewaySubscriptionId": res.GatewaySubscriptionID,
		"gatewayPublicKey":      res.GatewayPublicKey,
		"planKey":               res.PlanKey,
		"planLabel":             res.PlanLabel,
	})
}

type verifyRequest struct {
	UserID                string `json:"userId"`
	GatewaySubscriptionID string `json:"gatewaySubscriptionId"`
	PaymentID             string `json:"paymentId"`
	Signature             string `json:"signature"`
}

func (h *Handler) handleVerifySubscription(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.GatewaySubscriptionID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and gatewaySubscriptionId are required"})
		return
	}

	res, err := h.billing.VerifySubscription(r.Context(), req.UserID, req.GatewaySubscriptionID, req.PaymentID, req.Signature)
	if err != nil {
		respondError(w, err)
		return
	}

	if h.metrics != nil && res.TokensCredited > 0 {
		h.metrics.CreditsTotal.WithLabelValues("verify").Inc()
		h.metrics.CreditedTokens.WithLabelValues("verify").Add(float64(res.TokensCredited))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"activated":      res.Activated,
		"tokensCredited": res.TokensCredited,
		"tokens":         res.Tokens,
	})
}

type cancelRequest struct {
	UserID                string `json:"userId"`
	GatewaySubscriptionID string `json:"gatewaySubscriptionId"`
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" || req.GatewaySubscriptionID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId and gatewaySubscriptionId are required"})
		return
	}

	if err := h.billing.CancelSubscription(r.Context(), req.UserID, req.GatewaySubscriptionID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type topupRequest struct {
	UserID   string `json:"userId"`
	Tokens   int64  `json:"tokens"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (h *Handler) handleCreateTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}

	order, err := h.billing.CreateTopupOrder(r.Context(), req.UserID, req.Tokens, req.Amount, req.Currency)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"orderId":          order.OrderID,
		"amount":           order.Amount,
		"currency":         order.Currency,
		"tokens":           order.Tokens,
		"gatewayPublicKey": order.GatewayPublicKey,
	})
}
