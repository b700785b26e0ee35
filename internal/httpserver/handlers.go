package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/chainpass/checkout/internal/apierrors"
	"github.com/chainpass/checkout/internal/chain"
	"github.com/chainpass/checkout/internal/entitlement"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/payconfig"
)

type activateRequest struct {
	TxHash  string `json:"hash"`
	ChainID int64  `json:"chainid"`
	Wallet  string `json:"wallet"`
}

type activationResponse struct {
	Plan      string `json:"plan"`
	Wallet    string `json:"wallet"`
	TxHash    string `json:"tx_hash"`
	ChainID   int64  `json:"chain_id"`
	ExpiresAt string `json:"expires_at"`
	Replayed  bool   `json:"replayed"`
}

type payConfigResponse struct {
	Plans    []planResponse    `json:"plans"`
	Networks []networkResponse `json:"networks"`
}

type planResponse struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	DurationLabel string `json:"duration_label"`
	DurationDays  int    `json:"duration_days"`
}

type networkResponse struct {
	ChainID       int64  `json:"chain_id"`
	Name          string `json:"name"`
	TokenContract string `json:"token_contract"`
	TokenSymbol   string `json:"token_symbol"`
	Receiver      string `json:"receiver"`
	ExplorerTx    string `json:"explorer_tx_base"`
}

// health handles GET /healthz.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteOK(w, map[string]string{"status": "ok"})
}

// payConfig handles GET /api/v1/pay/config. The response is everything a
// client needs to render the checkout: plans with prices and the payable
// networks with their receiving addresses.
func (h *handlers) payConfig(w http.ResponseWriter, r *http.Request) {
	resp := payConfigResponse{}

	for _, plan := range h.resolver.Plans() {
		resp.Plans = append(resp.Plans, planResponse{
			Name:          plan.Name,
			Price:         plan.Price.String(),
			DurationLabel: plan.DurationLabel,
			DurationDays:  plan.DurationDays,
		})
	}

	for _, terms := range h.resolver.PayableNetworks() {
		resp.Networks = append(resp.Networks, networkResponse{
			ChainID:       terms.Network.ChainID,
			Name:          terms.Network.Name,
			TokenContract: terms.Network.TokenContract,
			TokenSymbol:   terms.Network.TokenSymbol,
			Receiver:      terms.Receiver,
			ExplorerTx:    terms.Network.ExplorerBaseURL + "/tx/",
		})
	}

	apierrors.WriteOK(w, resp)
}

// activate handles POST /api/v1/pay/activate/{plan}. The transaction hash
// and chain id in the body are verified on chain before any entitlement
// changes; replaying an already-processed transaction returns the stored
// result.
func (h *handlers) activate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	plan := chi.URLParam(r, "plan")

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.CodeInvalidField, "request body is not valid json")
		return
	}

	if req.TxHash == "" || len(req.TxHash) != 66 {
		apierrors.WriteError(w, apierrors.CodeInvalidField, "hash must be a 0x-prefixed 32-byte hash")
		return
	}
	if req.ChainID <= 0 {
		apierrors.WriteError(w, apierrors.CodeInvalidField, "chainid must be positive")
		return
	}
	if req.Wallet != "" && !common.IsHexAddress(req.Wallet) {
		apierrors.WriteError(w, apierrors.CodeInvalidField, "wallet is not a valid address")
		return
	}

	outcome, err := h.service.Activate(r.Context(), plan, req.ChainID, req.TxHash)
	if err != nil {
		code, msg := classifyActivationError(err)
		if code == apierrors.CodeInternalError || code == apierrors.CodeRPCError {
			log.Error().Err(err).
				Str("plan", plan).
				Str("tx_hash", logger.TruncateHash(req.TxHash)).
				Msg("httpserver.activation_error")
		}
		apierrors.WriteError(w, code, msg)
		return
	}

	apierrors.WriteOK(w, activationResponse{
		Plan:      outcome.Activation.Plan,
		Wallet:    outcome.Activation.Wallet,
		TxHash:    outcome.Activation.TxHash,
		ChainID:   outcome.Activation.ChainID,
		ExpiresAt: outcome.Activation.ExpiresAt.Format(time.RFC3339),
		Replayed:  outcome.Replayed,
	})
}

// entitlementStatus handles GET /api/v1/pay/entitlement?wallet=0x...
func (h *handlers) entitlementStatus(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if !common.IsHexAddress(wallet) {
		apierrors.WriteError(w, apierrors.CodeInvalidField, "wallet is not a valid address")
		return
	}

	ent, err := h.service.Entitlement(r.Context(), wallet)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			apierrors.WriteOK(w, map[string]interface{}{
				"wallet": wallet,
				"active": false,
			})
			return
		}
		apierrors.WriteError(w, apierrors.CodeDatabaseError, "entitlement lookup failed")
		return
	}

	apierrors.WriteOK(w, map[string]interface{}{
		"wallet":     ent.Wallet,
		"plan":       ent.Plan,
		"expires_at": ent.ExpiresAt.Format(time.RFC3339),
		"active":     ent.Active(time.Now()),
	})
}

// classifyActivationError maps service errors onto the response taxonomy.
func classifyActivationError(err error) (apierrors.ErrorCode, string) {
	switch {
	case errors.Is(err, payconfig.ErrUnknownPlan):
		return apierrors.CodeUnknownPlan, err.Error()
	case errors.Is(err, payconfig.ErrUnsupportedChain):
		return apierrors.CodeUnsupportedNetwork, err.Error()
	case errors.Is(err, payconfig.ErrNetworkNotPayable):
		return apierrors.CodeNetworkNotPayable, err.Error()
	case errors.Is(err, chain.ErrStillPending):
		return apierrors.CodeTransactionNotConfirmed, "transaction is not confirmed yet"
	case errors.Is(err, chain.ErrReverted):
		return apierrors.CodeTransactionReverted, "transaction reverted on chain"
	case errors.Is(err, entitlement.ErrNoTransfer):
		return apierrors.CodeTransactionNotFound, "no matching token transfer found in transaction"
	case errors.Is(err, entitlement.ErrWrongRecipient):
		return apierrors.CodeWrongRecipient, err.Error()
	case errors.Is(err, entitlement.ErrAmountMismatch):
		return apierrors.CodeAmountMismatch, err.Error()
	case errors.Is(err, chain.ErrRPCUnavailable), errors.Is(err, chain.ErrNoRPCURL):
		return apierrors.CodeRPCError, "chain rpc unavailable"
	default:
		return apierrors.CodeInternalError, "activation failed"
	}
}
