// Package activation is the client side of the backend activation API.
// Activation is keyed by transaction hash and chain id, which makes the
// call idempotent: replaying a request for an already-processed
// transaction returns the stored result instead of extending twice.
package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainpass/checkout/internal/apierrors"
	"github.com/chainpass/checkout/internal/circuitbreaker"
	"github.com/chainpass/checkout/internal/logger"
	"github.com/chainpass/checkout/internal/rpcutil"
)

// ErrNetworkFailure means the backend could not be reached or its reply
// could not be read. The request may or may not have been processed;
// retrying is safe because the API is idempotent on (chain id, tx hash).
var ErrNetworkFailure = errors.New("activation service unreachable")

// BackendRejection is a decoded failure reply from the backend.
type BackendRejection struct {
	Code    apierrors.ErrorCode
	Message string
	Status  int
}

func (e *BackendRejection) Error() string {
	return fmt.Sprintf("activation rejected: %s (%s)", e.Message, e.Code)
}

// Retryable reports whether resubmitting the same request may succeed.
func (e *BackendRejection) Retryable() bool {
	return e.Code.IsRetryable()
}

// Request is the activation payload. The transaction hash and chain id
// identify the payment; everything else is derived server-side from the
// verified transfer.
type Request struct {
	TxHash  string `json:"hash"`
	ChainID int64  `json:"chainid"`
	Wallet  string `json:"wallet"`
}

// Result is the backend's view of a processed activation.
type Result struct {
	Plan      string `json:"plan"`
	Wallet    string `json:"wallet"`
	TxHash    string `json:"tx_hash"`
	ChainID   int64  `json:"chain_id"`
	ExpiresAt string `json:"expires_at"`
	Replayed  bool   `json:"replayed"`
}

type envelope struct {
	APICode int             `json:"api_code"`
	APIMsg  string          `json:"api_msg"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the activation backend.
type Client struct {
	baseURL  string
	client   *http.Client
	breakers *circuitbreaker.Manager
	retry    rpcutil.RetryConfig
}

// NewClient creates an activation client for the backend base URL.
func NewClient(baseURL string, breakers *circuitbreaker.Manager) *Client {
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		breakers: breakers,
		retry:    rpcutil.DefaultRetryConfig(),
	}
}

// Activate reports a confirmed payment to the backend and returns the
// resulting entitlement. Transport failures are retried; a decoded
// rejection is returned as *BackendRejection without further retries,
// because only the backend knows whether the condition can clear.
func (c *Client) Activate(ctx context.Context, plan string, req Request) (Result, error) {
	log := logger.FromContext(ctx)

	result, err := rpcutil.WithRetryCustom(ctx, "activation.activate", c.retry, func() (Result, error) {
		out, execErr := c.breakers.Execute(circuitbreaker.ServiceActivationAPI, func() (interface{}, error) {
			return c.activateOnce(ctx, plan, req)
		})
		if execErr != nil {
			return Result{}, execErr
		}
		return out.(Result), nil
	})
	if err != nil {
		var rejection *BackendRejection
		if errors.As(err, &rejection) {
			log.Warn().
				Str("plan", plan).
				Str("code", string(rejection.Code)).
				Str("tx_hash", logger.TruncateHash(req.TxHash)).
				Msg("activation.rejected")
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}

	log.Info().
		Str("plan", result.Plan).
		Int64("chain_id", result.ChainID).
		Str("tx_hash", logger.TruncateHash(result.TxHash)).
		Bool("replayed", result.Replayed).
		Msg("activation.completed")

	return result, nil
}

func (c *Client) activateOnce(ctx context.Context, plan string, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode activation request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/pay/activate/%s", c.baseURL, plan)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build activation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("post activation: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Result{}, fmt.Errorf("decode activation reply (status %d): %w", resp.StatusCode, err)
	}

	if env.APICode != http.StatusOK {
		rejection := &BackendRejection{
			Code:    apierrors.CodeInternalError,
			Message: env.APIMsg,
			Status:  env.APICode,
		}
		var errBody apierrors.ErrorBody
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &errBody) == nil && errBody.Code != "" {
			rejection.Code = errBody.Code
			if errBody.Message != "" {
				rejection.Message = errBody.Message
			}
		}
		return Result{}, rejection
	}

	var result Result
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return Result{}, fmt.Errorf("decode activation result: %w", err)
	}
	return result, nil
}

// Entitlement fetches the current entitlement for a wallet address.
func (c *Client) Entitlement(ctx context.Context, walletAddr string) (Result, error) {
	url := fmt.Sprintf("%s/api/v1/pay/entitlement?wallet=%s", c.baseURL, walletAddr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build entitlement request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Result{}, fmt.Errorf("%w: decode entitlement reply: %v", ErrNetworkFailure, err)
	}
	if env.APICode != http.StatusOK {
		return Result{}, &BackendRejection{
			Code:    apierrors.CodeInternalError,
			Message: env.APIMsg,
			Status:  env.APICode,
		}
	}

	var result Result
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return Result{}, fmt.Errorf("decode entitlement result: %w", err)
	}
	return result, nil
}
