// Package apierrors defines the error code taxonomy shared by the HTTP
// handlers and the client. Codes are stable strings so clients can branch
// on them without parsing messages.
package apierrors

import "net/http"

// ErrorCode is a machine-readable error identifier.
type ErrorCode string

const (
	// Verification failures for an activation request.
	CodeTransactionNotFound     ErrorCode = "transaction_not_found"
	CodeTransactionNotConfirmed ErrorCode = "transaction_not_confirmed"
	CodeTransactionReverted     ErrorCode = "transaction_reverted"
	CodeWrongRecipient          ErrorCode = "wrong_recipient"
	CodeAmountMismatch          ErrorCode = "amount_mismatch"

	// Request shape problems.
	CodeUnsupportedNetwork ErrorCode = "unsupported_network"
	CodeNetworkNotPayable  ErrorCode = "network_not_payable"
	CodeUnknownPlan        ErrorCode = "unknown_plan"
	CodeInvalidField       ErrorCode = "invalid_field"

	// Infrastructure faults.
	CodeInternalError ErrorCode = "internal_error"
	CodeDatabaseError ErrorCode = "database_error"
	CodeRPCError      ErrorCode = "rpc_error"
)

// IsRetryable reports whether a client may retry the same request unchanged
// and reasonably expect a different outcome. A not-yet-confirmed transaction
// becomes confirmed; a reverted one never does.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case CodeTransactionNotFound, CodeTransactionNotConfirmed,
		CodeDatabaseError, CodeRPCError, CodeInternalError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the HTTP status the handlers respond with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeTransactionNotFound:
		return http.StatusNotFound
	case CodeTransactionNotConfirmed:
		return http.StatusConflict
	case CodeTransactionReverted, CodeWrongRecipient, CodeAmountMismatch:
		return http.StatusUnprocessableEntity
	case CodeUnsupportedNetwork, CodeNetworkNotPayable, CodeUnknownPlan, CodeInvalidField:
		return http.StatusBadRequest
	case CodeRPCError:
		return http.StatusBadGateway
	case CodeDatabaseError, CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
