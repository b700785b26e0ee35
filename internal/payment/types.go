// Package payment drives a subscription purchase from balance check to
// activation as an explicit state machine.
package payment

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// State is one phase of a payment flow.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateTransferring
	StateConfirming
	StateActivating
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateTransferring:
		return "transferring"
	case StateConfirming:
		return "confirming"
	case StateActivating:
		return "activating"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state admits no further transitions
// except an explicit retry.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrorKind classifies why a payment failed, so the UI can choose
// wording and whether to offer a retry.
type ErrorKind int

const (
	ErrKindConnectFailed ErrorKind = iota
	ErrKindUnpayable
	ErrKindInsufficientBalance
	ErrKindRejected
	ErrKindNetworkMismatch
	ErrKindRPCFailure
	ErrKindReverted
	ErrKindPending
	ErrKindActivationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindConnectFailed:
		return "connect_failed"
	case ErrKindUnpayable:
		return "unpayable"
	case ErrKindInsufficientBalance:
		return "insufficient_balance"
	case ErrKindRejected:
		return "rejected"
	case ErrKindNetworkMismatch:
		return "network_mismatch"
	case ErrKindRPCFailure:
		return "rpc_failure"
	case ErrKindReverted:
		return "reverted"
	case ErrKindPending:
		return "pending"
	case ErrKindActivationFailed:
		return "activation_failed"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Failure describes a failed payment. TxHash and ChainID are set whenever
// a transaction was broadcast before the failure: together they are the
// durable proof of payment a user or operator needs to finish activation
// later, so they must never be dropped.
type Failure struct {
	Kind    ErrorKind
	Message string
	Err     error

	TxHash  string
	ChainID int64
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	return f.Kind.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Intent is the fully-resolved plan for one transfer attempt. It is built
// fresh inside Checking on every attempt; amounts from a previous attempt
// are never reused because prices, decimals, and balances may have moved.
type Intent struct {
	Plan          string
	Price         decimal.Decimal
	ChainID       int64
	TokenContract string
	TokenSymbol   string
	Receiver      string
	Decimals      uint8
	AmountMinor   *big.Int
	Payer         string
}

// Result is the outcome of a completed payment.
type Result struct {
	Plan       string
	ChainID    int64
	TxHash     string
	ExpiresAt  string
	Activated  bool
	Replayed   bool
	BlockNum   uint64
	AmountPaid string
}

// Transition is emitted to observers on every state change.
type Transition struct {
	From    State
	To      State
	Failure *Failure
}
