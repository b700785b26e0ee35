package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/chainpass/checkout/internal/wallet"
)

// fakeWallet scripts ChainID and SendToken and counts broadcasts.
type fakeWallet struct {
	chainID    int64
	chainErr   error
	sendHash   string
	sendErr    error
	sendCalls  int
	lastAmount *big.Int
}

func (f *fakeWallet) ChainID(ctx context.Context) (int64, error) {
	return f.chainID, f.chainErr
}

func (f *fakeWallet) SendToken(ctx context.Context, transfer wallet.TokenTransfer) (string, error) {
	f.sendCalls++
	f.lastAmount = transfer.Amount
	return f.sendHash, f.sendErr
}

func TestSubmitterSubmit(t *testing.T) {
	w := &fakeWallet{chainID: 137, sendHash: "0xfeed"}
	s := NewSubmitter(w)

	hash, err := s.Submit(context.Background(), 137, "0xtoken", "0xto", big.NewInt(30000000))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if hash != "0xfeed" {
		t.Errorf("hash = %q, want 0xfeed", hash)
	}
	if w.sendCalls != 1 {
		t.Errorf("broadcasts = %d, want exactly 1", w.sendCalls)
	}
}

func TestSubmitterNetworkMismatch(t *testing.T) {
	w := &fakeWallet{chainID: 1}
	s := NewSubmitter(w)

	_, err := s.Submit(context.Background(), 137, "0xtoken", "0xto", big.NewInt(1))
	if !errors.Is(err, ErrNetworkMismatch) {
		t.Fatalf("err = %v, want ErrNetworkMismatch", err)
	}
	if w.sendCalls != 0 {
		t.Errorf("broadcasts = %d, want 0 on mismatch", w.sendCalls)
	}
}

func TestSubmitterUserRejection(t *testing.T) {
	w := &fakeWallet{chainID: 137, sendErr: wallet.ErrUserRejected}
	s := NewSubmitter(w)

	_, err := s.Submit(context.Background(), 137, "0xtoken", "0xto", big.NewInt(1))
	if !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("err = %v, want ErrUserRejected", err)
	}
	if w.sendCalls != 1 {
		t.Errorf("broadcasts = %d, want 1", w.sendCalls)
	}
}

func TestSubmitterChainReadFailure(t *testing.T) {
	w := &fakeWallet{chainErr: errors.New("provider gone")}
	s := NewSubmitter(w)

	if _, err := s.Submit(context.Background(), 137, "0xtoken", "0xto", big.NewInt(1)); err == nil {
		t.Fatal("expected error when chain read fails")
	}
	if w.sendCalls != 0 {
		t.Errorf("broadcasts = %d, want 0 when chain read fails", w.sendCalls)
	}
}
