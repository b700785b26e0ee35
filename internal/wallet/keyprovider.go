package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const transferABI = `[{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// KeyProvider is a headless wallet backed by a raw secp256k1 private key.
// It serves server-side and CLI flows where no browser extension exists:
// the "prompt" steps resolve immediately and signing happens locally.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	rpcURLs map[int64]string

	mu          sync.Mutex
	clients     map[int64]*ethclient.Client
	activeChain int64

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	abi abi.ABI
}

// NewKeyProvider builds a key-backed provider. The key is hex encoded,
// with or without a 0x prefix. rpcURLs maps chain ids to RPC endpoints;
// the provider can only operate on chains it has an endpoint for.
func NewKeyProvider(hexKey string, rpcURLs map[int64]string, activeChain int64) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(transferABI))
	if err != nil {
		return nil, fmt.Errorf("parse transfer abi: %w", err)
	}

	if _, ok := rpcURLs[activeChain]; !ok {
		return nil, fmt.Errorf("no rpc url configured for chain %d", activeChain)
	}

	return &KeyProvider{
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		rpcURLs:     rpcURLs,
		clients:     make(map[int64]*ethclient.Client),
		activeChain: activeChain,
		subscribers: make(map[int]func(Event)),
		abi:         parsed,
	}, nil
}

func (p *KeyProvider) ID() string { return "key" }

func (p *KeyProvider) Available() bool { return true }

// Locked always reports false: the key is held in memory.
func (p *KeyProvider) Locked(ctx context.Context) (bool, error) { return false, nil }

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	return []string{p.address.Hex()}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeChain, nil
}

// SwitchChain changes the active chain and notifies subscribers, mirroring
// what a browser wallet does when the user changes networks.
func (p *KeyProvider) SwitchChain(chainID int64) error {
	if _, ok := p.rpcURLs[chainID]; !ok {
		return fmt.Errorf("no rpc url configured for chain %d", chainID)
	}

	p.mu.Lock()
	p.activeChain = chainID
	p.mu.Unlock()

	p.notify(Event{Kind: EventChainChanged, ChainID: chainID})
	return nil
}

// SendToken signs an ERC-20 transfer with the local key and broadcasts it
// exactly once through the chain's RPC endpoint.
func (p *KeyProvider) SendToken(ctx context.Context, transfer TokenTransfer) (string, error) {
	p.mu.Lock()
	active := p.activeChain
	p.mu.Unlock()

	if transfer.ChainID != active {
		return "", fmt.Errorf("provider is on chain %d, transfer targets chain %d", active, transfer.ChainID)
	}

	client, err := p.client(ctx, transfer.ChainID)
	if err != nil {
		return "", err
	}

	calldata, err := p.abi.Pack("transfer", common.HexToAddress(transfer.To), transfer.Amount)
	if err != nil {
		return "", fmt.Errorf("encode transfer: %w", err)
	}

	nonce, err := client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	token := common.HexToAddress(transfer.Token)
	gasLimit, err := client.EstimateGas(ctx, ethereumCallMsg(p.address, token, calldata))
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, calldata)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(transfer.ChainID)), p.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transfer: %w", err)
	}

	return signed.Hash().Hex(), nil
}

func (p *KeyProvider) Subscribe(fn func(Event)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *KeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		client.Close()
	}
	p.clients = make(map[int64]*ethclient.Client)
	return nil
}

func (p *KeyProvider) notify(ev Event) {
	p.subMu.Lock()
	fns := make([]func(Event), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func ethereumCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

// client returns a cached RPC client for the chain, dialing on first use.
func (p *KeyProvider) client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[chainID]; ok {
		return c, nil
	}

	url, ok := p.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc url configured for chain %d", chainID)
	}

	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	p.clients[chainID] = c
	return c, nil
}
