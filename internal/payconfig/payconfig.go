// Package payconfig resolves per-network payment parameters: which plans
// exist, what they cost, and which address receives funds on each chain.
package payconfig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/chainpass/checkout/internal/config"
	"github.com/chainpass/checkout/internal/networks"
)

var (
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrUnsupportedChain  = errors.New("unsupported network")
	ErrNetworkNotPayable = errors.New("network has no receiving address configured")
)

// Plan is one purchasable subscription tier.
type Plan struct {
	Name          string
	Price         decimal.Decimal
	DurationLabel string
	DurationDays  int
}

// NetworkTerms is everything a client needs to pay on one network.
type NetworkTerms struct {
	Network  networks.Info
	Receiver string
}

// Resolver answers plan and network questions from loaded configuration.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	plans     map[string]Plan
	receivers map[int64]string
}

// NewResolver builds a resolver from payment configuration.
// Plan prices were validated as positive decimals at config load.
func NewResolver(cfg config.PaymentConfig) (*Resolver, error) {
	plans := make(map[string]Plan, len(cfg.Plans))
	for name, spec := range cfg.Plans {
		price, err := decimal.NewFromString(spec.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %s: parse price %q: %w", name, spec.Price, err)
		}
		plans[name] = Plan{
			Name:          name,
			Price:         price,
			DurationLabel: spec.DurationLabel,
			DurationDays:  spec.DurationDays,
		}
	}

	receivers := make(map[int64]string, len(cfg.Receivers))
	for chainID, addr := range cfg.Receivers {
		if addr == "" {
			continue
		}
		receivers[chainID] = addr
	}

	return &Resolver{plans: plans, receivers: receivers}, nil
}

// Plan returns the named plan.
func (r *Resolver) Plan(name string) (Plan, error) {
	plan, ok := r.plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	return plan, nil
}

// Plans returns all plans sorted by ascending price.
func (r *Resolver) Plans() []Plan {
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Terms resolves the payment terms for one network. A chain that is in the
// registry but has no receiver configured is visible yet not payable.
func (r *Resolver) Terms(chainID int64) (NetworkTerms, error) {
	info, ok := networks.Lookup(chainID)
	if !ok {
		return NetworkTerms{}, fmt.Errorf("%w: chain %d", ErrUnsupportedChain, chainID)
	}

	receiver, ok := r.receivers[chainID]
	if !ok {
		return NetworkTerms{}, fmt.Errorf("%w: chain %d", ErrNetworkNotPayable, chainID)
	}

	return NetworkTerms{Network: info, Receiver: receiver}, nil
}

// PayableNetworks returns the networks that have a receiving address,
// in registry display order.
func (r *Resolver) PayableNetworks() []NetworkTerms {
	var out []NetworkTerms
	for _, info := range networks.Supported() {
		if receiver, ok := r.receivers[info.ChainID]; ok {
			out = append(out, NetworkTerms{Network: info, Receiver: receiver})
		}
	}
	return out
}
