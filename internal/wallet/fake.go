package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeProvider is an in-memory wallet used in tests and when no RPC chain is
// configured. Accounts and balances are scripted; account changes are pushed
// through SetAccounts.
type FakeProvider struct {
	mu          sync.Mutex
	Unavailable bool
	RequestErr  error
	accounts    []string
	balances    map[string]*big.Int
	sinks       []chan<- []string
}

func NewFakeProvider(accounts ...string) *FakeProvider {
	return &FakeProvider{
		accounts: accounts,
		balances: make(map[string]*big.Int),
	}
}

func (f *FakeProvider) Available() bool {
	return !f.Unavailable
}

func (f *FakeProvider) ConnectedAccounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.accounts...)
}

func (f *FakeProvider) RequestAccounts(_ context.Context) ([]string, error) {
	if !f.Available() {
		return nil, ErrWalletUnavailable
	}
	if f.RequestErr != nil {
		return nil, f.RequestErr
	}
	return f.ConnectedAccounts(), nil
}

func (f *FakeProvider) Signer(_ context.Context) (*bind.TransactOpts, error) {
	accts := f.ConnectedAccounts()
	if !f.Available() || len(accts) == 0 {
		return nil, ErrWalletUnavailable
	}
	return &bind.TransactOpts{
		From: common.HexToAddress(accts[0]),
		Signer: func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return tx, nil
		},
	}, nil
}

func (f *FakeProvider) Balance(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bal, ok := f.balances[common.HexToAddress(address).Hex()]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (f *FakeProvider) SetBalance(address string, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[common.HexToAddress(address).Hex()] = new(big.Int).Set(wei)
}

// SetAccounts replaces the account list and notifies every subscriber, the
// fake analog of the wallet's active account set changing.
func (f *FakeProvider) SetAccounts(accounts ...string) {
	f.mu.Lock()
	f.accounts = append([]string(nil), accounts...)
	sinks := append([]chan<- []string(nil), f.sinks...)
	f.mu.Unlock()

	for _, sink := range sinks {
		sink <- append([]string(nil), accounts...)
	}
}

func (f *FakeProvider) SubscribeAccountsChanged(sink chan<- []string) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
	return fakeSubscription{provider: f, sink: sink}
}

type fakeSubscription struct {
	provider *FakeProvider
	sink     chan<- []string
}

func (s fakeSubscription) Unsubscribe() {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	kept := s.provider.sinks[:0]
	for _, sink := range s.provider.sinks {
		if sink != s.sink {
			kept = append(kept, sink)
		}
	}
	s.provider.sinks = kept
}
