package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

var (
	ErrWalletUnavailable = errors.New("wallet provider unavailable")
	ErrUserRejected      = errors.New("user rejected the account request")
)

// Subscription is a handle on an accounts-changed registration.
type Subscription interface {
	Unsubscribe()
}

// Provider abstracts the wallet backing the staking client.
type Provider interface {
	// Available reports whether a wallet provider exists at all.
	Available() bool

	// ConnectedAccounts returns the ordered addresses already authorized
	// for signing. Empty when none are authorized or no provider exists.
	ConnectedAccounts() []string

	// RequestAccounts prompts for authorization and returns the ordered
	// addresses granted.
	RequestAccounts(ctx context.Context) ([]string, error)

	// Signer returns fresh transact options bound to the active account.
	// Callers must fetch a signer per write rather than caching one.
	Signer(ctx context.Context) (*bind.TransactOpts, error)

	// Balance returns the wei balance of the given address.
	Balance(ctx context.Context, address string) (*big.Int, error)

	// SubscribeAccountsChanged delivers the full ordered account list to
	// sink whenever the authorized set changes, until Unsubscribe.
	SubscribeAccountsChanged(sink chan<- []string) Subscription
}
