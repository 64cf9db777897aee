package contract

import (
	"context"
	"errors"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for registration")
	ErrInvalidAmount       = errors.New("invalid stake amount")
	ErrTransactionReverted = errors.New("transaction reverted or lost")
)

// Receipt is the confirmation of a write call. Callers only inspect it for
// success and log the hash; nothing else is parsed out of it.
type Receipt struct {
	TxHash string
	Status uint64
}

// Client abstracts the on-chain goal pool interaction.
type Client interface {
	// UserExists reports whether the address holds an on-chain registration.
	// Read failures resolve to false rather than propagate: the caller
	// routes "not registered" and "unknown" to the same place.
	UserExists(ctx context.Context, address string) bool

	CreateUser(ctx context.Context) (*Receipt, error)
	JoinGoal(ctx context.Context, goalID, amountMajor string) (*Receipt, error)
	ClaimRewards(ctx context.Context, goalID string) (*Receipt, error)
}
