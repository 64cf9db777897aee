package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// FakeClient mimics the goal pool for tests and for running without a chain.
// Registered addresses live in memory; writes succeed unless an error is
// scripted.
type FakeClient struct {
	mu            sync.Mutex
	users         map[string]bool
	ExistsErr     error
	CreateUserErr error
	JoinGoalErr   error
	ClaimErr      error

	CreateUserCalls int
	JoinGoalCalls   int
	ClaimCalls      int
}

func NewFakeClient(registered ...string) *FakeClient {
	users := make(map[string]bool, len(registered))
	for _, addr := range registered {
		users[addr] = true
	}
	return &FakeClient{users: users}
}

func (f *FakeClient) UserExists(_ context.Context, address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExistsErr != nil {
		return false
	}
	return f.users[address]
}

func (f *FakeClient) CreateUser(_ context.Context) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateUserCalls++
	if f.CreateUserErr != nil {
		return nil, f.CreateUserErr
	}
	return fakeReceipt("createUser"), nil
}

func (f *FakeClient) JoinGoal(_ context.Context, goalID, amountMajor string) (*Receipt, error) {
	if _, err := ParseUnits(amountMajor, nativeDecimals); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.JoinGoalCalls++
	if f.JoinGoalErr != nil {
		return nil, f.JoinGoalErr
	}
	return fakeReceipt("joinGoal:" + goalID), nil
}

func (f *FakeClient) ClaimRewards(_ context.Context, goalID string) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ClaimCalls++
	if f.ClaimErr != nil {
		return nil, f.ClaimErr
	}
	return fakeReceipt("claimRewards:" + goalID), nil
}

// Register marks an address as registered, as a confirmed createUser would.
func (f *FakeClient) Register(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[address] = true
}

func fakeReceipt(seed string) *Receipt {
	sum := sha256.Sum256([]byte(seed))
	return &Receipt{
		TxHash: "0x" + hex.EncodeToString(sum[:]),
		Status: types.ReceiptStatusSuccessful,
	}
}
