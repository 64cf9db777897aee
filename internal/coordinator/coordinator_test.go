package coordinator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"goalpool/internal/contract"
	"goalpool/internal/receipts"
	"goalpool/internal/tokenex"
	"goalpool/internal/wallet"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeExchanger struct {
	token string
	err   error
	calls int
}

func (f *fakeExchanger) Exchange(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type captureSink struct {
	requests []DataRequest
}

func (s *captureSink) Submit(_ context.Context, req DataRequest) error {
	s.requests = append(s.requests, req)
	return nil
}

type fixture struct {
	wallet    *wallet.FakeProvider
	contract  *contract.FakeClient
	exchanger *fakeExchanger
	sink      *captureSink
	journal   *receipts.MemoryStore
	coord     *Coordinator
}

func newFixture(accounts ...string) *fixture {
	f := &fixture{
		wallet:    wallet.NewFakeProvider(accounts...),
		contract:  contract.NewFakeClient(),
		exchanger: &fakeExchanger{token: "tok"},
		sink:      &captureSink{},
		journal:   receipts.NewMemoryStore(),
	}
	f.coord = New(f.wallet, f.contract, f.exchanger, f.sink, f.journal, testLog())
	return f
}

func waitForSession(t *testing.T, co *Coordinator, want func(Session) bool) Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess := co.Snapshot(); want(sess) {
			return sess
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached expected state: %+v", co.Snapshot())
	return Session{}
}

func TestConnectWalletUnavailable(t *testing.T) {
	f := newFixture()
	f.wallet.Unavailable = true

	err := f.coord.Connect(context.Background())
	if !errors.Is(err, wallet.ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}

	sess := f.coord.Snapshot()
	if sess.Account != "" || sess.IsRegistered {
		t.Fatalf("session must stay disconnected: %+v", sess)
	}
	if sess.LastError == "" {
		t.Fatalf("expected a user-facing error message")
	}
}

func TestConnectAdoptsRegisteredAccount(t *testing.T) {
	f := newFixture("0xAA")
	f.contract.Register("0xAA")

	if err := f.coord.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sess := f.coord.Snapshot()
	if sess.Account != "0xAA" || !sess.IsRegistered {
		t.Fatalf("expected connected registered session, got %+v", sess)
	}
}

func TestConnectUserRejected(t *testing.T) {
	f := newFixture("0xAA")
	f.wallet.RequestErr = wallet.ErrUserRejected

	if err := f.coord.Connect(context.Background()); !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
	sess := f.coord.Snapshot()
	if sess.Account != "" {
		t.Fatalf("rejection must not connect: %+v", sess)
	}
	if sess.LastError != msgUserRejected {
		t.Fatalf("lastError = %q", sess.LastError)
	}
}

func TestRestoreSessionNoAccounts(t *testing.T) {
	f := newFixture()
	f.coord.RestoreSession(context.Background())
	if sess := f.coord.Snapshot(); sess.Account != "" {
		t.Fatalf("restore with no accounts must be a no-op: %+v", sess)
	}
}

func TestRestoreSessionAdoptsAuthorizedAccount(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.RestoreSession(context.Background())
	if sess := f.coord.Snapshot(); sess.Account != "0xAA" || sess.IsRegistered {
		t.Fatalf("expected connected unregistered session, got %+v", sess)
	}
}

func TestRegisterSuccess(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())
	f.coord.ClearLastError()

	if !f.coord.Register(context.Background()) {
		t.Fatalf("register should succeed")
	}
	sess := f.coord.Snapshot()
	if !sess.IsRegistered || sess.IsLoading || sess.LastError != "" {
		t.Fatalf("unexpected session after register: %+v", sess)
	}

	records, _ := f.journal.List(context.Background(), 0)
	if len(records) != 1 || records[0].Workflow != "register" {
		t.Fatalf("expected one register receipt, got %+v", records)
	}
}

func TestRegisterInsufficientBalance(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())
	f.contract.CreateUserErr = contract.ErrInsufficientBalance

	if f.coord.Register(context.Background()) {
		t.Fatalf("register should fail")
	}
	sess := f.coord.Snapshot()
	if sess.IsRegistered {
		t.Fatalf("failed register must not mark registered")
	}
	if sess.IsLoading {
		t.Fatalf("loading flag must be released on failure")
	}
	if sess.LastError != msgInsufficientBalance {
		t.Fatalf("lastError = %q", sess.LastError)
	}
}

func TestRegisterRevertedLeavesStateRetryable(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())

	f.contract.CreateUserErr = contract.ErrTransactionReverted
	if f.coord.Register(context.Background()) {
		t.Fatalf("register should fail")
	}

	f.contract.CreateUserErr = nil
	if !f.coord.Register(context.Background()) {
		t.Fatalf("retry should succeed")
	}
	if sess := f.coord.Snapshot(); !sess.IsRegistered || sess.IsLoading {
		t.Fatalf("unexpected session after retry: %+v", sess)
	}
}

func TestRegisterGates(t *testing.T) {
	f := newFixture("0xAA")

	// Disconnected.
	if f.coord.Register(context.Background()) {
		t.Fatalf("register must fail while disconnected")
	}

	// Already registered.
	f.contract.Register("0xAA")
	f.coord.Connect(context.Background())
	if f.coord.Register(context.Background()) {
		t.Fatalf("register must fail when already registered")
	}
	if f.contract.CreateUserCalls != 0 {
		t.Fatalf("gated register must not touch the contract, saw %d calls", f.contract.CreateUserCalls)
	}
}

func TestStakeRequiresConnectionOnly(t *testing.T) {
	f := newFixture("0xAA")

	if err := f.coord.Stake(context.Background(), "goal-1", "1.5"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// Connected but NOT registered: staking is still allowed.
	f.coord.Connect(context.Background())
	if err := f.coord.Stake(context.Background(), "goal-1", "1.5"); err != nil {
		t.Fatalf("stake: %v", err)
	}

	records, _ := f.journal.List(context.Background(), 0)
	if len(records) != 1 || records[0].Workflow != "stake" || records[0].GoalID != "goal-1" {
		t.Fatalf("expected one stake receipt, got %+v", records)
	}
}

func TestStakeInvalidAmounts(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())
	before := f.coord.Snapshot()

	for _, amount := range []string{"0", "-1", ""} {
		if err := f.coord.Stake(context.Background(), "goal-1", amount); !errors.Is(err, contract.ErrInvalidAmount) {
			t.Fatalf("amount %q: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if f.contract.JoinGoalCalls != 0 {
		t.Fatalf("invalid amounts must not invoke the contract")
	}
	if after := f.coord.Snapshot(); after != before {
		t.Fatalf("stake failure must not change session: %+v -> %+v", before, after)
	}
}

// blockingClient parks JoinGoal until released so the session can be
// inspected mid-stake.
type blockingClient struct {
	*contract.FakeClient
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClient) JoinGoal(ctx context.Context, goalID, amount string) (*contract.Receipt, error) {
	close(b.entered)
	<-b.release
	return b.FakeClient.JoinGoal(ctx, goalID, amount)
}

func TestStakeNeverTogglesLoading(t *testing.T) {
	f := newFixture("0xAA")
	blocking := &blockingClient{
		FakeClient: f.contract,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	f.coord = New(f.wallet, blocking, f.exchanger, f.sink, f.journal, testLog())
	f.coord.Connect(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.coord.Stake(context.Background(), "goal-1", "1.5")
	}()

	<-blocking.entered
	// Mid-flight: register/claim would show IsLoading here, stake must not.
	if sess := f.coord.Snapshot(); sess.IsLoading {
		t.Fatalf("stake must not toggle the loading flag")
	}
	close(blocking.release)

	if err := <-done; err != nil {
		t.Fatalf("stake: %v", err)
	}
	if sess := f.coord.Snapshot(); sess.IsLoading {
		t.Fatalf("loading flag set after stake")
	}
}

func TestClaimReleasesLoadingOnFailure(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())
	f.contract.ClaimErr = contract.ErrTransactionReverted

	if err := f.coord.Claim(context.Background(), "goal-1"); !errors.Is(err, contract.ErrTransactionReverted) {
		t.Fatalf("expected ErrTransactionReverted, got %v", err)
	}
	sess := f.coord.Snapshot()
	if sess.IsLoading {
		t.Fatalf("loading flag must be released on failure")
	}
	if sess.Account != "0xAA" || sess.IsRegistered {
		t.Fatalf("claim failure must leave account state untouched: %+v", sess)
	}
}

func TestClaimSuccessJournalsReceipt(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())

	if err := f.coord.Claim(context.Background(), "goal-2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	records, _ := f.journal.List(context.Background(), 0)
	if len(records) != 1 || records[0].Workflow != "claim" || records[0].GoalID != "goal-2" {
		t.Fatalf("expected one claim receipt, got %+v", records)
	}
}

func TestRequestVerificationData(t *testing.T) {
	f := newFixture("0xAA")

	if _, err := f.coord.RequestVerificationData(context.Background(), "running", "goal-1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if f.exchanger.calls != 0 {
		t.Fatalf("disconnected request must not hit the exchanger")
	}

	f.coord.Connect(context.Background())
	record, err := f.coord.RequestVerificationData(context.Background(), "running", "goal-1")
	if err != nil {
		t.Fatalf("request data: %v", err)
	}
	want := DataRequest{ActivityType: "running", GoalID: "goal-1", AccessToken: "tok", Account: "0xAA"}
	if *record != want {
		t.Fatalf("record = %+v, want %+v", *record, want)
	}
	if len(f.sink.requests) != 1 || f.sink.requests[0] != want {
		t.Fatalf("sink got %+v", f.sink.requests)
	}
}

func TestRequestVerificationDataExchangeFailure(t *testing.T) {
	f := newFixture("0xAA")
	f.coord.Connect(context.Background())
	f.exchanger.err = tokenex.ErrExchangeFailed

	if _, err := f.coord.RequestVerificationData(context.Background(), "running", "goal-1"); !errors.Is(err, tokenex.ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
	if len(f.sink.requests) != 0 {
		t.Fatalf("no record may be emitted when the exchange fails")
	}
}

func TestAccountsChangedToEmptyDisconnects(t *testing.T) {
	f := newFixture("0xAA")
	f.contract.Register("0xAA")
	f.coord.Start()
	defer f.coord.Close()

	f.coord.Connect(context.Background())

	f.wallet.SetAccounts()
	sess := waitForSession(t, f.coord, func(s Session) bool {
		return s.Account == "" && !s.IsRegistered
	})
	if sess.IsRegistered {
		t.Fatalf("registration must clear with the account")
	}
}

func TestAccountsChangedSwitchesAccount(t *testing.T) {
	f := newFixture("0xAA")
	f.contract.Register("0xBB")
	f.coord.Start()
	defer f.coord.Close()

	f.coord.Connect(context.Background())

	f.wallet.SetAccounts("0xBB", "0xCC")
	sess := waitForSession(t, f.coord, func(s Session) bool {
		return s.Account == "0xBB"
	})
	if !sess.IsRegistered {
		t.Fatalf("switched account is registered on-chain: %+v", sess)
	}
	// Registration never outlives its account.
	if sess.Account == "" && sess.IsRegistered {
		t.Fatalf("invariant violated: %+v", sess)
	}
}
