package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goalpool/internal/contract"
	"goalpool/internal/receipts"
	"goalpool/internal/wallet"

	"github.com/sirupsen/logrus"
)

// ErrNotConnected gates workflows that need an account.
var ErrNotConnected = errors.New("no wallet account connected")

// User-facing messages recorded in Session.LastError.
const (
	msgWalletUnavailable   = "No wallet detected. Install a wallet to continue."
	msgUserRejected        = "Wallet connection was declined."
	msgConnectFailed       = "Could not connect to the wallet."
	msgInsufficientBalance = "Your balance is too low to register. You need at least 0.01 to cover the transaction."
	msgRegistrationFailed  = "Registration failed. Please try again."
)

// Session is the coordinator's live state. Account is the single source of
// truth for connectedness; an empty string means disconnected. It is rebuilt
// on every startup by re-querying the wallet, never persisted.
type Session struct {
	Account      string
	IsRegistered bool
	IsLoading    bool
	LastError    string
}

// TokenExchanger trades a wallet address for a backend access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, walletAddress string) (string, error)
}

// Coordinator owns the Session and runs the five user-facing workflows. The
// mutex exists because accounts-changed events arrive on their own goroutine
// and may interleave with in-flight workflows; session fields follow
// last-write-wins.
type Coordinator struct {
	mu      sync.Mutex
	session Session

	wallet   wallet.Provider
	contract contract.Client
	tokens   TokenExchanger
	sink     DataSink
	journal  receipts.Store
	log      *logrus.Entry

	events chan []string
	sub    wallet.Subscription
	done   chan struct{}
}

func New(w wallet.Provider, c contract.Client, t TokenExchanger, sink DataSink, journal receipts.Store, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		wallet:   w,
		contract: c,
		tokens:   t,
		sink:     sink,
		journal:  journal,
		log:      log,
	}
}

// Start registers the accounts-changed subscription and begins consuming
// events. Call Close to release it.
func (co *Coordinator) Start() {
	co.events = make(chan []string, 8)
	co.done = make(chan struct{})
	co.sub = co.wallet.SubscribeAccountsChanged(co.events)
	go co.eventLoop()
}

func (co *Coordinator) Close() {
	if co.sub != nil {
		co.sub.Unsubscribe()
	}
	if co.done != nil {
		close(co.done)
	}
}

func (co *Coordinator) eventLoop() {
	for {
		select {
		case <-co.done:
			return
		case accounts := <-co.events:
			co.handleAccountsChanged(context.Background(), accounts)
		}
	}
}

// handleAccountsChanged overwrites the session with freshly observed truth.
// It is the only transition not initiated by a direct user action.
func (co *Coordinator) handleAccountsChanged(ctx context.Context, accounts []string) {
	if len(accounts) == 0 {
		co.mu.Lock()
		co.session.Account = ""
		co.session.IsRegistered = false
		co.mu.Unlock()
		co.log.Info("wallet disconnected")
		return
	}
	co.adoptAccount(ctx, accounts[0])
}

// adoptAccount makes the address the active account and re-derives its
// registration status. Account and IsRegistered are written together so the
// session never shows a registration without an account.
func (co *Coordinator) adoptAccount(ctx context.Context, address string) {
	registered := co.contract.UserExists(ctx, address)

	co.mu.Lock()
	co.session.Account = address
	co.session.IsRegistered = registered
	co.mu.Unlock()

	co.log.WithField("account", address).WithField("registered", registered).Info("account active")
}

// Snapshot returns a copy of the current session for consumers.
func (co *Coordinator) Snapshot() Session {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.session
}

func (co *Coordinator) ClearLastError() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.session.LastError = ""
}

// Connect prompts the wallet for accounts and adopts the first one granted.
func (co *Coordinator) Connect(ctx context.Context) error {
	if !co.wallet.Available() {
		co.setError(msgWalletUnavailable)
		return wallet.ErrWalletUnavailable
	}

	accounts, err := co.wallet.RequestAccounts(ctx)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrUserRejected):
			co.setError(msgUserRejected)
		case errors.Is(err, wallet.ErrWalletUnavailable):
			co.setError(msgWalletUnavailable)
		default:
			co.setError(msgConnectFailed)
		}
		co.log.WithError(err).Warn("connect failed")
		return err
	}
	if len(accounts) == 0 {
		co.setError(msgConnectFailed)
		return ErrNotConnected
	}

	co.adoptAccount(ctx, accounts[0])
	return nil
}

// RestoreSession mirrors Connect with already-authorized accounts and no
// prompting. Run once at startup; a no-op when nothing is authorized.
func (co *Coordinator) RestoreSession(ctx context.Context) {
	if !co.wallet.Available() {
		return
	}
	accounts := co.wallet.ConnectedAccounts()
	if len(accounts) == 0 {
		return
	}
	co.adoptAccount(ctx, accounts[0])
}

// Register submits createUser for the connected account. Only valid while
// connected and unregistered; reports success to the caller.
func (co *Coordinator) Register(ctx context.Context) bool {
	co.mu.Lock()
	if co.session.Account == "" || co.session.IsRegistered {
		co.mu.Unlock()
		return false
	}
	co.session.IsLoading = true
	co.mu.Unlock()
	defer co.setLoading(false)

	receipt, err := co.contract.CreateUser(ctx)
	if err != nil {
		if errors.Is(err, contract.ErrInsufficientBalance) {
			co.setError(msgInsufficientBalance)
		} else {
			co.setError(msgRegistrationFailed)
		}
		co.log.WithError(err).Warn("registration failed")
		return false
	}

	co.mu.Lock()
	// The account may have switched away while the transaction confirmed;
	// never mark a disconnected session registered.
	if co.session.Account != "" {
		co.session.IsRegistered = true
	}
	co.session.LastError = ""
	account := co.session.Account
	co.mu.Unlock()

	co.journalReceipt(ctx, "register", "", account, receipt)
	return true
}

// Stake joins a goal with the given major-unit amount. Registration is not
// required here, and unlike Register and Claim this workflow never touches
// IsLoading. Consumers observe both quirks; keep them.
func (co *Coordinator) Stake(ctx context.Context, goalID, amount string) error {
	co.mu.Lock()
	account := co.session.Account
	co.mu.Unlock()
	if account == "" {
		return ErrNotConnected
	}

	receipt, err := co.contract.JoinGoal(ctx, goalID, amount)
	if err != nil {
		co.log.WithError(err).WithField("goal", goalID).Warn("stake failed")
		return err
	}

	co.journalReceipt(ctx, "stake", goalID, account, receipt)
	return nil
}

// Claim collects rewards from a goal. Failures leave the session untouched
// apart from the loading flag, so the user can simply retry.
func (co *Coordinator) Claim(ctx context.Context, goalID string) error {
	co.mu.Lock()
	account := co.session.Account
	co.session.IsLoading = true
	co.mu.Unlock()
	defer co.setLoading(false)

	receipt, err := co.contract.ClaimRewards(ctx, goalID)
	if err != nil {
		co.log.WithError(err).WithField("goal", goalID).Warn("claim failed")
		return err
	}

	co.journalReceipt(ctx, "claim", goalID, account, receipt)
	return nil
}

// RequestVerificationData exchanges the connected address for an access
// token and hands the resulting record to the data sink. A fresh token is
// fetched on every call.
func (co *Coordinator) RequestVerificationData(ctx context.Context, activityType, goalID string) (*DataRequest, error) {
	co.mu.Lock()
	account := co.session.Account
	co.mu.Unlock()
	if account == "" {
		return nil, ErrNotConnected
	}

	token, err := co.tokens.Exchange(ctx, account)
	if err != nil {
		co.log.WithError(err).Warn("token exchange failed")
		return nil, err
	}

	req := &DataRequest{
		ActivityType: activityType,
		GoalID:       goalID,
		AccessToken:  token,
		Account:      account,
	}
	if co.sink != nil {
		if err := co.sink.Submit(ctx, *req); err != nil {
			return nil, fmt.Errorf("submit data request: %w", err)
		}
	}
	return req, nil
}

func (co *Coordinator) setError(msg string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.session.LastError = msg
}

func (co *Coordinator) setLoading(v bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.session.IsLoading = v
}

// journalReceipt records a confirmed write for local audit. Journal trouble
// is logged and never fails the workflow.
func (co *Coordinator) journalReceipt(ctx context.Context, workflow, goalID, account string, receipt *contract.Receipt) {
	co.log.WithField("workflow", workflow).WithField("tx", receipt.TxHash).Info("workflow completed")
	if co.journal == nil {
		return
	}
	rec := receipts.Record{
		Workflow:  workflow,
		GoalID:    goalID,
		Account:   account,
		TxHash:    receipt.TxHash,
		Status:    receipt.Status,
		CreatedAt: time.Now(),
	}
	if err := co.journal.Append(ctx, rec); err != nil {
		co.log.WithError(err).Warn("receipt journal append failed")
	}
}
