package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const statusUnlocked = "Unlocked"

// KeystoreProvider backs the wallet boundary with a local go-ethereum
// keystore plus an RPC client for balance queries. Unlocking an account is
// the local analog of the user approving a connection prompt.
type KeystoreProvider struct {
	ks         *keystore.KeyStore
	client     *ethclient.Client
	chainID    *big.Int
	passphrase string
	log        *logrus.Entry
}

type KeystoreConfig struct {
	RPCURL      string
	ChainID     int64
	KeystoreDir string
	Passphrase  string
}

func NewKeystoreProvider(ctx context.Context, cfg KeystoreConfig, log *logrus.Entry) (*KeystoreProvider, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.KeystoreDir == "" {
		return nil, fmt.Errorf("keystore dir is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = cli.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
	}

	ks := keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)

	return &KeystoreProvider{
		ks:         ks,
		client:     cli,
		chainID:    chainID,
		passphrase: cfg.Passphrase,
		log:        log,
	}, nil
}

func (p *KeystoreProvider) Available() bool {
	return p.ks != nil && p.client != nil
}

func (p *KeystoreProvider) ConnectedAccounts() []string {
	if p.ks == nil {
		return nil
	}
	var addrs []string
	for _, w := range p.ks.Wallets() {
		status, err := w.Status()
		if err != nil || status != statusUnlocked {
			continue
		}
		for _, acct := range w.Accounts() {
			addrs = append(addrs, acct.Address.Hex())
		}
	}
	return addrs
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if !p.Available() {
		return nil, ErrWalletUnavailable
	}
	all := p.ks.Accounts()
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: keystore holds no accounts", ErrWalletUnavailable)
	}

	var addrs []string
	for _, acct := range all {
		if err := p.ks.Unlock(acct, p.passphrase); err != nil {
			if errors.Is(err, keystore.ErrDecrypt) {
				return nil, fmt.Errorf("%w: %s", ErrUserRejected, acct.Address.Hex())
			}
			return nil, fmt.Errorf("unlock %s: %w", acct.Address.Hex(), err)
		}
		addrs = append(addrs, acct.Address.Hex())
	}
	return addrs, nil
}

func (p *KeystoreProvider) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	if !p.Available() {
		return nil, ErrWalletUnavailable
	}
	addrs := p.ConnectedAccounts()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no unlocked account", ErrWalletUnavailable)
	}

	acct := accounts.Account{Address: common.HexToAddress(addrs[0])}
	opts, err := bind.NewKeyStoreTransactorWithChainID(p.ks, acct, p.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = 0 // let node estimate
	return opts, nil
}

func (p *KeystoreProvider) Balance(ctx context.Context, address string) (*big.Int, error) {
	if p.client == nil {
		return nil, ErrWalletUnavailable
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	return p.client.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// SubscribeAccountsChanged forwards keystore wallet events as full account
// lists. The keystore watches its directory, so key arrival and departure
// both surface here.
func (p *KeystoreProvider) SubscribeAccountsChanged(sink chan<- []string) Subscription {
	events := make(chan accounts.WalletEvent, 16)
	sub := p.ks.Subscribe(events)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case err := <-sub.Err():
				if err != nil {
					p.log.WithError(err).Warn("wallet event subscription closed")
				}
				return
			case <-events:
				addrs := p.ConnectedAccounts()
				select {
				case sink <- addrs:
				case <-done:
					return
				}
			}
		}
	}()

	return &keystoreSubscription{sub: sub, done: done}
}

func (p *KeystoreProvider) Ping(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := p.client.BlockNumber(ctx)
	return err
}

type keystoreSubscription struct {
	sub  interface{ Unsubscribe() }
	done chan struct{}
	once sync.Once
}

func (s *keystoreSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		close(s.done)
	})
}
