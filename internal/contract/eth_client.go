package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"goalpool/internal/wallet"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// goalPoolABI covers the four calls the client makes against the pool.
const goalPoolABI = `[
	{"type":"function","name":"userAddressUsed","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"createUser","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"joinGoal","stateMutability":"payable","inputs":[{"name":"goalId","type":"string"}],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[{"name":"goalId","type":"string"}],"outputs":[]}
]`

// The registration floor is 0.01 of the native currency. createUser is
// rejected below it before submission rather than burning gas on a doomed
// call.
var minRegisterBalance, _ = ParseUnits("0.01", nativeDecimals)

// MinRegisterBalanceWei returns the minimum signer balance createUser requires.
func MinRegisterBalanceWei() *big.Int {
	return new(big.Int).Set(minRegisterBalance)
}

// Backend is the slice of the RPC client the contract client needs.
// *ethclient.Client satisfies it; tests supply a stub.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthClient submits calls to one fixed goal pool contract. Signers come
// fresh from the wallet at every write so an account switch mid-workflow can
// never sign with a stale key.
type EthClient struct {
	backend      Backend
	contract     *bind.BoundContract
	address      common.Address
	wallet       wallet.Provider
	pollInterval time.Duration
	log          *logrus.Entry
}

type EthClientConfig struct {
	RPCURL              string
	GoalPoolAddress     string
	ReceiptPollInterval time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig, w wallet.Provider, log *logrus.Entry) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.GoalPoolAddress) {
		return nil, fmt.Errorf("goal pool address %q is not a hex address", cfg.GoalPoolAddress)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	return newEthClient(cli, cfg, w, log)
}

func newEthClient(backend Backend, cfg EthClientConfig, w wallet.Provider, log *logrus.Entry) (*EthClient, error) {
	parsedABI, err := abi.JSON(strings.NewReader(goalPoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	address := common.HexToAddress(cfg.GoalPoolAddress)
	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EthClient{
		backend:      backend,
		contract:     bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		address:      address,
		wallet:       w,
		pollInterval: poll,
		log:          log,
	}, nil
}

func (c *EthClient) UserExists(ctx context.Context, address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "userAddressUsed", common.HexToAddress(address))
	if err != nil {
		c.log.WithError(err).WithField("address", address).Debug("userAddressUsed query failed, treating as unregistered")
		return false
	}
	if len(out) == 0 {
		return false
	}
	used, ok := out[0].(bool)
	return ok && used
}

func (c *EthClient) CreateUser(ctx context.Context) (*Receipt, error) {
	opts, err := c.wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := c.wallet.Balance(ctx, opts.From.Hex())
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	if balance.Cmp(MinRegisterBalanceWei()) < 0 {
		return nil, fmt.Errorf("%w: have %s wei, need %s", ErrInsufficientBalance, balance, MinRegisterBalanceWei())
	}

	return c.transact(ctx, opts, "createUser")
}

func (c *EthClient) JoinGoal(ctx context.Context, goalID, amountMajor string) (*Receipt, error) {
	value, err := ParseUnits(amountMajor, nativeDecimals)
	if err != nil {
		return nil, err
	}

	opts, err := c.wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = value

	return c.transact(ctx, opts, "joinGoal", goalID)
}

func (c *EthClient) ClaimRewards(ctx context.Context, goalID string) (*Receipt, error) {
	opts, err := c.wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, opts, "claimRewards", goalID)
}

func (c *EthClient) transact(ctx context.Context, opts *bind.TransactOpts, method string, params ...interface{}) (*Receipt, error) {
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransactionReverted, method, err)
	}

	receipt, err := c.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %s confirmation: %v", ErrTransactionReverted, method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s tx %s", ErrTransactionReverted, method, tx.Hash().Hex())
	}

	c.log.WithField("method", method).WithField("tx", tx.Hash().Hex()).Info("transaction confirmed")
	return &Receipt{TxHash: tx.Hash().Hex(), Status: receipt.Status}, nil
}

// waitForReceipt polls until the transaction is mined or ctx is cancelled.
// Once submitted a transaction cannot be cancelled, only abandoned.
func (c *EthClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EthClient) Ping(ctx context.Context) error {
	if cli, ok := c.backend.(*ethclient.Client); ok {
		_, err := cli.BlockNumber(ctx)
		return err
	}
	_, err := c.backend.HeaderByNumber(ctx, nil)
	return err
}
