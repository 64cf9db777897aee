package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileConfig models the subset of values we read from goalpool.json.
type FileConfig struct {
	Chain struct {
		ChainID       int64  `json:"chainId"`
		RPCURL        string `json:"rpcUrl"`
		ReceiptPollMs int    `json:"receiptPollMs"`
		RPCTimeoutMs  int    `json:"rpcTimeoutMs"`
	} `json:"chain"`
	Contracts struct {
		GoalPool string `json:"goalPool"`
	} `json:"contracts"`
	Backend struct {
		BaseURL          string `json:"baseUrl"`
		RequestTimeoutMs int    `json:"requestTimeoutMs"`
	} `json:"backend"`
	Wallet struct {
		KeystoreDir string `json:"keystoreDir"`
	} `json:"wallet"`
}

// AppConfig ties together file values, environment overrides and derived values.
type AppConfig struct {
	Chain    ChainConfig
	Contract ContractConfig
	Backend  BackendConfig
	Wallet   WalletConfig
	Service  ServiceConfig
}

type ChainConfig struct {
	RPCURL              string
	ChainID             int64
	RPCTimeout          time.Duration
	ReceiptPollInterval time.Duration
}

type ContractConfig struct {
	GoalPoolAddress string
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type WalletConfig struct {
	KeystoreDir string
	Passphrase  string
}

type ServiceConfig struct {
	HTTPPort         int
	ReceiptStorePath string
	PostgresDSN      string
}

const defaultConfigPath = "goalpool.json"

// Load aggregates configuration from disk and environment. A missing config
// file at the default path is fine; everything can come from the environment.
func Load() (*AppConfig, error) {
	path := envOr("GOALPOOL_CONFIG", defaultConfigPath)

	fileCfg, err := loadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || path != defaultConfigPath {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		fileCfg = &FileConfig{}
	}

	cfg := &AppConfig{
		Chain: ChainConfig{
			RPCURL:              envOr("CHAIN_RPC_URL", fileCfg.Chain.RPCURL),
			ChainID:             int64(envOrInt("CHAIN_ID", int(fileCfg.Chain.ChainID))),
			RPCTimeout:          msOrDefault(envOrInt("CHAIN_RPC_TIMEOUT_MS", fileCfg.Chain.RPCTimeoutMs), 15*time.Second),
			ReceiptPollInterval: msOrDefault(fileCfg.Chain.ReceiptPollMs, 2*time.Second),
		},
		Contract: ContractConfig{
			GoalPoolAddress: envOr("GOAL_POOL_ADDRESS", fileCfg.Contracts.GoalPool),
		},
		Backend: BackendConfig{
			BaseURL:        envOr("BACKEND_BASE_URL", fileCfg.Backend.BaseURL),
			RequestTimeout: msOrDefault(fileCfg.Backend.RequestTimeoutMs, 10*time.Second),
		},
		Wallet: WalletConfig{
			KeystoreDir: envOr("WALLET_KEYSTORE_DIR", fileCfg.Wallet.KeystoreDir),
			Passphrase:  envOr("WALLET_PASSPHRASE", ""),
		},
		Service: ServiceConfig{
			HTTPPort:         envOrInt("API_HTTP_PORT", 3000),
			ReceiptStorePath: envOr("RECEIPT_STORE_PATH", filepath.Join(os.TempDir(), "goalpool-receipts.json")),
			PostgresDSN:      envOr("RECEIPT_POSTGRES_DSN", ""),
		},
	}
	return cfg, nil
}

// ChainEnabled reports whether enough is configured to talk to a real chain.
// Without it the daemon runs against in-memory fakes.
func (c *AppConfig) ChainEnabled() bool {
	return c.Chain.RPCURL != "" && c.Contract.GoalPoolAddress != "" && c.Wallet.KeystoreDir != ""
}

func loadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
