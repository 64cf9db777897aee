package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goalpool/internal/config"
	"goalpool/internal/contract"
	"goalpool/internal/coordinator"
	"goalpool/internal/receipts"
	"goalpool/internal/server"
	"goalpool/internal/tokenex"
	"goalpool/internal/wallet"

	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	var journal receipts.Store
	if cfg.Service.PostgresDSN != "" {
		pg, err := receipts.NewPostgresStore(context.Background(), cfg.Service.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("receipt store error")
		}
		defer pg.Close()
		journal = pg
	} else {
		fs, err := receipts.NewFileStore(cfg.Service.ReceiptStorePath)
		if err != nil {
			log.WithError(err).Fatal("receipt store error")
		}
		journal = fs
	}

	var (
		walletProvider wallet.Provider = wallet.NewFakeProvider()
		chainClient    contract.Client = contract.NewFakeClient()
	)
	if cfg.ChainEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
		defer cancel()

		ks, err := wallet.NewKeystoreProvider(ctx, wallet.KeystoreConfig{
			RPCURL:      cfg.Chain.RPCURL,
			ChainID:     cfg.Chain.ChainID,
			KeystoreDir: cfg.Wallet.KeystoreDir,
			Passphrase:  cfg.Wallet.Passphrase,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("wallet provider error")
		}
		walletProvider = ks

		eth, err := contract.NewEthClient(ctx, contract.EthClientConfig{
			RPCURL:              cfg.Chain.RPCURL,
			GoalPoolAddress:     cfg.Contract.GoalPoolAddress,
			ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
		}, ks, log)
		if err != nil {
			log.WithError(err).Fatal("contract client error")
		}
		chainClient = eth
	} else {
		log.Warn("no chain configured, running against in-memory fakes")
	}

	tokens := tokenex.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)

	coord := coordinator.New(walletProvider, chainClient, tokens, coordinator.LogSink{Log: log}, journal, log)
	coord.Start()
	defer coord.Close()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
	coord.RestoreSession(restoreCtx)
	cancelRestore()

	apiServer := server.NewServer(server.Config{HTTPPort: cfg.Service.HTTPPort}, coord, journal, chainClient, log)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Info("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
}
