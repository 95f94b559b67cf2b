package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/urfave/cli"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/consensus"
	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/events"
	"github.com/tolelom/tolmart/internal/logging"
	"github.com/tolelom/tolmart/journal"
	"github.com/tolelom/tolmart/rpc"
	"github.com/tolelom/tolmart/storage"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/wallet"
)

// ledger is the persistent part of a node: one LevelDB holding blocks,
// state and the journal under disjoint prefixes.
type ledger struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *storage.LevelDB
	bc     *core.Blockchain
	state  *storage.StateDB
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

func openLedger(c *cli.Context) (*ledger, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return nil, err
	}
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("blockchain init: %w", err)
	}
	return &ledger{cfg: cfg, logger: logger, db: db, bc: bc, state: storage.NewStateDB(db)}, nil
}

func runNode(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.db.Close()
	cfg, logger := l.cfg, l.logger

	interval, err := cfg.Interval()
	if err != nil {
		return err
	}
	priv, err := wallet.LoadKey(c.String("key"), os.Getenv(passwordEnv))
	if err != nil {
		return fmt.Errorf("load validator key: %w", err)
	}

	if l.bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, l.state, priv)
		if err != nil {
			return fmt.Errorf("create genesis: %w", err)
		}
		if err := l.bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis created", "hash", genesis.Hash, "state_root", genesis.Header.StateRoot)
	}

	emitter := events.NewEmitter(logger)
	jrnl, err := journal.New(l.db, emitter, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	mempool.TrackIncluded(l.bc)
	exec := vm.NewExecutor(l.state, emitter, logger)
	poa := consensus.New(cfg, l.bc, l.state, mempool, exec, emitter, priv, logger)

	handler := rpc.NewHandler(poa, l.bc, mempool, jrnl, cfg.Genesis.ChainID, logger)
	server := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), handler, cfg.RPCAuthToken, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer server.Stop()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(interval, done)
	}()

	logger.Info("node started",
		"id", cfg.NodeID,
		"chain_id", cfg.Genesis.ChainID,
		"height", l.bc.Height(),
		"proposer", poa.IsProposer(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	close(done)
	wg.Wait()
	return nil
}
