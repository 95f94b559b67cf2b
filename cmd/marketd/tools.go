package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/tolelom/tolmart/config"
	"github.com/tolelom/tolmart/consensus"
	"github.com/tolelom/tolmart/crypto"
	"github.com/tolelom/tolmart/storage"
	"github.com/tolelom/tolmart/vm"
	"github.com/tolelom/tolmart/wallet"
)

func runGenKey(c *cli.Context) error {
	out := c.String("out")
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists", out)
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return fmt.Errorf("%s must be set", passwordEnv)
	}
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := wallet.SaveKey(out, password, priv); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, pub.Hex())
	return nil
}

func runRoot(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.db.Close()
	fmt.Fprintf(c.App.Writer, "height: %d\nroot:   %s\n", l.bc.Height(), l.state.ComputeRoot())
	return nil
}

// scratchState returns a fresh in-memory state seeded with the configured
// genesis.
func scratchState(cfg *config.Config) (*storage.LevelDB, *storage.StateDB, error) {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		return nil, nil, err
	}
	st := storage.NewStateDB(db)
	if err := config.ApplyGenesis(&cfg.Genesis, st); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := st.Commit(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, st, nil
}

func runGenesisRoot(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, st, err := scratchState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Fprintln(c.App.Writer, st.ComputeRoot())
	return nil
}

func runReplay(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.db.Close()
	if l.bc.Tip() == nil {
		return fmt.Errorf("no chain in %s", l.cfg.DataDir)
	}

	db, st, err := scratchState(l.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	genesis, err := l.bc.GetBlockByHeight(0)
	if err != nil {
		return err
	}
	if root := st.ComputeRoot(); root != genesis.Header.StateRoot {
		return fmt.Errorf("genesis state root mismatch: config gives %s, chain has %s", root, genesis.Header.StateRoot)
	}

	root, err := consensus.Replay(l.bc, st, vm.NewExecutor(st, nil, l.logger), l.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "replayed %d blocks\nroot: %s\n", l.bc.Height(), root)
	return nil
}
