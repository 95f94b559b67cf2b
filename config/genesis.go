package config

import (
	"sort"
	"strings"

	"github.com/tolelom/tolmart/core"
	"github.com/tolelom/tolmart/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ApplyGenesis writes the genesis allocation, admin state and ledger
// parameters into state without committing.
func ApplyGenesis(g *GenesisConfig, state core.State) error {
	addrs := make([]string, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		if err := state.SetAccount(&core.Account{Address: addr, Balance: g.Alloc[addr]}); err != nil {
			return err
		}
	}
	params := g.Params
	if err := state.SetParams(&params); err != nil {
		return err
	}
	return state.SetAdmin(&core.AdminState{
		Admins:       append([]string(nil), g.Admins...),
		FeeBips:      g.FeeBips,
		FeeRecipient: g.FeeRecipient,
	})
}

// CreateGenesisBlock applies the genesis section to state, commits it, and
// builds block #0 signed by the proposer. The header carries no wall-clock
// time so every replica derives the same genesis state root.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	if err := ApplyGenesis(&cfg.Genesis, state); err != nil {
		return nil, err
	}
	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(cfg.Genesis.ChainID, 0, GenesisHash, proposerPriv.Public().Hex(), nil)
	block.Header.Timestamp = 0
	block.Header.StateRoot = stateRoot
	block.Header.ReceiptRoot = core.ComputeReceiptRoot(nil)
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
