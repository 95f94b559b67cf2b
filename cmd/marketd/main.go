// Command marketd runs a marketplace ledger node and its maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	_ "github.com/tolelom/tolmart/vm/modules"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

const passwordEnv = "MARKET_PASSWORD"

func main() {
	app := cli.NewApp()
	app.Name = "marketd"
	app.Usage = "deterministic marketplace ledger node"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "config.json",
			Usage: " node configuration `FILE`",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "start the node: block production and JSON-RPC",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "key, k",
					Value: "validator.key",
					Usage: " validator keystore `FILE` (password from " + passwordEnv + ")",
				},
			},
			Action: runNode,
		},
		{
			Name:  "genkey",
			Usage: "generate a validator key and write it to an encrypted keystore",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Value: "validator.key",
					Usage: " keystore `FILE` to create",
				},
			},
			Action: runGenKey,
		},
		{
			Name:   "root",
			Usage:  "print the committed state root and chain height",
			Action: runRoot,
		},
		{
			Name:   "genesis-root",
			Usage:  "print the state root the configured genesis produces",
			Action: runGenesisRoot,
		},
		{
			Name:   "replay",
			Usage:  "re-execute the stored chain from genesis and verify every root",
			Action: runReplay,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}
