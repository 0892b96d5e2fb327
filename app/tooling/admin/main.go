// This program performs administrative tasks against a running node through
// its private API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/cashbond/blockchain/app/tooling/admin/commands"
	"github.com/cashbond/blockchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	cfg := struct {
		conf.Version
		Args conf.Args
		URL  string `conf:"default:http://localhost:9080"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	return processCommands(cfg.Args, cfg.URL)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args conf.Args, url string) error {
	switch args.Num(0) {
	case "status":
		if err := commands.Status(url); err != nil {
			return fmt.Errorf("getting node status: %w", err)
		}
	case "fees":
		if err := commands.Fees(url); err != nil {
			return fmt.Errorf("getting fee information: %w", err)
		}
	case "blocks":
		if err := commands.Blocks(args, url); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}
	case "revert":
		if err := commands.Revert(url); err != nil {
			return fmt.Errorf("reverting latest block: %w", err)
		}
	case "prioritise":
		if err := commands.Prioritise(args, url); err != nil {
			return fmt.Errorf("prioritising transaction: %w", err)
		}
	case "check":
		if err := commands.CheckPool(url); err != nil {
			return fmt.Errorf("checking transaction pool: %w", err)
		}
	default:
		printUsage()
	}

	return nil
}

func printUsage() {
	fmt.Println("admin <command>")
	fmt.Println("  status                    show chain tip, supply and pool summary")
	fmt.Println("  fees                      show pool fee information")
	fmt.Println("  blocks [from] [to]        list blocks in wire form, defaults to the latest")
	fmt.Println("  revert                    revert the latest block back into the pool")
	fmt.Println("  prioritise <txid> <delta> adjust a pooled transaction's fee for sorting")
	fmt.Println("  check                     run the pool consistency check")
}
