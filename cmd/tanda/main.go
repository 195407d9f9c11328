// Command tanda keeps a wallet's tandas reconciled with the ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tandasync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
