// This program provides a command line wallet against a running node.
package main

import "github.com/cashbond/blockchain/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
