package main

import (
	"os"

	"trustline/cmd/trustline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
