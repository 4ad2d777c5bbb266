package main

import (
	"os"

	"github.com/ACodePorter/marketreplay/cmd/replay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
