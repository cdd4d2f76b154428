package main

import (
	"os"

	"mensageria_assinada/cmd/sigchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
