package main

import (
	"os"

	"github.com/damianfilipek81/whisper/cmd/whisper-ctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
