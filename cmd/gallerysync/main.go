package main

import (
	"os"

	"gallerysync/cmd/gallerysync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
