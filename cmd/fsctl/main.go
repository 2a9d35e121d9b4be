package main

import (
	"os"

	"fieldsales-api/cmd/fsctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
