package main

import (
	"os"

	"github.com/go-pancakes/pancakes/cmd/pancakes/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
