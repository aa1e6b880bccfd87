package main

import (
	"fmt"
	"os"

	"github.com/themeforge/migrator/cmd"
)

var Version = "dev"

func main() {
	if err := cmd.RunApp(Version, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
