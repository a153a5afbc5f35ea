package main

import (
	"fmt"
	"os"

	"github.com/containerkit/netcore/cmd"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == cmd.ReexecMarker {
		cmd.RunReexec()
		return
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
