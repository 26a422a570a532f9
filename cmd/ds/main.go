package main

import (
	"fmt"
	"os"

	"datasafe/cmd/ds/commands"
	"datasafe/pkg/client"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", client.Kind(err), err)
		os.Exit(1)
	}
}
