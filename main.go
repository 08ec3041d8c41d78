package main

import (
	"fmt"
	"os"

	"stopshop/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stopshop:", err)
		os.Exit(1)
	}
}
