// Package main provides onboardctl, a command line tool to validate graphs and manage workflow versions.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	err := newCommand(os.Stdout).Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
