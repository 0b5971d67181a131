package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// An interrupted command already told the user; don't repeat it.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "curator: %v\n", err)
		}
		os.Exit(1)
	}
}
