package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	// An interrupted command has already said what it was doing.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "printlink: %v\n", err)
	}
	os.Exit(1)
}
