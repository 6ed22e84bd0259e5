// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/dashcrawl/cmd"
)

// main is the entry point for the dashcrawl CLI application.
func main() {
	// Cancel in-flight browser work on Ctrl-C so the browser is still torn down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
