package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalContext returns a context cancelled on SIGINT/SIGTERM, mirroring
// the teacher's SetupSignalHandler: the first signal requests a graceful
// pause (the run engine checkpoints after its current batch), a second
// forces an immediate exit.
func setupSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s, pausing after the current batch...\n", sig)
		cancel()

		sig = <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s again, forcing exit\n", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
