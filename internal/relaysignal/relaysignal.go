// Package relaysignal adapts the teacher's inline listener setup
// (cmd/operetta/main.go just calls srv.Serve(ln) and blocks forever) into a
// SIGINT/SIGTERM-triggered graceful shutdown signal, since spec.md §5
// permits an immediate exit but doesn't forbid draining connections when
// it's cheap to do so.
package relaysignal

import (
	"os"
	"os/signal"
	"syscall"
)

// Notify returns a channel that receives once SIGINT or SIGTERM arrives.
func Notify() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
