//go:build !windows

package cmd

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResize delivers SIGWINCH on ch so the attach loop can forward
// terminal size changes.
func notifyResize(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGWINCH)
}
