//go:build windows

package cmd

import "os"

// notifyResize is a no-op on Windows: there is no SIGWINCH equivalent, so
// the session keeps its creation-time geometry until the user resizes
// explicitly.
func notifyResize(ch chan<- os.Signal) {}
