//go:build windows

package mcp

import (
	"os"
	"os/signal"
)

// notifySignals relays Ctrl+C so Run can close the store before exiting.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
