//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals relays the signals that stop a running batch.
// On Windows only os.Interrupt (Ctrl+C) exists.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
