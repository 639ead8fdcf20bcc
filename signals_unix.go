//go:build unix

package main

import (
	"os"
	"syscall"

	"github.com/newgrp/chronos/lifecycle"
)

var hostSignals = []os.Signal{syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGUSR1, syscall.SIGUSR2}

// Translates a host signal to a lifecycle transition.
func dispatchSignal(sig os.Signal, bus *lifecycle.Bus) {
	switch sig {
	case syscall.SIGTSTP:
		bus.SetPaused(true)
		// Catching SIGTSTP cancels the stop, so stop for real. SIGCONT resumes us.
		_ = syscall.Kill(os.Getpid(), syscall.SIGSTOP)
	case syscall.SIGCONT:
		bus.SetPaused(false)
	case syscall.SIGUSR1:
		bus.SetFocus(false)
	case syscall.SIGUSR2:
		bus.SetFocus(true)
	}
}
