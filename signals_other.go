//go:build !unix

package main

import (
	"os"

	"github.com/newgrp/chronos/lifecycle"
)

// No host signals map to lifecycle transitions on this platform.
var hostSignals []os.Signal

func dispatchSignal(os.Signal, *lifecycle.Bus) {}
