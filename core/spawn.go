package core

import (
	"runtime"

	"github.com/hupe1980/agenttrace/logging"
)

// Go runs fn on its own goroutine with panic recovery, logging any panic
// under the given label. It is the fire-and-forget scheduling primitive for
// work whose failure must never reach the caller (eval dispatch, subscriber
// fan-out). There is no cancellation: spawned work runs to completion.
func Go(logger logging.Logger, label string, fn func()) {
	go func() {
		defer Recover(logger, label)
		fn()
	}()
}

// Recover is the deferred half of Go, usable directly in goroutines the
// caller manages itself. A nil logger suppresses the log but still swallows
// the panic.
func Recover(logger logging.Logger, label string) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		return
	}
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	logger.Error("goroutine panic [%s]: %v\n%s", label, r, buf[:n])
}
