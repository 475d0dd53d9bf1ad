package logging

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover must be deferred directly. It stops a panic in a pipeline
// goroutine from taking the process down and logs it with the stack.
// onPanic, when non-nil, receives the recovered value.
func Recover(logger *slog.Logger, component string, onPanic func(any)) {
	r := recover()
	if r == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("recovered panic",
		"component", component,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
	if onPanic != nil {
		onPanic(r)
	}
}
