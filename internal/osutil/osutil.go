package osutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"zhihu-archive/internal/errs"
)

// Returns a context that will live until Ctrl+C is pressed, a second Ctrl+C
// exits immediately.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Warn("interrupted, finishing in-flight work (press Ctrl+C again to force)")
		cancel()
		<-sigs
		os.Exit(130)
	}()

	return ctx
}

func Fatal(message string, err error) {
	attrs := []any{"err", err.Error()}
	if hint := errs.Hint(err); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	slog.Error(message, attrs...)
	os.Exit(1)
}
