package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

const shutdownTimeout = 10 * time.Second

// serveUntilDone runs listen until ctx is cancelled or listen fails. On
// either path it calls shutdown, cancels the background jobs and waits for
// them to return.
func serveUntilDone(ctx context.Context, listen func() error, shutdown func(context.Context) error, background ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, job := range background {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		err := listen()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	shutdownErr := shutdown(shutdownCtx)

	wg.Wait()
	return errors.Join(serveErr, shutdownErr)
}
