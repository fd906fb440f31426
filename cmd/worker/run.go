package main

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runAll runs every loop until all of them return. The first failure
// cancels the others and is returned.
func runAll(ctx context.Context, loops ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error { return loop(ctx) })
	}
	return g.Wait()
}
