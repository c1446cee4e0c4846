package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

var restartDelay = time.Second

// loopSafely runs f until ctx is done. f is restarted when it panics or
// returns early.
func loopSafely(ctx context.Context, name string, f func(ctx context.Context) error) error {
	for ctx.Err() == nil {
		err := runSafely(ctx, f)
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Errorf("%v stopped, restarting", name)

		select {
		case <-ctx.Done():
		case <-time.After(restartDelay):
		}
	}
	return nil
}

func runSafely(ctx context.Context, f func(ctx context.Context) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	return f(ctx)
}
