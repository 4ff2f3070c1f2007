package application

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = 10 * time.Second

// pollUntil calls check every interval until it reports done. A processed
// block wakes the loop early. A zero timeout waits until ctx is done.
func pollUntil(
	ctx context.Context, bus ports.EventBus, interval, timeout time.Duration,
	id string, check func(ctx context.Context) (bool, error),
) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var wakeups <-chan domain.Event
	if bus != nil {
		subCtx, cancel := context.WithCancel(waitCtx)
		defer cancel()
		ch, err := bus.Subscribe(subCtx, domain.EventTypeBlockProcessed)
		if err != nil {
			log.WithError(err).Warn("failed to subscribe to processed blocks, polling only")
		} else {
			wakeups = ch
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(waitCtx)
		if err != nil {
			if waitCtx.Err() == nil {
				return err
			}
		} else if done {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() == nil && stderrors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return errors.TIMEOUT_ERROR.New(
					"timed out after %s waiting for %s", timeout, id,
				).WithMetadata(errors.TimeoutMetadata{TxId: id, Timeout: timeout.String()})
			}
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-wakeups:
			if !ok {
				wakeups = nil
			}
		}
	}
}
