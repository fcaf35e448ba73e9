package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"quant-telegram/internal/throttle"
	"quant-telegram/internal/types"
)

// Start runs the flush loop until ctx is done or Stop is called. Calling it
// twice has no effect.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.stopped || n.loopDone != nil {
		n.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	n.cancelLoop = cancel
	n.loopDone = make(chan struct{})
	done := n.loopDone
	n.mu.Unlock()

	n.log.Debugf("flush loop started, interval %s", n.cfg.FlushInterval)
	go n.loop(loopCtx, done)
}

func (n *Notifier) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(n.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Flush(ctx); err != nil {
				n.log.Debugf("flush: %v", err)
			}
		}
	}
}

// Flush sends every batch whose cooldown has elapsed and waits for the
// sends to finish. Failed batches stay queued for the next flush until
// they run out of retries. The error reports the last failed batch.
func (n *Notifier) Flush(ctx context.Context) error {
	return n.flush(ctx, false)
}

func (n *Notifier) flush(ctx context.Context, force bool) error {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()

	batches := n.policy.Due(n.now(), force)

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		lastErr error
	)
	for _, b := range batches {
		wg.Add(1)
		go func(b throttle.Batch) {
			defer wg.Done()

			err := n.send(ctx, n.renderBatch(b))
			n.metrics.ObserveSend(string(b.Key.Category), err)

			dropped := n.policy.Complete(b, err, n.now())
			if err == nil {
				n.metrics.ObserveBatch(false)
				n.log.Debugf("flushed %d notifications for %s", len(b.Entries), b.Key)
				return
			}

			if dropped {
				n.metrics.ObserveBatch(true)
				n.log.WithField("key", b.Key.String()).Errorf("dropped batch of %d notifications after %d attempts: %v", len(b.Entries), b.Attempt, err)
			} else {
				n.log.WithField("key", b.Key.String()).Errorf("failed to flush batch (attempt %d): %v", b.Attempt, err)
			}

			errMu.Lock()
			lastErr = errors.Wrapf(err, "flush %s", b.Key)
			errMu.Unlock()
		}(b)
	}
	wg.Wait()

	if evicted := n.policy.Evict(n.now()); evicted > 0 {
		n.log.Debugf("evicted %d idle throttle keys", evicted)
	}
	n.updateGauges()

	return lastErr
}

// renderBatch merges a batch into one message. A lone entry with nothing
// suppressed goes out as rendered.
func (n *Notifier) renderBatch(b throttle.Batch) string {
	if len(b.Entries) == 1 && b.Suppressed == 0 {
		return b.Entries[0].Text
	}

	notifications := make([]types.Notification, len(b.Entries))
	for i, e := range b.Entries {
		notifications[i] = e.Notification
	}
	return n.formatter.RenderBatch(b.Key.Category, b.Key.Discriminator, notifications, b.Suppressed, b.Window)
}

// Stop refuses new notifications, stops the flush loop, waits for running
// sends and flushes whatever is still buffered. It gives up when ctx is
// done; undelivered notifications are then lost.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	cancelLoop, loopDone := n.cancelLoop, n.loopDone
	n.mu.Unlock()
	defer n.cancel()

	if cancelLoop != nil {
		cancelLoop()
		<-loopDone
	}

	sends := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(sends)
	}()

	select {
	case <-sends:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for pending sends")
	}

	if err := n.flush(ctx, true); err != nil {
		return errors.Wrap(err, "final flush")
	}

	n.log.Debug("notifier stopped")
	return nil
}
