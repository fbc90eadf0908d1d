package progress

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"example.com/progress/internal/observability"
	"example.com/progress/internal/store"
)

// persister writes blobs in the background. Only the latest value per key is
// kept while a write is in flight, so a slow store never delays the tracker
// and never replays stale state. A failed write stays pending until it
// succeeds or a newer value for the same key replaces it.
type persister struct {
	store   store.Store
	logger  *log.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string][]byte

	wake  chan struct{}
	syncs chan chan error
	stop  chan struct{}
	done  chan struct{}
}

func newPersister(s store.Store, logger *log.Logger, timeout time.Duration) *persister {
	return &persister{
		store:   s,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		syncs:   make(chan chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case reply := <-p.syncs:
			reply <- p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

// submit replaces any pending value for key.
func (p *persister) submit(key string, value []byte) {
	p.mu.Lock()
	p.pending[key] = value
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// sync returns once every value submitted before the call has been written,
// including a write already in flight. It reports writes that failed.
func (p *persister) sync(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.syncs <- reply:
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close writes whatever is pending and waits for the worker, up to ctx.
func (p *persister) close(ctx context.Context) {
	close(p.stop)
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Printf("persister shutdown interrupted: %v", ctx.Err())
	}
}

func (p *persister) flush() error {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string][]byte)
	p.mu.Unlock()

	keys := make([]string, 0, len(batch))
	for key := range batch {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.store.Set(ctx, key, batch[key])
		cancel()
		if err != nil {
			recordPersistError(key)
			p.logger.Printf("save %s failed: %v", key, err)
			p.retry(key, batch[key])
			errs = append(errs, fmt.Errorf("save %s: %w", key, err))
			continue
		}
		observability.RecordStatePersisted(key, time.Now())
	}
	return errors.Join(errs...)
}

// retry puts value back unless a newer one was submitted meanwhile. It does
// not wake the worker; the next submit or sync writes it.
func (p *persister) retry(key string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, newer := p.pending[key]; !newer {
		p.pending[key] = value
	}
}
