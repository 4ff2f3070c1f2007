package blockpoller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const defaultInterval = 10 * time.Second

type Option func(*poller)

func WithInterval(interval time.Duration) Option {
	return func(p *poller) {
		p.interval = interval
	}
}

// poller fetches new blocks from the rollup provider on a fixed schedule.
type poller struct {
	rollup   ports.RollupProvider
	interval time.Duration

	lock      *sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	next      uint32
}

func NewBlockSource(rollup ports.RollupProvider, opts ...Option) (ports.BlockSource, error) {
	if rollup == nil {
		return nil, fmt.Errorf("missing rollup provider")
	}
	p := &poller{
		rollup:   rollup,
		interval: defaultInterval,
		lock:     &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %s", p.interval)
	}
	return p, nil
}

func (p *poller) Start(from uint32, handler func(blocks []domain.Block)) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.scheduler != nil {
		return fmt.Errorf("block source already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := gocron.NewScheduler(time.UTC)
	p.next = from

	if _, err := scheduler.Every(p.interval).SingletonMode().Do(func() {
		p.poll(ctx, handler)
	}); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule block polling: %w", err)
	}
	scheduler.StartAsync()

	p.scheduler = scheduler
	p.cancel = cancel
	log.Debugf("polling blocks every %s from rollup %d", p.interval, from)
	return nil
}

func (p *poller) Stop() {
	p.lock.Lock()
	scheduler, cancel := p.scheduler, p.cancel
	p.scheduler, p.cancel = nil, nil
	p.lock.Unlock()

	if scheduler == nil {
		return
	}
	cancel()
	scheduler.Stop()
}

func (p *poller) poll(ctx context.Context, handler func(blocks []domain.Block)) {
	p.lock.Lock()
	from := p.next
	p.lock.Unlock()

	blocks, err := p.rollup.GetBlocks(ctx, from)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warnf("failed to get blocks from rollup %d", from)
		}
		return
	}
	if len(blocks) == 0 || ctx.Err() != nil {
		return
	}

	handler(blocks)

	p.lock.Lock()
	p.next = blocks[len(blocks)-1].RollupId + 1
	p.lock.Unlock()
	log.Debugf("received %d blocks, next rollup %d", len(blocks), blocks[len(blocks)-1].RollupId+1)
}
