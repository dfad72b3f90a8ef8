package events

import (
	"context"
	"sync"
	"time"

	"github.com/lgtm-migrator/web3-events/core/logger"
	"github.com/lgtm-migrator/web3-events/core/utils"
	"github.com/tevino/abool"
)

// HeadSource is the minimal chain call a NewBlockProducer needs in
// polling mode: the current head. *ethclient.Client (via
// EthLogSource.GetBlock(ctx, nil)) or any LogSource satisfies this.
type HeadSource interface {
	GetBlock(ctx context.Context, number *uint64) (BlockHeader, error)
}

// NewBlockProducer emits a deduplicated stream of new block headers,
// either by polling at an interval or by accepting externally pushed
// headers (spec component C2, §4.2). It is shared across emitters:
// each one subscribes independently and must unsubscribe on stop.
type NewBlockProducer struct {
	dispatcher *Dispatcher
	running    *abool.AtomicBool
	log        logger.Logger

	// Polling mode fields; nil when the producer is push-only.
	source          HeadSource
	pollingInterval time.Duration
	backoffMin      time.Duration
	backoffMax      time.Duration

	mu           sync.Mutex
	lastEmitted  *uint64
	stop         chan struct{}
	wg           sync.WaitGroup
}

const (
	newBlockChannel Channel = "__producer_newBlock"
	producerErrChan Channel = "__producer_error"
)

// NewPollingBlockProducer builds a producer that calls
// source.GetBlock(ctx, nil) ("latest") every pollingInterval and emits
// whenever the block number changes (spec §4.2).
func NewPollingBlockProducer(source HeadSource, pollingInterval time.Duration, log logger.Logger) *NewBlockProducer {
	if log == nil {
		log = logger.NewNop()
	}
	return &NewBlockProducer{
		dispatcher:      NewDispatcher(false, log),
		running:         abool.New(),
		log:             log.Named("new_block_producer"),
		source:          source,
		pollingInterval: pollingInterval,
		backoffMin:      pollingInterval,
		backoffMax:      30 * time.Second,
	}
}

// NewListeningBlockProducer builds a push-only producer: callers
// deliver headers via Push and it still deduplicates by block number.
// Satisfies the "equivalent interface" requirement of spec §4.2 for an
// external (e.g. websocket) push transport.
func NewListeningBlockProducer(log logger.Logger) *NewBlockProducer {
	if log == nil {
		log = logger.NewNop()
	}
	return &NewBlockProducer{
		dispatcher: NewDispatcher(false, log),
		running:    abool.New(),
		log:        log.Named("new_block_producer"),
	}
}

// Subscribe registers h to receive every deduplicated BlockHeader.
func (p *NewBlockProducer) Subscribe(h func(BlockHeader)) *Subscription {
	return p.dispatcher.Subscribe(newBlockChannel, func(payload interface{}) error {
		h(payload.(BlockHeader))
		return nil
	})
}

// SubscribeErrors registers h to receive polling errors. Errors never
// stop the producer (spec §4.2).
func (p *NewBlockProducer) SubscribeErrors(h func(error)) *Subscription {
	return p.dispatcher.Subscribe(producerErrChan, func(payload interface{}) error {
		h(payload.(error))
		return nil
	})
}

// Push delivers an externally observed header (listening mode).
// Deduplicates by block number exactly like polling mode.
func (p *NewBlockProducer) Push(header BlockHeader) {
	p.maybeEmit(header)
}

// Start begins polling. A no-op for a listening-mode producer (there
// is nothing to poll).
func (p *NewBlockProducer) Start(ctx context.Context) {
	if p.source == nil {
		return
	}
	if !p.running.SetToIf(false, true) {
		return
	}
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop ends the polling loop. Safe to call on a listening-mode
// producer (no-op).
func (p *NewBlockProducer) Stop() {
	if p.source == nil {
		return
	}
	if !p.running.SetToIf(true, false) {
		return
	}
	close(p.stop)
	p.wg.Wait()
}

func (p *NewBlockProducer) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	b := utils.NewBackoff(p.backoffMin, p.backoffMax)
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			header, err := p.source.GetBlock(ctx, nil)
			if err != nil {
				p.log.Warnw("failed to poll latest block", "err", err)
				p.dispatcher.Dispatch(producerErrChan, err)
				d := b.Duration()
				ticker.Reset(d)
				continue
			}
			b.Reset()
			ticker.Reset(p.pollingInterval)
			p.maybeEmit(header)
		}
	}
}

func (p *NewBlockProducer) maybeEmit(header BlockHeader) {
	p.mu.Lock()
	if p.lastEmitted != nil && *p.lastEmitted == header.Number {
		p.mu.Unlock()
		return
	}
	num := header.Number
	p.lastEmitted = &num
	p.mu.Unlock()

	p.dispatcher.Dispatch(newBlockChannel, header)
}
