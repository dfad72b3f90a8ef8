package events

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/lgtm-migrator/web3-events/core/logger"
	"github.com/lgtm-migrator/web3-events/core/utils"
)

// EventsEmitter is the manual fetch pipeline (spec component C6,
// §4.4): batched catch-up, reorg detection + remediation, and
// confirmation-depth classification, guarded by a single-permit fetch
// gate so at most one fetch cycle runs at a time per emitter.
type EventsEmitter struct {
	contract     common.Address
	opts         Options
	source       LogSource
	decoder      LogDecoder
	blockTracker *BlockTracker
	buffer       *ConfirmationBuffer
	gate         *utils.FetchGate
	dispatcher   *Dispatcher
	log          logger.Logger
}

// NewEventsEmitter validates opts and wires an EventsEmitter. The
// returned error is a *ConfigurationError — the sole case where the
// core surfaces an error synchronously across its public boundary
// (spec §7).
func NewEventsEmitter(opts Options, source LogSource, decoder LogDecoder, blockTracker *BlockTracker, buffer *ConfirmationBuffer, log logger.Logger) (*EventsEmitter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &EventsEmitter{
		contract:     opts.Contract,
		opts:         opts,
		source:       source,
		decoder:      decoder,
		blockTracker: blockTracker,
		buffer:       buffer,
		gate:         utils.NewFetchGate(),
		dispatcher:   NewDispatcher(opts.SerialListeners, log),
		log:          log.Named("events_emitter"),
	}, nil
}

// Subscribe registers a handler on channel. The returned Subscription
// must be closed with Unsubscribe to stop receiving deliveries.
func (e *EventsEmitter) Subscribe(channel Channel, h Handler) *Subscription {
	return e.dispatcher.Subscribe(channel, h)
}

// Dispatcher exposes the emitter's pub/sub so a Confirmator can share
// it without EventsEmitter holding a reference back to the
// Confirmator (spec §9 DESIGN NOTES).
func (e *EventsEmitter) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Fetch runs one catch-up/forward-progress cycle against currentBlock
// (or the chain head, when nil), dispatching progress/newEvent/reorg
// events as it goes (spec §4.4 "Algorithm of one fetch cycle").
// Concurrent calls serialize on the fetch gate rather than failing.
func (e *EventsEmitter) Fetch(ctx context.Context, currentBlock *BlockHeader) error {
	if err := e.gate.Acquire(ctx); err != nil {
		return err
	}
	defer e.gate.Release()
	return e.fetchLocked(ctx, currentBlock, false)
}

// ForceFetch behaves like Fetch but, per spec §4.4 step 3, still
// yields a zero-batch progress update when the emitter is already
// caught up — used by callers that want an explicit heartbeat.
func (e *EventsEmitter) ForceFetch(ctx context.Context, currentBlock *BlockHeader) error {
	if err := e.gate.Acquire(ctx); err != nil {
		return err
	}
	defer e.gate.Release()
	return e.fetchLocked(ctx, currentBlock, true)
}

func (e *EventsEmitter) fetchLocked(ctx context.Context, currentBlock *BlockHeader, forced bool) error {
	if currentBlock == nil {
		head, err := e.source.GetBlock(ctx, nil)
		if err != nil {
			e.reportTransient(err)
			return nil
		}
		currentBlock = &head
	}

	if e.opts.Confirmations > 0 {
		reorg, err := e.isReorg(ctx)
		if err != nil {
			e.reportTransient(err)
			return nil
		}
		if reorg {
			if err := e.handleReorg(ctx, *currentBlock); err != nil {
				e.reportCycleFailure(err)
			}
			return nil
		}
	}

	lastFetched, err := e.blockTracker.GetLastFetched(ctx)
	if err != nil {
		e.reportTransient(err)
		return nil
	}

	var from uint64
	if lastFetched != nil {
		from = lastFetched.Number + 1
	} else {
		from = e.opts.StartingBlock.Resolve(currentBlock.Number)
	}
	to := currentBlock.Number

	if from > to {
		if forced {
			e.dispatcher.Dispatch(ChannelProgress, ProgressInfo{StepsComplete: 1, TotalSteps: 1, StepFromBlock: from, StepToBlock: to})
		}
		return nil
	}

	totalBlocks := to - from + 1
	totalSteps := int((totalBlocks + e.opts.BatchSize - 1) / e.opts.BatchSize)

	for i := 0; i < totalSteps; i++ {
		stepFrom := from + uint64(i)*e.opts.BatchSize
		stepTo := stepFrom + e.opts.BatchSize - 1
		if stepTo > to {
			stepTo = to
		}

		records, err := e.fetchRange(ctx, stepFrom, stepTo)
		if err != nil {
			e.reportTransient(err)
			return nil
		}

		confirmed, err := e.classifyAndPersist(ctx, *currentBlock, records)
		if err != nil {
			e.reportCycleFailure(err)
			return nil
		}

		stepHeader, err := e.source.GetBlock(ctx, &stepTo)
		if err != nil {
			e.reportTransient(err)
			return nil
		}
		if err := e.blockTracker.SetLastFetched(ctx, stepHeader.Ref()); err != nil {
			e.reportCycleFailure(wrapStorage(err))
			return nil
		}

		e.dispatcher.Dispatch(ChannelProgress, ProgressInfo{
			StepsComplete: i + 1,
			TotalSteps:    totalSteps,
			StepFromBlock: stepFrom,
			StepToBlock:   stepTo,
		})
		e.emitConfirmed(ctx, confirmed)
	}
	return nil
}

// fetchRange pulls raw logs over [from,to], decodes them, and applies
// the client-side event-name filter when Topics wasn't used as the
// server-side filter (spec §4.4 "Event-name filter").
func (e *EventsEmitter) fetchRange(ctx context.Context, from, to uint64) ([]LogRecord, error) {
	var topics [][]common.Hash
	if e.opts.usesServerSideFilter() {
		topics = e.opts.Topics
	}

	rawLogs, err := e.source.GetPastLogs(ctx, from, to, e.contract, topics)
	if err != nil {
		return nil, err
	}

	records := make([]LogRecord, 0, len(rawLogs))
	for _, raw := range rawLogs {
		eventName, payload, err := e.decoder.Decode(raw)
		if err != nil {
			e.log.Warnw("failed to decode log", "err", err, "txHash", raw.TxHash, "logIndex", raw.Index)
			continue
		}
		records = append(records, LogRecord{
			BlockNumber:     raw.BlockNumber,
			BlockHash:       raw.BlockHash,
			TransactionHash: raw.TxHash,
			LogIndex:        uint(raw.Index),
			EventName:       eventName,
			Topics:          raw.Topics,
			DecodedPayload:  payload,
		})
	}

	if !e.opts.usesServerSideFilter() && len(e.opts.Events) > 0 {
		wanted := make(map[string]struct{}, len(e.opts.Events))
		for _, name := range e.opts.Events {
			wanted[name] = struct{}{}
		}
		filtered := records[:0]
		for _, r := range records {
			if _, ok := wanted[r.EventName]; ok {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	return records, nil
}

// classifyAndPersist splits records by confirmation depth relative to
// currentBlock, durably buffers the not-yet-confirmed subset, and
// returns the already-confirmed subset to be emitted directly (spec
// §4.4 step 5). A unique-constraint violation on insert is fatal to
// the cycle (spec §7 DuplicateEvent).
func (e *EventsEmitter) classifyAndPersist(ctx context.Context, currentBlock BlockHeader, records []LogRecord) ([]LogRecord, error) {
	var confirmed, buffered []LogRecord
	for _, r := range records {
		if e.opts.Confirmations == 0 || currentBlock.Number-r.BlockNumber >= e.opts.Confirmations {
			confirmed = append(confirmed, r)
		} else {
			buffered = append(buffered, r)
		}
	}

	if len(buffered) > 0 {
		if err := e.buffer.Insert(ctx, e.contract, e.opts.Confirmations, buffered); err != nil {
			return nil, err
		}
	}
	return confirmed, nil
}

// emitConfirmed dispatches newEvent for each already-confirmed record
// in source order, advancing lastProcessed after each dispatch call
// returns or is scheduled — not after the listener finishes, unless
// SerialProcessing is set (spec §4.6, §9 Open Question 2).
func (e *EventsEmitter) emitConfirmed(ctx context.Context, records []LogRecord) {
	for _, r := range records {
		done := e.dispatcher.Dispatch(ChannelNewEvent, r)
		if e.opts.SerialProcessing {
			<-done
		}
		if err := e.blockTracker.SetLastProcessedIfHigher(ctx, BlockRef{Number: r.BlockNumber, Hash: r.BlockHash}); err != nil {
			e.log.Warnw("failed to advance lastProcessed", "err", err)
		}
	}
}

// isReorg implements spec §4.4's detection: absent lastFetched means
// no reorg is possible yet; otherwise the stored hash at that number
// must still match the chain's current hash there.
func (e *EventsEmitter) isReorg(ctx context.Context) (bool, error) {
	lastFetched, err := e.blockTracker.GetLastFetched(ctx)
	if err != nil {
		return false, err
	}
	if lastFetched == nil {
		return false, nil
	}

	header, err := e.source.GetBlock(ctx, &lastFetched.Number)
	if err != nil {
		return false, err
	}
	if header.Hash == lastFetched.Hash {
		return false, nil
	}

	lastProcessed, err := e.blockTracker.GetLastProcessed(ctx)
	if err != nil {
		return false, err
	}
	if lastProcessed != nil {
		processedHeader, err := e.source.GetBlock(ctx, &lastProcessed.Number)
		if err != nil {
			return false, err
		}
		if processedHeader.Hash != lastProcessed.Hash {
			e.dispatcher.Dispatch(ChannelReorgOutOfRange, ReorgOutOfRangePayload{BlockNumber: lastProcessed.Number})
		}
	}

	e.dispatcher.Dispatch(ChannelReorg, *lastFetched)
	return true, nil
}

// handleReorg implements spec §4.4's remediation: refetch the range
// since lastProcessed, report any buffered row whose transaction
// disappeared, clear the buffer, and replay classification over the
// full refetched range.
func (e *EventsEmitter) handleReorg(ctx context.Context, currentBlock BlockHeader) error {
	lastProcessed, err := e.blockTracker.GetLastProcessed(ctx)
	if err != nil {
		return wrapStorage(err)
	}

	var from uint64
	if lastProcessed != nil {
		from = lastProcessed.Number + 1
	} else {
		from = e.opts.StartingBlock.Resolve(currentBlock.Number)
	}
	if from > currentBlock.Number {
		from = currentBlock.Number
	}

	refetched, err := e.fetchRange(ctx, from, currentBlock.Number)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(refetched))
	for _, r := range refetched {
		seen[identityKey(r.TransactionHash.Hex(), r.LogIndex)] = struct{}{}
	}

	bufferedRows, err := e.buffer.FindAll(ctx, e.contract)
	if err != nil {
		return err
	}
	for _, row := range bufferedRows {
		if _, ok := seen[identityKey(row.TransactionHash.Hex(), row.LogIndex)]; ok {
			continue
		}
		record, decErr := row.Record()
		if decErr != nil {
			e.log.Warnw("failed to decode buffered event during reorg", "err", decErr)
			continue
		}
		e.dispatcher.Dispatch(ChannelInvalidConfirmation, InvalidConfirmationPayload{Event: record})
	}

	if err := e.buffer.DestroyAll(ctx, e.contract); err != nil {
		return err
	}

	confirmed, err := e.classifyAndPersist(ctx, currentBlock, refetched)
	if err != nil {
		return err
	}

	if err := e.blockTracker.SetLastFetched(ctx, currentBlock.Ref()); err != nil {
		return wrapStorage(err)
	}

	e.dispatcher.Dispatch(ChannelProgress, ProgressInfo{StepsComplete: 1, TotalSteps: 1, StepFromBlock: from, StepToBlock: currentBlock.Number})
	e.emitConfirmed(ctx, confirmed)
	return nil
}

func identityKey(txHash string, logIndex uint) string {
	return txHash + "#" + strconv.FormatUint(uint64(logIndex), 10)
}

func (e *EventsEmitter) reportTransient(err error) {
	wrapped := wrapTransientRPC(err)
	e.log.Warnw("transient RPC error in fetch cycle, will retry on next head", "err", err)
	e.dispatcher.Dispatch(ChannelError, ErrorPayload{Err: wrapped})
}

func (e *EventsEmitter) reportCycleFailure(err error) {
	var dup *DuplicateEvent
	if errors.As(err, &dup) {
		e.log.Errorw("duplicate event on buffer insert, aborting cycle", "err", err)
	} else {
		e.log.Errorw("fetch cycle failed, cursors unchanged, will retry on next head", "err", err)
	}
	e.dispatcher.Dispatch(ChannelError, ErrorPayload{Err: err})
}
