package events

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lgtm-migrator/web3-events/core/logger"
)

// Confirmator promotes buffered events as the chain advances (spec
// §4.5, component C5). Per the DESIGN NOTES (§9), it holds only
// non-owning references — a Dispatcher, a repository, and a
// BlockTracker — never a back-edge to the EventsEmitter that created
// it, breaking the cycle the options-based `confirmator` hook would
// otherwise form.
type Confirmator struct {
	contract     common.Address
	buffer       *ConfirmationBuffer
	blockTracker *BlockTracker
	source       LogSource
	dispatcher   *Dispatcher
	metrics      *Metrics
	log          logger.Logger
}

// NewConfirmator wires a Confirmator for one contract. dispatcher is
// the same Dispatcher instance the owning EventsEmitter publishes
// newEvent/progress/reorg on, so subscribers see one ordered stream.
// metrics may be nil to disable instrumentation.
func NewConfirmator(contract common.Address, buffer *ConfirmationBuffer, blockTracker *BlockTracker, source LogSource, dispatcher *Dispatcher, metrics *Metrics, log logger.Logger) *Confirmator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Confirmator{
		contract:     contract,
		buffer:       buffer,
		blockTracker: blockTracker,
		source:       source,
		dispatcher:   dispatcher,
		metrics:      metrics,
		log:          log.Named("confirmator"),
	}
}

// RunConfirmationsRoutine is invoked on every new head (spec §4.5).
// It lists buffered rows for the contract in (blockNumber,
// transactionHash, logIndex) order and, for each, either reports
// progress toward the target confirmation depth, promotes it to
// newEvent, or discovers it was dropped and reports
// invalidConfirmation.
func (c *Confirmator) RunConfirmationsRoutine(ctx context.Context, head BlockHeader) error {
	rows, err := c.buffer.FindAll(ctx, c.contract)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.BufferDepth.Set(float64(len(rows)))
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BlockNumber != rows[j].BlockNumber {
			return rows[i].BlockNumber < rows[j].BlockNumber
		}
		if rows[i].TransactionHash != rows[j].TransactionHash {
			return rows[i].TransactionHash.Hex() < rows[j].TransactionHash.Hex()
		}
		return rows[i].LogIndex < rows[j].LogIndex
	})

	for _, row := range rows {
		if head.Number < row.BlockNumber {
			// Future block after a shallow reorg; handleReorg will
			// clean this up, not us.
			continue
		}
		depth := head.Number - row.BlockNumber

		if depth < row.TargetConfirmation {
			record, err := row.Record()
			if err != nil {
				c.log.Warnw("failed to decode buffered event", "err", err)
				continue
			}
			c.dispatcher.Dispatch(ChannelNewConfirmation, NewConfirmationPayload{
				Event:              record,
				Confirmations:      depth,
				TargetConfirmation: row.TargetConfirmation,
			})
			continue
		}

		exists, err := c.source.TransactionExists(ctx, row.BlockNumber, row.TransactionHash)
		if err != nil {
			c.log.Warnw("failed to verify buffered transaction", "err", err, "txHash", row.TransactionHash)
			continue
		}

		record, decErr := row.Record()
		if decErr != nil {
			c.log.Warnw("failed to decode buffered event", "err", decErr)
			continue
		}

		if !exists {
			c.dispatcher.Dispatch(ChannelInvalidConfirmation, InvalidConfirmationPayload{Event: record})
			if err := c.buffer.DestroyOne(ctx, c.contract, row.TransactionHash, row.LogIndex); err != nil {
				c.log.Warnw("failed to delete invalidated buffered event", "err", err)
			}
			continue
		}

		c.dispatcher.Dispatch(ChannelNewEvent, record)
		if err := c.blockTracker.SetLastProcessedIfHigher(ctx, BlockRef{Number: row.BlockNumber, Hash: row.BlockHash}); err != nil {
			c.log.Warnw("failed to advance lastProcessed", "err", err)
		}
		if err := c.buffer.DestroyOne(ctx, c.contract, row.TransactionHash, row.LogIndex); err != nil {
			c.log.Warnw("failed to delete promoted buffered event", "err", err)
		}
	}
	return nil
}
