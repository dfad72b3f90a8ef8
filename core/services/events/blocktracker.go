package events

import "context"

// BlockTrackerStore is the durable key-value surface BlockTracker sits
// on (spec §6): two slots, lastFetchedBlock and lastProcessedBlock,
// scoped per emitter. A concrete implementation lives in core/store.
type BlockTrackerStore interface {
	GetLastFetched(ctx context.Context, scope string) (*BlockRef, error)
	SetLastFetched(ctx context.Context, scope string, ref BlockRef) error
	GetLastProcessed(ctx context.Context, scope string) (*BlockRef, error)

	// SetLastProcessedIfHigher must perform the ifHigher comparison
	// atomically at the storage layer: the hash is always overwritten
	// at the accepted number, but the number only advances when it
	// strictly exceeds the stored one or none is stored yet (spec
	// §4.1).
	SetLastProcessedIfHigher(ctx context.Context, scope string, ref BlockRef) error
}

// BlockTracker persists the two cursors a single EventsEmitter owns
// exclusively (spec §3 "Ownership", §4.1). scope disambiguates
// multiple emitters sharing one store (typically the contract
// address).
type BlockTracker struct {
	store BlockTrackerStore
	scope string
}

// NewBlockTracker builds a BlockTracker scoped to scope (conventionally
// the contract address) against store.
func NewBlockTracker(store BlockTrackerStore, scope string) *BlockTracker {
	return &BlockTracker{store: store, scope: scope}
}

func (t *BlockTracker) GetLastFetched(ctx context.Context) (*BlockRef, error) {
	return t.store.GetLastFetched(ctx, t.scope)
}

func (t *BlockTracker) SetLastFetched(ctx context.Context, ref BlockRef) error {
	return t.store.SetLastFetched(ctx, t.scope, ref)
}

func (t *BlockTracker) GetLastProcessed(ctx context.Context) (*BlockRef, error) {
	return t.store.GetLastProcessed(ctx, t.scope)
}

// SetLastProcessedIfHigher advances lastProcessed only if ref.Number
// is strictly greater than what's stored (or nothing is stored yet).
// Documented trade-off (spec §9 Open Question 2): under
// serialProcessing=false, this can be called before a parallel
// listener for the same event has finished running — the cursor
// therefore represents "dispatched", not "acknowledged". Consumers
// that need strict advance-after-ack semantics must set
// SerialProcessing=true.
func (t *BlockTracker) SetLastProcessedIfHigher(ctx context.Context, ref BlockRef) error {
	return t.store.SetLastProcessedIfHigher(ctx, t.scope, ref)
}
