// Package events implements the contract-log event pipeline: batched
// historical catch-up, polling forward progress, reorg detection and
// remediation, and a two-stage confirmation buffer that only hands
// events to consumers once they are buried deep enough in the chain.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRef identifies a block by number and hash. Equality between
// two refs at the same number but different hashes is exactly the
// signal a reorg happened.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

func (r BlockRef) String() string {
	return fmt.Sprintf("#%d (%s)", r.Number, r.Hash.Hex())
}

// Equal reports whether both refs name the same block.
func (r BlockRef) Equal(other BlockRef) bool {
	return r.Number == other.Number && r.Hash == other.Hash
}

// BlockHeader is the minimal header shape the pipeline needs from the
// chain client: a number and a hash. LogSource.GetBlock and
// NewBlockProducer both traffic in this type.
type BlockHeader struct {
	Number uint64
	Hash   common.Hash
}

func (h BlockHeader) Ref() BlockRef {
	return BlockRef{Number: h.Number, Hash: h.Hash}
}

// LogRecord is a decoded contract-log event as handed to the pipeline
// by the (out-of-scope) ABI registry/decoder. Its identity is
// (TransactionHash, LogIndex); (BlockNumber, TransactionHash,
// LogIndex) is also unique.
type LogRecord struct {
	BlockNumber     uint64
	BlockHash       common.Hash
	TransactionHash common.Hash
	LogIndex        uint
	EventName       string
	Topics          []common.Hash
	DecodedPayload  interface{}
}

// Identity returns the (transactionHash, logIndex) pair that uniquely
// identifies this log within a contract's event stream.
func (l LogRecord) Identity() (common.Hash, uint) {
	return l.TransactionHash, l.LogIndex
}

// BufferedEvent is the persisted row backing the confirmation buffer
// (spec §3). Rows exist only while depth < TargetConfirmation, or
// until a reorg discards them.
type BufferedEvent struct {
	ContractAddress    common.Address
	BlockNumber         uint64
	BlockHash           common.Hash
	TransactionHash     common.Hash
	LogIndex            uint
	EventName           string
	TargetConfirmation  uint64
	Emitted             bool
	Content             []byte // serialized LogRecord
}

// Record deserializes Content back into a LogRecord. The content
// format (CBOR) is an implementation detail owned by ConfirmationBuffer;
// callers should not parse Content directly.
func (b BufferedEvent) Record() (LogRecord, error) {
	return decodeLogRecord(b.Content)
}

// ProgressInfo describes one fetched batch's position in the overall
// catch-up run. Emitted once per batch on the progress channel.
type ProgressInfo struct {
	StepsComplete int
	TotalSteps    int
	StepFromBlock uint64
	StepToBlock   uint64
}

// Batch pairs one fetched range's ProgressInfo with the
// already-confirmed events of that range; buffered events are not
// part of it. EventsEmitter.Fetch does not return Batches: it reports
// the same information on ChannelProgress and ChannelNewEvent.
type Batch struct {
	ProgressInfo
	Events []LogRecord
}

// Channel names the typed pub/sub topics a Subscription binds to.
type Channel string

const (
	ChannelNewEvent            Channel = "newEvent"
	ChannelProgress            Channel = "progress"
	ChannelReorg               Channel = "reorg"
	ChannelReorgOutOfRange     Channel = "reorgOutOfRange"
	ChannelNewConfirmation     Channel = "newConfirmation"
	ChannelInvalidConfirmation Channel = "invalidConfirmation"
	ChannelInitFinished        Channel = "initFinished"
	ChannelError               Channel = "error"
)

// NewConfirmationPayload is delivered on ChannelNewConfirmation each
// time a buffered event's depth advances but has not yet reached its
// target.
type NewConfirmationPayload struct {
	Event              LogRecord
	Confirmations      uint64
	TargetConfirmation uint64
}

// InvalidConfirmationPayload is delivered on ChannelInvalidConfirmation
// when a buffered event's transaction is found to have been dropped by
// a reorg.
type InvalidConfirmationPayload struct {
	Event LogRecord
}

// ReorgOutOfRangePayload is delivered on ChannelReorgOutOfRange when a
// reorg reaches behind lastProcessed, i.e. it may have invalidated
// events already handed to consumers.
type ReorgOutOfRangePayload struct {
	BlockNumber uint64
}

// ErrorPayload is delivered on ChannelError for every failure the core
// swallows internally instead of propagating (spec §7).
type ErrorPayload struct {
	Err error
}
