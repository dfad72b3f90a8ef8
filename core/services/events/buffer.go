package events

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ConfirmationBufferRepository is the relational persistence surface
// for buffered events (spec §6). A concrete gorm-backed implementation
// lives in core/store.
//
// BulkInsert must fail atomically on a unique-constraint violation
// (contractAddress, transactionHash, logIndex) and return a
// *DuplicateEvent identifying the offending row; no partial insert may
// remain. FindAll returns rows ordered by (blockNumber,
// transactionHash, logIndex) per the Confirmator ordering guarantee
// (spec §4.5).
type ConfirmationBufferRepository interface {
	BulkInsert(ctx context.Context, rows []BufferedEvent) error
	FindAll(ctx context.Context, contract string) ([]BufferedEvent, error)
	DestroyAll(ctx context.Context, contract string) error
	DestroyOne(ctx context.Context, contract string, txHash string, logIndex uint) error
}

// ConfirmationBuffer is the typed wrapper EventsEmitter and
// Confirmator share (spec component C4): it owns the serialization
// format (LogRecord <-> opaque Content) so the repository itself
// stays a dumb relational store.
type ConfirmationBuffer struct {
	repo ConfirmationBufferRepository
}

func NewConfirmationBuffer(repo ConfirmationBufferRepository) *ConfirmationBuffer {
	return &ConfirmationBuffer{repo: repo}
}

// Insert buffers records that haven't yet reached targetConfirmation.
// A DuplicateEvent from the repository is returned unwrapped so the
// caller can apply the recovery-mode tolerance from spec §5.
func (b *ConfirmationBuffer) Insert(ctx context.Context, contract common.Address, targetConfirmation uint64, records []LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]BufferedEvent, 0, len(records))
	for _, r := range records {
		content, err := encodeLogRecord(r)
		if err != nil {
			return wrapStorage(err)
		}
		rows = append(rows, BufferedEvent{
			ContractAddress:    contract,
			BlockNumber:        r.BlockNumber,
			BlockHash:          r.BlockHash,
			TransactionHash:    r.TransactionHash,
			LogIndex:           r.LogIndex,
			EventName:          r.EventName,
			TargetConfirmation: targetConfirmation,
			Content:            content,
		})
	}
	return b.repo.BulkInsert(ctx, rows)
}

// FindAll returns every row buffered for contract, in confirmator
// order.
func (b *ConfirmationBuffer) FindAll(ctx context.Context, contract common.Address) ([]BufferedEvent, error) {
	rows, err := b.repo.FindAll(ctx, contract.Hex())
	if err != nil {
		return nil, wrapStorage(err)
	}
	return rows, nil
}

// DestroyAll clears every row buffered for contract (used by
// handleReorg, spec §4.4).
func (b *ConfirmationBuffer) DestroyAll(ctx context.Context, contract common.Address) error {
	return wrapStorageIfErr(b.repo.DestroyAll(ctx, contract.Hex()))
}

// DestroyOne removes a single row once it has been promoted or
// invalidated.
func (b *ConfirmationBuffer) DestroyOne(ctx context.Context, contract common.Address, txHash common.Hash, logIndex uint) error {
	return wrapStorageIfErr(b.repo.DestroyOne(ctx, contract.Hex(), txHash.Hex(), logIndex))
}

func wrapStorageIfErr(err error) error {
	if err == nil {
		return nil
	}
	return wrapStorage(err)
}
