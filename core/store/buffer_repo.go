package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

// BufferRepository is the gorm-backed ConfirmationBufferRepository
// (spec §6, component C4), modeled on feeds/orm.go's raw-SQL style.
type BufferRepository struct {
	db *gorm.DB
}

func NewBufferRepository(db *gorm.DB) *BufferRepository {
	return &BufferRepository{db: db}
}

var _ events.ConfirmationBufferRepository = (*BufferRepository)(nil)

type bufferedEventRow struct {
	ContractAddress    string
	BlockNumber        uint64
	BlockHash          string
	TransactionHash    string
	LogIndex           uint
	EventName          string
	TargetConfirmation uint64
	Emitted            bool
	Content            []byte
}

// BulkInsert writes every row in a single transaction; a unique
// constraint violation on (contract_address, transaction_hash,
// log_index) rolls back the whole batch and surfaces as
// *events.DuplicateEvent (spec §7).
func (r *BufferRepository) BulkInsert(ctx context.Context, rows []events.BufferedEvent) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := `
			INSERT INTO buffered_events
				(contract_address, block_number, block_hash, transaction_hash, log_index, event_name, target_confirmation, emitted, content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		for _, row := range rows {
			err := tx.Exec(stmt,
				row.ContractAddress.Hex(),
				row.BlockNumber,
				row.BlockHash.Hex(),
				row.TransactionHash.Hex(),
				row.LogIndex,
				row.EventName,
				row.TargetConfirmation,
				row.Emitted,
				row.Content,
			).Error
			if isUniqueViolation(err) {
				return &events.DuplicateEvent{
					ContractAddress: row.ContractAddress.Hex(),
					TransactionHash: row.TransactionHash.Hex(),
					LogIndex:        row.LogIndex,
				}
			}
			if err != nil {
				return errors.Wrap(err, "bulkInsert")
			}
		}
		return nil
	})
}

func (r *BufferRepository) FindAll(ctx context.Context, contract string) ([]events.BufferedEvent, error) {
	stmt := `
		SELECT contract_address, block_number, block_hash, transaction_hash, log_index, event_name, target_confirmation, emitted, content
		FROM buffered_events
		WHERE contract_address = ?
		ORDER BY block_number, transaction_hash, log_index
	`
	var rawRows []bufferedEventRow
	if err := r.db.WithContext(ctx).Raw(stmt, contract).Scan(&rawRows).Error; err != nil {
		return nil, errors.Wrap(err, "findAll")
	}
	return toBufferedEvents(rawRows), nil
}

func (r *BufferRepository) DestroyAll(ctx context.Context, contract string) error {
	err := r.db.WithContext(ctx).Exec(`DELETE FROM buffered_events WHERE contract_address = ?`, contract).Error
	return errors.Wrap(err, "destroyAll")
}

func (r *BufferRepository) DestroyOne(ctx context.Context, contract string, txHash string, logIndex uint) error {
	stmt := `DELETE FROM buffered_events WHERE contract_address = ? AND transaction_hash = ? AND log_index = ?`
	err := r.db.WithContext(ctx).Exec(stmt, contract, txHash, logIndex).Error
	return errors.Wrap(err, "destroyOne")
}
