// Package store provides the gorm-backed persistence the event
// pipeline consumes through core/services/events' BlockTrackerStore
// and ConfirmationBufferRepository interfaces, in the same
// raw-SQL-via-gorm style chainlink's feeds/orm.go uses.
package store

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

// BlockTrackerStore persists the two BlockTracker cursors in a single
// table keyed by scope (spec §6's "key-value with at least two slots
// per emitter scope").
type BlockTrackerStore struct {
	db *gorm.DB
}

func NewBlockTrackerStore(db *gorm.DB) *BlockTrackerStore {
	return &BlockTrackerStore{db: db}
}

var _ events.BlockTrackerStore = (*BlockTrackerStore)(nil)

type blockTrackerRow struct {
	Scope                string `gorm:"column:scope"`
	LastFetchedNumber    sql.NullInt64
	LastFetchedHash      sql.NullString
	LastProcessedNumber  sql.NullInt64
	LastProcessedHash    sql.NullString
}

func (s *BlockTrackerStore) GetLastFetched(ctx context.Context, scope string) (*events.BlockRef, error) {
	row, err := s.selectRow(ctx, scope)
	if err != nil || row == nil || !row.LastFetchedNumber.Valid {
		return nil, err
	}
	return &events.BlockRef{
		Number: uint64(row.LastFetchedNumber.Int64),
		Hash:   common.HexToHash(row.LastFetchedHash.String),
	}, nil
}

func (s *BlockTrackerStore) GetLastProcessed(ctx context.Context, scope string) (*events.BlockRef, error) {
	row, err := s.selectRow(ctx, scope)
	if err != nil || row == nil || !row.LastProcessedNumber.Valid {
		return nil, err
	}
	return &events.BlockRef{
		Number: uint64(row.LastProcessedNumber.Int64),
		Hash:   common.HexToHash(row.LastProcessedHash.String),
	}, nil
}

func (s *BlockTrackerStore) selectRow(ctx context.Context, scope string) (*blockTrackerRow, error) {
	var row blockTrackerRow
	stmt := `
		SELECT scope, last_fetched_number, last_fetched_hash, last_processed_number, last_processed_hash
		FROM block_tracker_state
		WHERE scope = ?
	`
	err := s.db.WithContext(ctx).Raw(stmt, scope).Scan(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "selectRow")
	}
	if row.Scope == "" {
		return nil, nil
	}
	return &row, nil
}

func (s *BlockTrackerStore) SetLastFetched(ctx context.Context, scope string, ref events.BlockRef) error {
	stmt := `
		INSERT INTO block_tracker_state (scope, last_fetched_number, last_fetched_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			last_fetched_number = EXCLUDED.last_fetched_number,
			last_fetched_hash = EXCLUDED.last_fetched_hash
	`
	err := s.db.WithContext(ctx).Exec(stmt, scope, ref.Number, ref.Hash.Hex()).Error
	return errors.Wrap(err, "setLastFetched")
}

// SetLastProcessedIfHigher performs the ifHigher comparison
// atomically in SQL: the hash is always overwritten at the accepted
// number, the number only advances when strictly higher or absent
// (spec §4.1).
func (s *BlockTrackerStore) SetLastProcessedIfHigher(ctx context.Context, scope string, ref events.BlockRef) error {
	stmt := `
		INSERT INTO block_tracker_state (scope, last_processed_number, last_processed_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			last_processed_number = CASE
				WHEN block_tracker_state.last_processed_number IS NULL
					OR EXCLUDED.last_processed_number > block_tracker_state.last_processed_number
				THEN EXCLUDED.last_processed_number
				ELSE block_tracker_state.last_processed_number
			END,
			last_processed_hash = CASE
				WHEN block_tracker_state.last_processed_number IS NULL
					OR EXCLUDED.last_processed_number >= block_tracker_state.last_processed_number
				THEN EXCLUDED.last_processed_hash
				ELSE block_tracker_state.last_processed_hash
			END
	`
	err := s.db.WithContext(ctx).Exec(stmt, scope, ref.Number, ref.Hash.Hex()).Error
	return errors.Wrap(err, "setLastProcessedIfHigher")
}
