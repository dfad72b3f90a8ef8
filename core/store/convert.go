package store

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

func toBufferedEvents(rows []bufferedEventRow) []events.BufferedEvent {
	out := make([]events.BufferedEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, events.BufferedEvent{
			ContractAddress:    common.HexToAddress(r.ContractAddress),
			BlockNumber:        r.BlockNumber,
			BlockHash:          common.HexToHash(r.BlockHash),
			TransactionHash:    common.HexToHash(r.TransactionHash),
			LogIndex:           r.LogIndex,
			EventName:          r.EventName,
			TargetConfirmation: r.TargetConfirmation,
			Emitted:            r.Emitted,
			Content:            r.Content,
		})
	}
	return out
}

// isUniqueViolation recognizes Postgres' unique_violation SQLSTATE
// (23505) as surfaced by lib/pq, the database/sql driver whose
// connection is handed to gorm.io/driver/postgres.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
