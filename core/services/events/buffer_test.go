package events_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

// fakeBufferRepository is an in-memory events.ConfirmationBufferRepository,
// reproducing the one invariant worth testing faithfully: a unique
// (contract, txHash, logIndex) violation surfaces as *DuplicateEvent
// and rolls back the whole BulkInsert call.
type fakeBufferRepository struct {
	mu   sync.Mutex
	rows map[string]events.BufferedEvent
}

func newFakeBufferRepository() *fakeBufferRepository {
	return &fakeBufferRepository{rows: map[string]events.BufferedEvent{}}
}

func bufferKey(contract, txHash string, logIndex uint) string {
	return fmt.Sprintf("%s/%s/%d", contract, txHash, logIndex)
}

func (f *fakeBufferRepository) BulkInsert(ctx context.Context, rows []events.BufferedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := map[string]events.BufferedEvent{}
	for _, r := range rows {
		key := bufferKey(r.ContractAddress.Hex(), r.TransactionHash.Hex(), r.LogIndex)
		if _, exists := f.rows[key]; exists {
			return &events.DuplicateEvent{
				ContractAddress: r.ContractAddress.Hex(),
				TransactionHash: r.TransactionHash.Hex(),
				LogIndex:        r.LogIndex,
			}
		}
		staged[key] = r
	}
	for k, v := range staged {
		f.rows[k] = v
	}
	return nil
}

func (f *fakeBufferRepository) FindAll(ctx context.Context, contract string) ([]events.BufferedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.BufferedEvent
	for _, r := range f.rows {
		if r.ContractAddress.Hex() == contract {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeBufferRepository) DestroyAll(ctx context.Context, contract string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, r := range f.rows {
		if r.ContractAddress.Hex() == contract {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeBufferRepository) DestroyOne(ctx context.Context, contract string, txHash string, logIndex uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, bufferKey(contract, txHash, logIndex))
	return nil
}

func TestConfirmationBuffer_Insert_RoundTripsRecordContent(t *testing.T) {
	repo := newFakeBufferRepository()
	buf := events.NewConfirmationBuffer(repo)
	ctx := context.Background()
	contract := common.HexToAddress("0xC0FFEE")

	record := events.LogRecord{
		BlockNumber:     100,
		BlockHash:       common.HexToHash("0xBLOCK"),
		TransactionHash: common.HexToHash("0xTX"),
		LogIndex:        3,
		EventName:       "Transfer",
	}
	require.NoError(t, buf.Insert(ctx, contract, 12, []events.LogRecord{record}))

	rows, err := buf.FindAll(ctx, contract)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(12), rows[0].TargetConfirmation)

	decoded, err := rows[0].Record()
	require.NoError(t, err)
	assert.Equal(t, record.TransactionHash, decoded.TransactionHash)
	assert.Equal(t, record.EventName, decoded.EventName)
}

func TestConfirmationBuffer_Insert_DuplicateSurfacesAsDuplicateEvent(t *testing.T) {
	repo := newFakeBufferRepository()
	buf := events.NewConfirmationBuffer(repo)
	ctx := context.Background()
	contract := common.HexToAddress("0xC0FFEE")

	record := events.LogRecord{
		BlockNumber:     100,
		TransactionHash: common.HexToHash("0xTX"),
		LogIndex:        3,
	}
	require.NoError(t, buf.Insert(ctx, contract, 12, []events.LogRecord{record}))

	err := buf.Insert(ctx, contract, 12, []events.LogRecord{record})
	require.Error(t, err)
	var dup *events.DuplicateEvent
	assert.ErrorAs(t, err, &dup)
}

func TestConfirmationBuffer_DestroyOne_RemovesOnlyThatRow(t *testing.T) {
	repo := newFakeBufferRepository()
	buf := events.NewConfirmationBuffer(repo)
	ctx := context.Background()
	contract := common.HexToAddress("0xC0FFEE")

	r1 := events.LogRecord{TransactionHash: common.HexToHash("0xA"), LogIndex: 1}
	r2 := events.LogRecord{TransactionHash: common.HexToHash("0xB"), LogIndex: 2}
	require.NoError(t, buf.Insert(ctx, contract, 1, []events.LogRecord{r1, r2}))

	require.NoError(t, buf.DestroyOne(ctx, contract, r1.TransactionHash, r1.LogIndex))

	rows, err := buf.FindAll(ctx, contract)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, r2.TransactionHash, rows[0].TransactionHash)
}
