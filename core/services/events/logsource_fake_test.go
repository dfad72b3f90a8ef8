package events_test

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

// fakeLogSource is a hand-rolled events.LogSource used across this
// package's tests in place of a generated mock: it holds a small
// in-memory chain (header-by-number) and a set of raw logs per
// [from,to] range, plus which transaction hashes are still considered
// mined.
type fakeLogSource struct {
	mu          sync.Mutex
	headers     map[uint64]events.BlockHeader
	latest      events.BlockHeader
	logsByRange map[[2]uint64][]types.Log
	minedTxs    map[common.Hash]uint64 // txHash -> blockNumber
}

func newFakeLogSourceFull() *fakeLogSource {
	return &fakeLogSource{
		headers:     map[uint64]events.BlockHeader{},
		logsByRange: map[[2]uint64][]types.Log{},
		minedTxs:    map[common.Hash]uint64{},
	}
}

func (f *fakeLogSource) setHeader(h events.BlockHeader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[h.Number] = h
}

func (f *fakeLogSource) setLatest(h events.BlockHeader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers[h.Number] = h
	f.latest = h
}

func (f *fakeLogSource) setLogs(from, to uint64, logs []types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsByRange[[2]uint64{from, to}] = logs
	for _, l := range logs {
		f.minedTxs[l.TxHash] = l.BlockNumber
	}
}

func (f *fakeLogSource) dropTx(txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.minedTxs, txHash)
}

func (f *fakeLogSource) GetPastLogs(ctx context.Context, fromBlock, toBlock uint64, addr common.Address, topics [][]common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logsByRange[[2]uint64{fromBlock, toBlock}], nil
}

func (f *fakeLogSource) GetBlock(ctx context.Context, number *uint64) (events.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number == nil {
		return f.latest, nil
	}
	h, ok := f.headers[*number]
	if !ok {
		return events.BlockHeader{Number: *number}, nil
	}
	return h, nil
}

func (f *fakeLogSource) TransactionExists(ctx context.Context, blockNumber uint64, txHash common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	minedAt, ok := f.minedTxs[txHash]
	return ok && minedAt == blockNumber, nil
}

// passthroughDecoder reports an empty event name and no payload for
// every raw log — sufficient for tests that only care about routing,
// not ABI decoding.
type passthroughDecoder struct{}

func (passthroughDecoder) Decode(log types.Log) (string, interface{}, error) {
	return "", nil, nil
}

// namedDecoder reports an event name derived from a Topics[0] lookup
// table, for tests exercising the client-side Events filter.
type namedDecoder struct {
	names map[common.Hash]string
}

func (d namedDecoder) Decode(log types.Log) (string, interface{}, error) {
	if len(log.Topics) == 0 {
		return "", nil, nil
	}
	return d.names[log.Topics[0]], nil, nil
}
