package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/onsi/gomega"
	"github.com/stretchr/testify/require"

	"github.com/lgtm-migrator/web3-events/core/services/events"
)

func TestAutoEventsEmitter_Start_DrainsHistoryThenFollowsPushedHeads(t *testing.T) {
	ctx := context.Background()
	contract := common.HexToAddress("0xC0FFEE")
	txGenesis := common.HexToHash("0xG")
	txNew := common.HexToHash("0xN")
	h5 := common.HexToHash("0xb5")
	h6 := common.HexToHash("0xb6")

	source := newFakeLogSourceFull()
	source.setLatest(events.BlockHeader{Number: 5, Hash: h5})
	source.setLogs(0, 5, []types.Log{
		{BlockNumber: 2, TxHash: txGenesis, Index: 0},
	})

	opts := events.DefaultOptions(contract)
	opts.Events = []string{""}
	opts.BatchSize = 1000

	trackerStore := newFakeBlockTrackerStore()
	tracker := events.NewBlockTracker(trackerStore, contract.Hex())
	buf := events.NewConfirmationBuffer(newFakeBufferRepository())

	emitter, err := events.NewEventsEmitter(opts, source, passthroughDecoder{}, tracker, buf, nil)
	require.NoError(t, err)

	producer := events.NewListeningBlockProducer(nil)
	auto := events.NewAutoEventsEmitter(emitter, nil, producer, opts, nil, nil)

	var seenTxs []common.Hash
	var mu sync.Mutex
	auto.Subscribe(events.ChannelNewEvent, func(p interface{}) error {
		mu.Lock()
		seenTxs = append(seenTxs, p.(events.LogRecord).TransactionHash)
		mu.Unlock()
		return nil
	})

	auto.Start(ctx)
	g := gomega.NewGomegaWithT(t)
	g.Eventually(func() []common.Hash {
		mu.Lock()
		defer mu.Unlock()
		out := make([]common.Hash, len(seenTxs))
		copy(out, seenTxs)
		return out
	}, time.Second).Should(gomega.Equal([]common.Hash{txGenesis}))

	// A new head arrives with one more block of logs; onNewHead must
	// run another fetch cycle under the same gate.
	source.setLatest(events.BlockHeader{Number: 6, Hash: h6})
	source.setLogs(6, 6, []types.Log{
		{BlockNumber: 6, TxHash: txNew, Index: 0},
	})
	producer.Push(events.BlockHeader{Number: 6, Hash: h6})

	g.Eventually(func() []common.Hash {
		mu.Lock()
		defer mu.Unlock()
		out := make([]common.Hash, len(seenTxs))
		copy(out, seenTxs)
		return out
	}, time.Second).Should(gomega.Equal([]common.Hash{txGenesis, txNew}))

	auto.Stop()
}

func TestAutoEventsEmitter_ReplayFromBlock_ResetsLastFetched(t *testing.T) {
	ctx := context.Background()
	contract := common.HexToAddress("0xC0FFEE")
	h9 := common.HexToHash("0xb9")

	source := newFakeLogSourceFull()
	source.setHeader(events.BlockHeader{Number: 9, Hash: h9})
	source.setLatest(events.BlockHeader{Number: 10})

	opts := events.DefaultOptions(contract)
	opts.Events = []string{""}

	trackerStore := newFakeBlockTrackerStore()
	tracker := events.NewBlockTracker(trackerStore, contract.Hex())
	buf := events.NewConfirmationBuffer(newFakeBufferRepository())

	emitter, err := events.NewEventsEmitter(opts, source, passthroughDecoder{}, tracker, buf, nil)
	require.NoError(t, err)

	producer := events.NewListeningBlockProducer(nil)
	auto := events.NewAutoEventsEmitter(emitter, nil, producer, opts, nil, nil)

	require.NoError(t, auto.ReplayFromBlock(ctx, 10))

	lastFetched, err := tracker.GetLastFetched(ctx)
	require.NoError(t, err)
	require.NotNil(t, lastFetched)
	require.Equal(t, uint64(9), lastFetched.Number, "replay resets lastFetched to the block preceding the requested restart point")
}
